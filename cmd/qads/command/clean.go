/*
 * Copyright 2025 The qadataswap Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yutiansut/qadataswap/internal/shm"
)

// A producer that crashes without Close leaves its region and semaphore
// names linked in the kernel. Nothing in-band can detect that; clean is the
// out-of-band recovery path.
func NewCleanCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "clean [name]",
		Short: "unlink a region and its semaphores (stale-owner recovery)",
		Run:   runClean,
	}
	c.Flags().Bool("all", false, "unlink every qads_* region in the directory and its two semaphores")
	return c
}

func runClean(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	switch {
	case all:
		names, err := scanRegionNames()
		if err != nil {
			exitWithError(err)
		}
		for _, name := range names {
			cleanOne(name)
		}
	case len(args) == 1:
		cleanOne(args[0])
	default:
		exitWithError(fmt.Errorf("need a region name or --all"))
	}
}

func cleanOne(name string) {
	if err := shm.UnlinkRegion(name); err != nil {
		exitWithError(err)
	}
	if err := shm.UnlinkSemaphore(shm.FreeSemKernelName(name)); err != nil {
		exitWithError(err)
	}
	if err := shm.UnlinkSemaphore(shm.ReadySemKernelName(name)); err != nil {
		exitWithError(err)
	}
	fmt.Printf("unlinked %s\n", shm.RegionKernelName(name))
}
