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
	"runtime"

	"github.com/spf13/cobra"

	"github.com/yutiansut/qadataswap/internal/shm"
)

// Set via -ldflags at release time.
var (
	Version = "dev"
	GitSHA  = ""
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version and protocol information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qads %s", Version)
			if GitSHA != "" {
				fmt.Printf(" (%s)", GitSHA)
			}
			fmt.Printf("\nprotocol version %d, magic 0x%08x\n", shm.Version, shm.Magic)
			fmt.Printf("%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
