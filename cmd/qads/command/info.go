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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yutiansut/qadataswap/internal/shm"
)

func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "dump a region's control block",
		Args:  cobra.ExactArgs(1),
		Run:   runInfo,
	}
}

func runInfo(cmd *cobra.Command, args []string) {
	name := args[0]
	region, err := shm.OpenRegion(name)
	if err != nil {
		exitWithError(err)
	}
	defer func() {
		if err := region.Close(); err != nil {
			slog.Debug("close region", "name", name, "err", err)
		}
	}()

	hdr := shm.HeaderOf(region.Mem)
	geo, err := shm.ValidateHeader(hdr, region.Size())
	if err != nil {
		exitWithError(err)
	}

	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(probeRegion(name)); err != nil {
			exitWithError(err)
		}
		return
	}

	fmt.Printf("region        %s\n", shm.RegionKernelName(name))
	fmt.Printf("path          %s\n", region.Path)
	fmt.Printf("magic         0x%08x (version %d)\n", hdr.Magic(), hdr.Version())
	fmt.Printf("total size    %d\n", geo.TotalSize)
	fmt.Printf("header size   %d\n", geo.HeaderSize)
	fmt.Printf("slots         %d x %d bytes @ offset %d\n", geo.BufferCount, geo.BufferSize, geo.BuffersOffset)
	fmt.Printf("write seq     %d\n", hdr.WriteSequence())
	fmt.Printf("read seq      %d\n", hdr.ReadSequence())
	fmt.Printf("writer active %v\n", hdr.WriterActive())
	fmt.Printf("readers       %d\n", hdr.ReaderCount())
	fmt.Printf("free sem      %s\n", hdr.FreeSemName())
	fmt.Printf("ready sem     %s\n", hdr.ReadySemName())
}
