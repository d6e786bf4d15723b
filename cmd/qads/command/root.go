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
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags are also settable through the environment: --shm-dir becomes
// QADS_SHM_DIR, --json becomes QADS_JSON.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "qads",
		Short:         "inspect and clean qadataswap shared-memory rings",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if dir := viper.GetString("shm-dir"); dir != "" {
				// The library resolves object paths through this variable.
				os.Setenv("QADS_SHM_DIR", dir)
			}
			if viper.GetBool("verbose") {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().String("shm-dir", "", "directory holding qads_* objects (default /dev/shm)")
	root.PersistentFlags().Bool("json", false, "emit machine-readable JSON")
	root.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	viper.SetEnvPrefix("qads")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(root.PersistentFlags())

	root.AddCommand(
		NewListCommand(),
		NewInfoCommand(),
		NewCleanCommand(),
		NewVersionCommand(),
	)
	return root
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "qads:", err)
	os.Exit(1)
}
