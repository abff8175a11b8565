// Copyright 2025 The netscale Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/netscale/netscale/cmd/client"
	"github.com/netscale/netscale/cmd/health"
	"github.com/netscale/netscale/cmd/orchestrator"
	"github.com/netscale/netscale/common/logging"
	"github.com/netscale/netscale/common/process"
)

var (
	rootCmd = &cobra.Command{
		Use:               "netscale",
		Short:             "SDN controller orchestrator",
		Long:              `Scales a pool of OpenFlow controller instances and balances switch mastership across them`,
		PersistentPreRun:  configureLogger,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}
)

func init() {
	rootCmd.PersistentFlags().VarP(logging.LogLevelValue{}, "log-level", "l", "Set logging level [debug|info|warn|error]")
	rootCmd.PersistentFlags().BoolVarP(&logging.LogJSON, "log-json", "j", false, "Print logs in JSON format")
	rootCmd.PersistentFlags().BoolVar(&process.PprofEnable, "profile", false, "Enable pprof profiler")
	rootCmd.PersistentFlags().StringVar(&process.PprofBindAddress, "profile-bind-address", "127.0.0.1:6060", "Bind address for pprof")

	rootCmd.AddCommand(orchestrator.Cmd)
	rootCmd.AddCommand(client.Cmd)
	rootCmd.AddCommand(health.Cmd)
}

func configureLogger(*cobra.Command, []string) {
	logging.ConfigureLogger()
}

func main() {
	process.DoWithLabels(
		context.Background(),
		map[string]string{
			"netscale": "main",
		},
		func() {
			if _, err := maxprocs.Set(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if err := rootCmd.Execute(); err != nil {
				_, _ = fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	)
}
