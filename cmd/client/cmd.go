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

package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/netscale/netscale/orchestrator"
	"github.com/netscale/netscale/orchestrator/api"
)

var (
	serviceAddr string
	timeout     time.Duration

	Cmd = &cobra.Command{
		Use:   "client",
		Short: "Control a running orchestrator",
		Long:  `Query the status of a running orchestrator and send it operator commands`,
	}
)

func init() {
	defaultServiceAddress := fmt.Sprintf("localhost:%d", orchestrator.DefaultServicePort)
	Cmd.PersistentFlags().StringVarP(&serviceAddr, "service-address", "a", defaultServiceAddress, "Orchestrator REST address")
	Cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(balancerCmd)
	Cmd.AddCommand(controllerCmd)
}

func newClient() *api.Client {
	return api.NewClient(serviceAddr, timeout)
}

func printAck(cmd *cobra.Command, ack api.Ack) {
	if ack.InstanceID != "" {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s accepted\n", ack.Command, ack.InstanceID)
		return
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s accepted\n", ack.Command)
}
