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
	"github.com/spf13/cobra"
)

var (
	balancerCmd = &cobra.Command{
		Use:   "balancer",
		Short: "Activate or deactivate the load balancer",
	}

	activateCmd = &cobra.Command{
		Use:   "activate",
		Short: "Activate autoscaling and round-robin switch balancing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ack, err := newClient().ActivateLoadBalancer(cmd.Context())
			if err != nil {
				return err
			}
			printAck(cmd, ack)
			return nil
		},
	}

	deactivateCmd = &cobra.Command{
		Use:   "deactivate",
		Short: "Stop autoscaling, leaving the current assignment in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ack, err := newClient().DeactivateLoadBalancer(cmd.Context())
			if err != nil {
				return err
			}
			printAck(cmd, ack)
			return nil
		},
	}
)

func init() {
	balancerCmd.AddCommand(activateCmd)
	balancerCmd.AddCommand(deactivateCmd)
}
