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
	controllerCmd = &cobra.Command{
		Use:   "controller",
		Short: "Add or remove controller instances",
	}

	addCmd = &cobra.Command{
		Use:   "add",
		Short: "Provision a new controller instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ack, err := newClient().AddInstance(cmd.Context())
			if err != nil {
				return err
			}
			printAck(cmd, ack)
			return nil
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove <instance-id>",
		Short: "Hand over the switches of an instance and destroy it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, err := newClient().RemoveInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAck(cmd, ack)
			return nil
		},
	}
)

func init() {
	controllerCmd.AddCommand(addCmd)
	controllerCmd.AddCommand(removeCmd)
}
