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

package network

import (
	"context"
	"io"

	"go.uber.org/multierr"

	"github.com/netscale/netscale/orchestrator/model"
)

// Discovery enumerates switches and wires them to controller endpoints.
type Discovery interface {
	Switches(ctx context.Context) ([]string, error)
	// Connect points every switch at all the given OpenFlow endpoints
	Connect(ctx context.Context, endpoints []string) error
}

// Authority instructs a controller to take a role towards a switch.
type Authority interface {
	SetAuthority(ctx context.Context, switchID string, instance model.InstanceInfo,
		role model.AuthorityRole, generation uint64) error
}

type Network interface {
	io.Closer
	Discovery
	Authority

	// Forget drops the state kept for a removed instance
	Forget(instanceID string)
}

type network struct {
	Discovery
	Authority
}

// New composes a switch discovery mechanism with a role client.
func New(discovery Discovery, authority Authority) Network {
	return &network{
		Discovery: discovery,
		Authority: authority,
	}
}

func (n *network) Forget(instanceID string) {
	if f, ok := n.Authority.(interface{ Forget(string) }); ok {
		f.Forget(instanceID)
	}
}

func (n *network) Close() error {
	var err error
	if c, ok := n.Discovery.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := n.Authority.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
