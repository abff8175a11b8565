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

package provision

import (
	"context"
	"io"

	"github.com/netscale/netscale/orchestrator/model"
)

// Provisioner creates and destroys controller instances. Creation failures
// wrap model.ErrProvision, destroying an unknown instance returns
// model.ErrNotFound.
type Provisioner interface {
	io.Closer

	CreateInstance(ctx context.Context) (model.InstanceInfo, error)
	DestroyInstance(ctx context.Context, instanceID string) error

	// List returns the running instances owned by this provisioner
	List(ctx context.Context) ([]model.InstanceInfo, error)
}
