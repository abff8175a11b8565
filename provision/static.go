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
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/netscale/netscale/orchestrator/model"
)

// Static hands out controllers from a fixed pool of already running
// processes. Destroying an instance only returns it to the pool.
type Static struct {
	sync.Mutex

	pool  []model.InstanceInfo
	inUse map[string]bool
	log   *slog.Logger
}

// NewStatic marks the first adopt instances of the pool as already in use.
func NewStatic(pool []model.InstanceInfo, adopt int) *Static {
	s := &Static{
		pool:  append([]model.InstanceInfo(nil), pool...),
		inUse: map[string]bool{},
		log: slog.With(
			slog.String("component", "static-provisioner"),
		),
	}
	for i := 0; i < adopt && i < len(pool); i++ {
		s.inUse[pool[i].ID] = true
	}
	return s
}

func (s *Static) CreateInstance(context.Context) (model.InstanceInfo, error) {
	s.Lock()
	defer s.Unlock()

	for _, i := range s.pool {
		if !s.inUse[i.ID] {
			s.inUse[i.ID] = true
			s.log.Info(
				"Allocated controller from pool",
				slog.String("instance-id", i.ID),
			)
			return i, nil
		}
	}
	return model.InstanceInfo{}, errors.Wrap(model.ErrProvision, "controller pool exhausted")
}

func (s *Static) DestroyInstance(_ context.Context, instanceID string) error {
	s.Lock()
	defer s.Unlock()

	if !s.inUse[instanceID] {
		return errors.Wrapf(model.ErrNotFound, "instance %s", instanceID)
	}
	delete(s.inUse, instanceID)
	return nil
}

func (s *Static) List(context.Context) ([]model.InstanceInfo, error) {
	s.Lock()
	defer s.Unlock()

	var res []model.InstanceInfo
	for _, i := range s.pool {
		if s.inUse[i.ID] {
			res = append(res, i)
		}
	}
	return res, nil
}

func (*Static) Close() error {
	return nil
}
