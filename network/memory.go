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
	"sync"

	"github.com/pkg/errors"

	"github.com/netscale/netscale/orchestrator/model"
)

// Memory is an in-process network used for dry runs and tests. It keeps the
// role of every controller towards every switch.
type Memory struct {
	sync.Mutex

	switches  []string
	endpoints []string
	roles     map[string]map[string]model.AuthorityRole
	// Instances that do not answer role requests
	unreachable map[string]bool
	calls       int
}

func NewMemory(switches ...string) *Memory {
	return &Memory{
		switches:    append([]string(nil), switches...),
		roles:       map[string]map[string]model.AuthorityRole{},
		unreachable: map[string]bool{},
	}
}

func (m *Memory) Switches(context.Context) ([]string, error) {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.switches...), nil
}

func (m *Memory) AddSwitch(id string) {
	m.Lock()
	defer m.Unlock()
	m.switches = append(m.switches, id)
}

func (m *Memory) Connect(_ context.Context, endpoints []string) error {
	m.Lock()
	defer m.Unlock()
	m.endpoints = append([]string(nil), endpoints...)
	return nil
}

func (m *Memory) Endpoints() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.endpoints...)
}

func (m *Memory) SetAuthority(ctx context.Context, switchID string, instance model.InstanceInfo,
	role model.AuthorityRole, _ uint64) error {
	m.Lock()
	defer m.Unlock()
	m.calls++

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.unreachable[instance.ID] {
		return errors.Errorf("controller %s is unreachable", instance.ID)
	}

	roles, ok := m.roles[switchID]
	if !ok {
		roles = map[string]model.AuthorityRole{}
		m.roles[switchID] = roles
	}
	current, ok := roles[instance.ID]
	if !ok {
		current = model.AuthorityEqual
	}
	if err := model.ValidateAuthorityTransition(current, role); err != nil {
		return err
	}
	roles[instance.ID] = role
	return nil
}

func (m *Memory) SetUnreachable(instanceID string, unreachable bool) {
	m.Lock()
	defer m.Unlock()
	m.unreachable[instanceID] = unreachable
}

// Masters returns, per switch, the controllers currently holding the MASTER role.
func (m *Memory) Masters() map[string][]string {
	m.Lock()
	defer m.Unlock()

	res := map[string][]string{}
	for sw, roles := range m.roles {
		for instance, role := range roles {
			if role == model.AuthorityMaster {
				res[sw] = append(res[sw], instance)
			}
		}
	}
	return res
}

func (m *Memory) Calls() int {
	m.Lock()
	defer m.Unlock()
	return m.calls
}

func (m *Memory) Forget(instanceID string) {
	m.Lock()
	defer m.Unlock()
	for _, roles := range m.roles {
		delete(roles, instanceID)
	}
}

func (m *Memory) Close() error {
	return nil
}
