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
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/netscale/netscale/orchestrator/model"
)

// Memory provisions imaginary controllers. It is used for dry runs and tests.
type Memory struct {
	sync.Mutex

	next      int
	running   []model.InstanceInfo
	creates   int
	destroyed []string

	failCreates int
	// gate, when set, blocks CreateInstance until a value is received
	gate chan struct{}
}

func NewMemory() *Memory {
	return &Memory{next: 1}
}

func (m *Memory) CreateInstance(ctx context.Context) (model.InstanceInfo, error) {
	m.Lock()
	gate := m.gate
	m.creates++
	m.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.InstanceInfo{}, errors.Wrapf(model.ErrProvision, "%v", ctx.Err())
		}
	}

	m.Lock()
	defer m.Unlock()
	if m.failCreates > 0 {
		m.failCreates--
		return model.InstanceInfo{}, errors.Wrap(model.ErrProvision, "simulated failure")
	}

	info := model.InstanceInfo{
		ID:         fmt.Sprintf("c%d", m.next),
		Endpoint:   fmt.Sprintf("tcp:127.0.0.1:%d", 6652+m.next),
		APIAddress: fmt.Sprintf("http://127.0.0.1:%d", 8080+m.next),
	}
	m.next++
	m.running = append(m.running, info)
	return info, nil
}

func (m *Memory) DestroyInstance(_ context.Context, instanceID string) error {
	m.Lock()
	defer m.Unlock()

	for idx, i := range m.running {
		if i.ID == instanceID {
			m.running = append(m.running[:idx], m.running[idx+1:]...)
			m.destroyed = append(m.destroyed, instanceID)
			return nil
		}
	}
	return errors.Wrapf(model.ErrNotFound, "instance %s", instanceID)
}

func (m *Memory) List(context.Context) ([]model.InstanceInfo, error) {
	m.Lock()
	defer m.Unlock()
	return append([]model.InstanceInfo(nil), m.running...), nil
}

// Adopt registers an already running instance, as found on boot. Adopted
// instances are expected to follow the c<n> naming.
func (m *Memory) Adopt(info model.InstanceInfo) {
	m.Lock()
	defer m.Unlock()
	m.running = append(m.running, info)
	m.next++
}

// FailNextCreates makes the next n creations fail.
func (m *Memory) FailNextCreates(n int) {
	m.Lock()
	defer m.Unlock()
	m.failCreates = n
}

// Gate makes creations block until Release is called once per creation.
func (m *Memory) Gate() {
	m.Lock()
	defer m.Unlock()
	m.gate = make(chan struct{})
}

func (m *Memory) Release() {
	m.Lock()
	gate := m.gate
	m.Unlock()
	if gate != nil {
		gate <- struct{}{}
	}
}

func (m *Memory) Creates() int {
	m.Lock()
	defer m.Unlock()
	return m.creates
}

func (m *Memory) Destroyed() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.destroyed...)
}

func (*Memory) Close() error {
	return nil
}
