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
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netscale/netscale/orchestrator/model"
)

func TestContainerSpec(t *testing.T) {
	config := NewDockerConfig()
	d := &Docker{config: config}
	info := d.instanceInfo(2)
	assert.Equal(t, model.InstanceInfo{
		ID:         "ryu_2",
		Endpoint:   "tcp:127.0.0.1:6655",
		APIAddress: "http://127.0.0.1:8083",
	}, info)

	c, hc := containerSpec(config, 2, info)
	assert.Equal(t, "ryu-controller", c.Image)
	assert.Equal(t, []string{
		"ryu-manager", "controller.py",
		"--ofp-tcp-listen-port", "6655",
		"--wsapi-port", "8083",
		"--observe-links",
	}, []string(c.Cmd))
	assert.Contains(t, c.ExposedPorts, nat.Port("6655/tcp"))
	assert.Equal(t, "true", c.Labels[labelManaged])
	assert.Equal(t, container.NetworkMode("host"), hc.NetworkMode)
	assert.Empty(t, hc.PortBindings)

	config.NetworkMode = "bridge"
	_, hc = containerSpec(config, 0, d.instanceInfo(0))
	assert.Equal(t, []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "8081"}}, hc.PortBindings[nat.Port("8081/tcp")])
}

func TestNextIndexAndLabels(t *testing.T) {
	assert.Equal(t, 0, nextIndex(nil, "ryu_"))
	assert.Equal(t, 4, nextIndex([]model.InstanceInfo{{ID: "ryu_0"}, {ID: "ryu_3"}}, "ryu_"))

	info, ok := infoFromLabels([]string{"/ryu_1"}, map[string]string{
		labelManaged:    "true",
		labelIndex:      "1",
		labelEndpoint:   "tcp:127.0.0.1:6654",
		labelAPIAddress: "http://127.0.0.1:8082",
	}, "ryu_")
	assert.True(t, ok)
	assert.Equal(t, "ryu_1", info.ID)
	assert.Equal(t, "http://127.0.0.1:8082", info.APIAddress)

	_, ok = infoFromLabels([]string{"/other"}, map[string]string{}, "ryu_")
	assert.False(t, ok)
}

func TestStaticPool(t *testing.T) {
	ctx := context.Background()
	s := NewStatic([]model.InstanceInfo{{ID: "a"}, {ID: "b"}}, 1)

	running, _ := s.List(ctx)
	assert.Equal(t, []model.InstanceInfo{{ID: "a"}}, running)

	info, err := s.CreateInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", info.ID)

	_, err = s.CreateInstance(ctx)
	assert.ErrorIs(t, err, model.ErrProvision)

	assert.NoError(t, s.DestroyInstance(ctx, "a"))
	assert.ErrorIs(t, s.DestroyInstance(ctx, "a"), model.ErrNotFound)

	info, err = s.CreateInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", info.ID)
}

func TestMemoryProvisioner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	c1, err := m.CreateInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c1", c1.ID)

	m.FailNextCreates(1)
	_, err = m.CreateInstance(ctx)
	assert.ErrorIs(t, err, model.ErrProvision)
	assert.Equal(t, 2, m.Creates())

	assert.NoError(t, m.DestroyInstance(ctx, "c1"))
	assert.ErrorIs(t, m.DestroyInstance(ctx, "c1"), model.ErrNotFound)
	assert.Equal(t, []string{"c1"}, m.Destroyed())
}
