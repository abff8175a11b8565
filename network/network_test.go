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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netscale/netscale/orchestrator/model"
)

type recordingRunner struct {
	sync.Mutex
	commands []string
	bridges  string
	fail     string
}

func (r *recordingRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.Lock()
	defer r.Unlock()
	cmd := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, cmd)
	if r.fail != "" && strings.Contains(cmd, r.fail) {
		return nil, errors.New("ovs-vsctl: no bridge named " + r.fail)
	}
	if len(args) > 0 && args[0] == "list-br" {
		return []byte(r.bridges), nil
	}
	return nil, nil
}

func TestOVSSwitches(t *testing.T) {
	runner := &recordingRunner{bridges: "s1\ns2\n\n s3 \n"}
	ovs := newOVS("", runner.run)

	switches, err := ovs.Switches(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, switches)
	assert.Equal(t, []string{"ovs-vsctl list-br"}, runner.commands)
}

func TestOVSConnect(t *testing.T) {
	runner := &recordingRunner{bridges: "s1\ns2\n"}
	ovs := newOVS("ovs-vsctl", runner.run)

	require.NoError(t, ovs.Connect(context.Background(), []string{"tcp:127.0.0.1:6653", "tcp:127.0.0.1:6654"}))
	assert.Equal(t, []string{
		"ovs-vsctl list-br",
		"ovs-vsctl --timeout=5 set bridge s1 protocols=OpenFlow13 -- set-controller s1 tcp:127.0.0.1:6653 tcp:127.0.0.1:6654",
		"ovs-vsctl --timeout=5 set bridge s2 protocols=OpenFlow13 -- set-controller s2 tcp:127.0.0.1:6653 tcp:127.0.0.1:6654",
	}, runner.commands)

	runner.commands = nil
	require.NoError(t, ovs.Connect(context.Background(), nil))
	assert.Equal(t, []string{
		"ovs-vsctl list-br",
		"ovs-vsctl --timeout=5 del-controller s1",
		"ovs-vsctl --timeout=5 del-controller s2",
	}, runner.commands)

	// One failing bridge does not stop the others
	runner.commands = nil
	runner.fail = "del-controller s1"
	assert.Error(t, ovs.Connect(context.Background(), nil))
	assert.Len(t, runner.commands, 3)
}

func TestRyuRoleClient(t *testing.T) {
	var mutex sync.Mutex
	var requests []roleRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/role", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req roleRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mutex.Lock()
		requests = append(requests, req)
		mutex.Unlock()

		if req.DPID == 9 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("Role updated to " + req.Role))
	}))
	defer server.Close()
	received := func() []roleRequest {
		mutex.Lock()
		defer mutex.Unlock()
		return append([]roleRequest(nil), requests...)
	}

	c := NewRyuRoleClient(0, 1)
	defer c.Close()
	instance := model.InstanceInfo{ID: "c1", APIAddress: server.URL}

	require.NoError(t, c.SetAuthority(context.Background(), "s3", instance, model.AuthorityMaster, 7))
	assert.Equal(t, model.AuthorityMaster, c.Role("c1", "s3"))
	assert.Equal(t, []roleRequest{{DPID: 3, Role: "MASTER", GenerationID: 7}}, received())

	require.NoError(t, c.SetAuthority(context.Background(), "s3", instance, model.AuthoritySlave, 8))
	assert.Equal(t, model.AuthoritySlave, c.Role("c1", "s3"))

	err := c.SetAuthority(context.Background(), "s9", instance, model.AuthorityMaster, 9)
	assert.ErrorIs(t, err, model.ErrSwitchNotFound)
	assert.Equal(t, model.AuthorityEqual, c.Role("c1", "s9"))

	// Not a valid transition, nothing is sent
	err = c.SetAuthority(context.Background(), "s3", instance, model.AuthorityEqual, 10)
	assert.Error(t, err)
	assert.Len(t, received(), 3)

	c.Forget("c1")
	assert.Equal(t, model.AuthorityEqual, c.Role("c1", "s3"))
}

func TestMemoryNetwork(t *testing.T) {
	m := NewMemory("s1", "s2")
	n := New(m, m)
	ctx := context.Background()

	switches, err := n.Switches(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, switches)

	c1 := model.InstanceInfo{ID: "c1"}
	c2 := model.InstanceInfo{ID: "c2"}
	require.NoError(t, n.SetAuthority(ctx, "s1", c1, model.AuthorityMaster, 1))
	require.NoError(t, n.SetAuthority(ctx, "s1", c2, model.AuthoritySlave, 2))
	assert.Equal(t, map[string][]string{"s1": {"c1"}}, m.Masters())

	m.SetUnreachable("c2", true)
	assert.Error(t, n.SetAuthority(ctx, "s1", c2, model.AuthorityMaster, 3))

	require.NoError(t, n.Connect(ctx, []string{"tcp:127.0.0.1:6653"}))
	assert.Equal(t, []string{"tcp:127.0.0.1:6653"}, m.Endpoints())

	n.Forget("c1")
	assert.Empty(t, m.Masters())
	assert.NoError(t, n.Close())
}

func TestStatic(t *testing.T) {
	s := NewStatic([]string{"s1"})
	switches, err := s.Switches(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"s1"}, switches)

	assert.NoError(t, s.Connect(context.Background(), []string{"tcp:127.0.0.1:6653"}))
	assert.Equal(t, []string{"tcp:127.0.0.1:6653"}, s.Endpoints())
}
