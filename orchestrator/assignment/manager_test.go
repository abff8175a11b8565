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

package assignment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/netscale/netscale/orchestrator/model"
	"github.com/netscale/netscale/orchestrator/registry"
)

type authorityCall struct {
	Switch   string
	Instance string
	Role     model.AuthorityRole
}

type fakeAuthority struct {
	sync.Mutex
	calls []authorityCall
	// instance id -> role requests that fail
	failing map[string]model.AuthorityRole
	gens    []uint64
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{failing: map[string]model.AuthorityRole{}}
}

func (f *fakeAuthority) SetAuthority(_ context.Context, switchID string, instance model.InstanceInfo,
	role model.AuthorityRole, generation uint64) error {
	f.Lock()
	defer f.Unlock()
	f.calls = append(f.calls, authorityCall{switchID, instance.ID, role})
	f.gens = append(f.gens, generation)
	if r, ok := f.failing[instance.ID]; ok && r == role {
		return errors.New("controller did not confirm")
	}
	return nil
}

func (f *fakeAuthority) callsFor(switchID string) []authorityCall {
	f.Lock()
	defer f.Unlock()
	var res []authorityCall
	for _, c := range f.calls {
		if c.Switch == switchID {
			res = append(res, c)
		}
	}
	return res
}

func testConfig() Config {
	return Config{
		StepTimeout:   time.Second,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	}
}

func setup(t *testing.T, instances []string, switches ...string) (*registry.Registry, *fakeAuthority, *Manager) {
	t.Helper()
	reg := registry.New(clocktesting.NewFakePassiveClock(time.Now()), time.Minute)
	for _, sw := range switches {
		_, err := reg.AddSwitch(sw)
		require.NoError(t, err)
	}
	for _, id := range instances {
		_, err := reg.AddInstanceWithID(model.InstanceInfo{ID: id}, model.RoleStandby)
		require.NoError(t, err)
	}
	authority := newFakeAuthority()
	return reg, authority, NewManager(reg, authority, testConfig())
}

func counts(reg *registry.Registry) map[string]int {
	res := map[string]int{}
	for _, i := range reg.ListInstances() {
		res[i.ID] = len(i.AssignedSwitches)
	}
	return res
}

func TestBootstrapAssertsMaster(t *testing.T) {
	_, authority, m := setup(t, []string{"c1"}, "s1", "s2", "s3", "s4")

	require.NoError(t, m.Bootstrap(context.Background(), "c1"))
	for _, sw := range []string{"s1", "s2", "s3", "s4"} {
		assert.Equal(t, []authorityCall{{sw, "c1", model.AuthorityMaster}}, authority.callsFor(sw))
	}

	assert.ErrorIs(t, m.Bootstrap(context.Background(), "c9"), model.ErrInstanceNotFound)
}

func TestRebalanceAppliesMinimalDelta(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2"}, "s1", "s2", "s3", "s4")

	res, err := m.Rebalance(context.Background(), "test")
	require.NoError(t, err)
	assert.Len(t, res.Moved, 2)
	assert.Empty(t, res.Failed)

	c1, _ := reg.GetInstance("c1")
	c2, _ := reg.GetInstance("c2")
	assert.Equal(t, []string{"s1", "s3"}, c1.AssignedSwitches)
	assert.Equal(t, []string{"s2", "s4"}, c2.AssignedSwitches)
	assert.Equal(t, model.RoleActive, c2.Role)
	assert.NoError(t, reg.CheckInvariants())

	// Demote before promote, unaffected switches untouched
	assert.Equal(t, []authorityCall{
		{"s2", "c1", model.AuthoritySlave},
		{"s2", "c2", model.AuthorityMaster},
	}, authority.callsFor("s2"))
	assert.Empty(t, authority.callsFor("s1"))

	// Each request carries a fresh generation
	for i := 1; i < len(authority.gens); i++ {
		assert.Greater(t, authority.gens[i], authority.gens[i-1])
	}

	// Rerunning on the same set does nothing
	res, err = m.Rebalance(context.Background(), "test")
	assert.NoError(t, err)
	assert.Empty(t, res.Moved)
}

func TestRebalanceSkipsCandidates(t *testing.T) {
	reg, _, m := setup(t, []string{"c1"}, "s1", "s2")
	_, err := reg.AddInstanceWithID(model.InstanceInfo{ID: "c2"}, model.RoleMasterCandidate)
	require.NoError(t, err)

	res, err := m.Rebalance(context.Background(), "test")
	assert.NoError(t, err)
	assert.Empty(t, res.Moved)

	require.NoError(t, reg.SetRole("c2", model.RoleStandby))
	res, err = m.Rebalance(context.Background(), "test")
	assert.NoError(t, err)
	assert.Len(t, res.Moved, 1)
}

func TestTransitionTimeoutKeepsPreviousOwner(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2"}, "s1", "s2")
	authority.failing["c2"] = model.AuthorityMaster

	res, err := m.Rebalance(context.Background(), "test")
	assert.ErrorIs(t, err, model.ErrRoleTransitionTimeout)
	assert.Equal(t, []Move{{Switch: "s2", From: "c1", To: "c2"}}, res.Failed)

	owner, _ := reg.GetSwitchOwner("s2")
	assert.Equal(t, "c1", owner)
	assert.Empty(t, reg.Snapshot().Switches[1].PendingOwner)
	assert.NoError(t, reg.CheckInvariants())

	// First attempt plus two retries, each rolled back to c1
	calls := authority.callsFor("s2")
	assert.Len(t, calls, 9)
	assert.Equal(t, authorityCall{"s2", "c1", model.AuthorityMaster}, calls[len(calls)-1])
}

func TestUnresponsiveTargetFailsFast(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2"}, "s1", "s2", "s3", "s4")
	_, err := m.Rebalance(context.Background(), "test")
	require.NoError(t, err)
	before := len(authority.callsFor("s3"))

	authority.failing["c2"] = model.AuthorityMaster
	res, err := m.Evacuate(context.Background(), "c1", false)
	assert.ErrorIs(t, err, model.ErrRoleTransitionTimeout)
	assert.Equal(t, []Move{{Switch: "s1", From: "c1", To: "c2"}, {Switch: "s3", From: "c1", To: "c2"}}, res.Failed)
	assert.Empty(t, res.Moved)

	// s1 spends the whole retry budget, s3 is not attempted at all
	assert.Len(t, authority.callsFor("s1"), 9)
	assert.Len(t, authority.callsFor("s3"), before)

	c := counts(reg)
	assert.Equal(t, 2, c["c1"])
	assert.NoError(t, reg.CheckInvariants())

	// The next pass tries again
	delete(authority.failing, "c2")
	res, err = m.Evacuate(context.Background(), "c1", false)
	assert.NoError(t, err)
	assert.Len(t, res.Moved, 2)
}

func TestUnresponsiveSourceFailsFast(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2", "c3"}, "s1", "s2", "s3", "s4", "s5", "s6")

	// c1 bootstrapped with every switch and does not answer demotions
	authority.failing["c1"] = model.AuthoritySlave
	res, err := m.Rebalance(context.Background(), "test")
	assert.ErrorIs(t, err, model.ErrRoleTransitionTimeout)
	assert.Len(t, res.Failed, 4)

	attempted := 0
	for _, sw := range []string{"s2", "s3", "s5", "s6"} {
		if len(authority.callsFor(sw)) > 0 {
			attempted++
		}
	}
	assert.Equal(t, 1, attempted)
	assert.Equal(t, 6, counts(reg)["c1"])
	assert.NoError(t, reg.CheckInvariants())
}

func TestEvacuateSpreadsSwitches(t *testing.T) {
	reg, _, m := setup(t, []string{"c1", "c2", "c3"}, "s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9")
	_, err := m.Rebalance(context.Background(), "test")
	require.NoError(t, err)

	res, err := m.Evacuate(context.Background(), "c1", false)
	require.NoError(t, err)
	assert.Len(t, res.Moved, 3)

	c := counts(reg)
	assert.Equal(t, 0, c["c1"])
	assert.LessOrEqual(t, abs(c["c2"]-c["c3"]), 1)

	require.NoError(t, reg.RemoveInstance("c1", false))
	assert.NoError(t, reg.CheckInvariants())
}

func TestFailoverSkipsDemotion(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2", "c3"}, "s1", "s2", "s3", "s4", "s5", "s6")
	_, err := m.Rebalance(context.Background(), "test")
	require.NoError(t, err)

	// The dead controller does not answer
	authority.failing["c2"] = model.AuthoritySlave
	require.NoError(t, reg.SetHealth("c2", model.HealthFailed))

	res, err := m.Evacuate(context.Background(), "c2", true)
	require.NoError(t, err)
	assert.Len(t, res.Moved, 2)

	for _, c := range authority.calls {
		if c.Instance == "c2" {
			assert.NotEqual(t, model.AuthoritySlave, c.Role)
		}
	}

	require.NoError(t, reg.RemoveInstance("c2", true))
	assert.Empty(t, reg.UnownedSwitches())
	c := counts(reg)
	assert.Equal(t, 3, c["c1"])
	assert.Equal(t, 3, c["c3"])
	assert.NoError(t, reg.CheckInvariants())
}

func TestEvacuateWithoutTargets(t *testing.T) {
	_, _, m := setup(t, []string{"c1"}, "s1")
	_, err := m.Evacuate(context.Background(), "c1", false)
	assert.ErrorIs(t, err, model.ErrOwnershipGap)

	_, err = m.Evacuate(context.Background(), "c9", false)
	assert.ErrorIs(t, err, model.ErrInstanceNotFound)
}

func TestRepairGaps(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2"}, "s1", "s2", "s3")
	require.NoError(t, reg.RemoveInstance("c1", true))
	assert.Len(t, reg.UnownedSwitches(), 3)

	authority.failing["c2"] = model.AuthorityMaster
	res, err := m.RepairGaps(context.Background())
	assert.Error(t, err)
	assert.Len(t, res.Failed, 3)
	for _, sw := range reg.Snapshot().Switches {
		assert.True(t, sw.OwnershipGap)
	}

	delete(authority.failing, "c2")
	res, err = m.RepairGaps(context.Background())
	assert.NoError(t, err)
	assert.Len(t, res.Moved, 3)
	assert.Empty(t, reg.UnownedSwitches())
	assert.NoError(t, reg.CheckInvariants())
}

func TestPlaceSwitch(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2"}, "s1")

	require.NoError(t, m.PlaceSwitch(context.Background(), "s2"))
	owner, err := reg.GetSwitchOwner("s2")
	assert.NoError(t, err)
	assert.Equal(t, "c1", owner)
	assert.ElementsMatch(t, []authorityCall{
		{"s2", "c1", model.AuthorityMaster},
		{"s2", "c2", model.AuthoritySlave},
	}, authority.callsFor("s2"))
}

func TestPlaceSwitchOwnerDoesNotConfirm(t *testing.T) {
	reg, authority, m := setup(t, []string{"c1", "c2"}, "s1")
	authority.failing["c1"] = model.AuthorityMaster

	assert.Error(t, m.PlaceSwitch(context.Background(), "s2"))
	assert.Equal(t, []string{"s2"}, reg.UnownedSwitches())
	assert.True(t, reg.Snapshot().Switches[1].OwnershipGap)
	assert.NoError(t, reg.CheckInvariants())

	delete(authority.failing, "c1")
	res, err := m.RepairGaps(context.Background())
	assert.NoError(t, err)
	assert.Len(t, res.Moved, 1)
	assert.Empty(t, reg.UnownedSwitches())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
