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

package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/netscale/netscale/network"
	"github.com/netscale/netscale/orchestrator/health"
	"github.com/netscale/netscale/orchestrator/traffic"
	"github.com/netscale/netscale/provision"
)

type system struct {
	o     *Orchestrator
	net   *network.Memory
	prov  *provision.Memory
	clock *clocktesting.FakeClock
	// every instance id ever seen, failed ones included
	seen        []string
	unreachable map[string]bool
	next        int
}

func (s *system) liveIDs() []string {
	var res []string
	for _, i := range s.o.registry.ListInstances() {
		if i.Live() {
			res = append(res, i.ID)
		}
	}
	return res
}

func (s *system) remember() {
	known := map[string]bool{}
	for _, id := range s.seen {
		known[id] = true
	}
	for _, i := range s.o.registry.ListInstances() {
		if !known[i.ID] {
			s.seen = append(s.seen, i.ID)
		}
	}
}

func (s *system) apply(ev Event) {
	s.o.handle(ev)
	drain(s.o)
	s.remember()
}

// check verifies the registry invariants and the switch authorities once
// every operation has resolved.
func (s *system) check() error {
	err := s.o.registry.CheckInvariants()
	if s.o.inFlight != nil || s.o.deferred.Size() > 0 {
		err = multierr.Append(err, errors.Errorf("operation still pending: %v", s.o.inFlight))
	}

	view := s.o.registry.Snapshot()
	live := len(s.liveIDs())
	masters := s.net.Masters()
	for _, sw := range view.Switches {
		if sw.CurrentOwner == "" {
			if live > 0 && !sw.OwnershipGap {
				err = multierr.Append(err, errors.Errorf("switch %s has no owner", sw.ID))
			}
			if len(masters[sw.ID]) > 0 {
				err = multierr.Append(err, errors.Errorf("unowned switch %s has masters %v", sw.ID, masters[sw.ID]))
			}
			continue
		}
		if len(masters[sw.ID]) != 1 || masters[sw.ID][0] != sw.CurrentOwner {
			err = multierr.Append(err, errors.Errorf("switch %s owned by %s has masters %v",
				sw.ID, sw.CurrentOwner, masters[sw.ID]))
		}
	}
	return err
}

type command struct {
	name string
	run  func(s *system)
}

func (c command) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*system)
	c.run(s)
	return s.check()
}

func (command) NextState(state commands.State) commands.State {
	return state
}

func (command) PreCondition(commands.State) bool {
	return true
}

func (command) PostCondition(_ commands.State, result commands.Result) *gopter.PropResult {
	if err, ok := result.(error); ok && err != nil {
		return &gopter.PropResult{Status: gopter.PropFalse, Error: err}
	}
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func (c command) String() string {
	return c.name
}

func pick(ids []string, idx int) (string, bool) {
	if len(ids) == 0 {
		return "", false
	}
	return ids[idx%len(ids)], true
}

func addCommand() command {
	return command{name: "Add", run: func(s *system) {
		s.apply(addInstanceEvent{})
	}}
}

func failedAddCommand() command {
	return command{name: "FailedAdd", run: func(s *system) {
		s.prov.FailNextCreates(1)
		s.apply(addInstanceEvent{})
	}}
}

func removeCommand(idx int) command {
	return command{name: fmt.Sprintf("Remove(%d)", idx), run: func(s *system) {
		if id, ok := pick(s.liveIDs(), idx); ok {
			s.apply(removeInstanceEvent{instanceID: id})
		}
	}}
}

func failCommand(idx int) command {
	return command{name: fmt.Sprintf("Fail(%d)", idx), run: func(s *system) {
		id, ok := pick(s.liveIDs(), idx)
		if !ok {
			return
		}
		misses := s.o.config.Health.SuspectAfter + s.o.config.Health.FailAfter
		for i := 0; i < misses; i++ {
			s.apply(probeEvent{results: []health.Result{{
				InstanceID: id,
				Err:        errors.New("probe timeout"),
				Time:       s.clock.Now(),
			}}})
		}
	}}
}

func heartbeatCommand(idx int) command {
	return command{name: fmt.Sprintf("Heartbeat(%d)", idx), run: func(s *system) {
		if id, ok := pick(s.seen, idx); ok {
			s.apply(probeEvent{results: []health.Result{{InstanceID: id, Time: s.clock.Now()}}})
		}
	}}
}

// unreachableCommand toggles whether a controller answers role requests.
func unreachableCommand(idx int) command {
	return command{name: fmt.Sprintf("Unreachable(%d)", idx), run: func(s *system) {
		id, ok := pick(s.seen, idx)
		if !ok {
			return
		}
		if s.unreachable == nil {
			s.unreachable = map[string]bool{}
		}
		s.unreachable[id] = !s.unreachable[id]
		s.net.SetUnreachable(id, s.unreachable[id])
	}}
}

func balancerCommand(active bool) command {
	return command{name: fmt.Sprintf("Balancer(%v)", active), run: func(s *system) {
		if active {
			s.apply(activateEvent{})
		} else {
			s.apply(deactivateEvent{})
		}
	}}
}

// trafficCommand holds a per-switch rate for longer than the debounce window.
func trafficCommand(pps float64) command {
	return command{name: fmt.Sprintf("Traffic(%v)", pps), run: func(s *system) {
		policy := s.o.engine.Policy()
		for i := 0; i < 3; i++ {
			view := s.o.registry.Snapshot()
			report := traffic.Report{
				Time:      s.clock.Now(),
				PerSwitch: map[string]float64{},
				Samples:   map[string][]float64{},
			}
			for _, sw := range view.Switches {
				report.PerSwitch[sw.ID] = pps
				report.Samples[sw.ID] = []float64{pps}
				report.Aggregate += pps
			}
			s.apply(trafficEvent{report: report})
			s.clock.Step(policy.DebounceWindow + policy.Cooldown)
		}
	}}
}

func discoverCommand() command {
	return command{name: "Discover", run: func(s *system) {
		s.next++
		s.net.AddSwitch(fmt.Sprintf("s%d", s.next))
		switches, err := s.net.Switches(s.o.ctx)
		s.apply(discoveryEvent{switches: switches, err: err})
	}}
}

func constCommand(c command) gopter.Gen {
	return gopter.CombineGens().Map(func([]interface{}) commands.Command {
		return c
	})
}

func indexedCommand(f func(int) command) gopter.Gen {
	return gen.IntRange(0, 7).Map(func(i int) commands.Command {
		return f(i)
	})
}

func genCommand() gopter.Gen {
	rates := []float64{0.5, 30, 200}
	return gen.OneGenOf(
		constCommand(addCommand()),
		constCommand(addCommand()),
		constCommand(failedAddCommand()),
		indexedCommand(removeCommand),
		indexedCommand(failCommand),
		indexedCommand(heartbeatCommand),
		indexedCommand(unreachableCommand),
		indexedCommand(unreachableCommand),
		gen.Bool().Map(func(active bool) commands.Command {
			return balancerCommand(active)
		}),
		gen.IntRange(0, len(rates)-1).Map(func(i int) commands.Command {
			return trafficCommand(rates[i])
		}),
		constCommand(discoverCommand()),
	)
}

func TestInvariantsUnderRandomEvents(t *testing.T) {
	var cbCommands = &commands.ProtoCommands{
		NewSystemUnderTestFunc: func(commands.State) commands.SystemUnderTest {
			clk := clocktesting.NewFakeClock(time.Now())
			net := network.NewMemory("s1", "s2", "s3", "s4")
			prov := provision.NewMemory()

			config := testConfig()
			config.Policy.MaxInstances = 4
			o, err := New(config, Options{
				Provisioner: prov,
				Network:     net,
				Probe:       okProbe(),
				Sampler:     newFakeSampler(clk, 0),
				Clock:       clk,
			})
			if err != nil {
				panic(err)
			}
			o.inline = true
			o.reconcile()
			drain(o)
			return &system{o: o, net: net, prov: prov, clock: clk, next: 4}
		},
		DestroySystemUnderTestFunc: func(sut commands.SystemUnderTest) {
			_ = sut.(*system).o.Close()
		},
		InitialStateGen: gen.Const(struct{}{}),
		InitialPreConditionFunc: func(commands.State) bool {
			return true
		},
		GenCommandFunc: func(commands.State) gopter.Gen {
			return genCommand()
		},
	}

	parameters := gopter.DefaultTestParametersWithSeed(1234)
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	properties.Property("registry invariants hold after every event", commands.Prop(cbCommands))
	properties.TestingRun(t)
}

func TestScriptedEventSequence(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	s := &system{
		clock: clk,
		net:   network.NewMemory("s1", "s2"),
		prov:  provision.NewMemory(),
		next:  2,
	}
	o, err := New(testConfig(), Options{
		Provisioner: s.prov,
		Network:     s.net,
		Probe:       okProbe(),
		Sampler:     newFakeSampler(clk, 0),
		Clock:       clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()
	o.inline = true
	s.o = o
	o.reconcile()
	drain(o)

	for _, c := range []command{
		addCommand(), addCommand(), balancerCommand(true), discoverCommand(), trafficCommand(200),
		failCommand(0), addCommand(), removeCommand(1), trafficCommand(0.5), failedAddCommand(),
		failCommand(0), failCommand(0), failCommand(0), failCommand(0), addCommand(),
		addCommand(), addCommand(), unreachableCommand(6), discoverCommand(), trafficCommand(200),
		removeCommand(0), failCommand(1), unreachableCommand(6), trafficCommand(30),
	} {
		c.run(s)
		if err := s.check(); err != nil {
			t.Fatalf("after %s: %v", c, err)
		}
	}
	if len(s.liveIDs()) == 0 {
		t.Fatal("expected a live instance after the last add")
	}
}
