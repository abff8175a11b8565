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

package traffic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/netscale/netscale/orchestrator/model"
)

type fakeSampler struct {
	sync.Mutex
	counters map[string]Counters
	failing  map[string]bool
}

func (f *fakeSampler) Sample(_ context.Context, target Target) (Counters, error) {
	f.Lock()
	defer f.Unlock()
	if f.failing[target.Instance.ID] {
		return Counters{}, errors.New("unreachable")
	}
	return f.counters[target.Instance.ID], nil
}

func (f *fakeSampler) set(id string, c Counters) {
	f.Lock()
	defer f.Unlock()
	f.counters[id] = c
}

func newTestCollector(sampler Sampler, targets []Target, window int) (*Collector, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	config := NewConfig()
	config.SmoothingWindow = window
	return NewCollector(config, sampler, clk, func() []Target { return targets }, func(Report) {}), clk
}

func TestRatesSplitEvenlyWithoutPerSwitchCounters(t *testing.T) {
	sampler := &fakeSampler{counters: map[string]Counters{"c1": {Total: 100}}}
	targets := []Target{{Instance: model.InstanceInfo{ID: "c1"}, Switches: []string{"s1", "s2"}}}
	c, clk := newTestCollector(sampler, targets, 1)

	report := c.Collect(context.Background())
	assert.Empty(t, report.PerSwitch)
	assert.Zero(t, report.Aggregate)

	clk.Step(5 * time.Second)
	sampler.set("c1", Counters{Total: 600})
	report = c.Collect(context.Background())
	assert.InDelta(t, 100, report.Aggregate, 0.001)
	assert.InDelta(t, 100, report.PerInstance["c1"], 0.001)
	assert.InDelta(t, 50, report.PerSwitch["s1"], 0.001)
	assert.InDelta(t, 50, report.PerSwitch["s2"], 0.001)
}

func TestPerSwitchCountersAndSmoothing(t *testing.T) {
	sampler := &fakeSampler{counters: map[string]Counters{
		"c1": {Total: 0, PerSwitch: map[string]uint64{"s1": 0, "s2": 0}},
	}}
	targets := []Target{{Instance: model.InstanceInfo{ID: "c1"}, Switches: []string{"s1", "s2"}}}
	c, clk := newTestCollector(sampler, targets, 2)
	c.Collect(context.Background())

	clk.Step(time.Second)
	sampler.set("c1", Counters{Total: 40, PerSwitch: map[string]uint64{"s1": 30, "s2": 10}})
	report := c.Collect(context.Background())
	assert.InDelta(t, 30, report.PerSwitch["s1"], 0.001)
	assert.InDelta(t, 10, report.PerSwitch["s2"], 0.001)

	clk.Step(time.Second)
	sampler.set("c1", Counters{Total: 100, PerSwitch: map[string]uint64{"s1": 80, "s2": 20}})
	report = c.Collect(context.Background())
	// (30 + 50) / 2
	assert.InDelta(t, 40, report.PerSwitch["s1"], 0.001)
	assert.Equal(t, []float64{30, 50}, report.Samples["s1"])

	clk.Step(time.Second)
	sampler.set("c1", Counters{Total: 100, PerSwitch: map[string]uint64{"s1": 80, "s2": 20}})
	report = c.Collect(context.Background())
	// The oldest sample dropped out of the window
	assert.Equal(t, []float64{50, 0}, report.Samples["s1"])
	assert.InDelta(t, 25, report.PerSwitch["s1"], 0.001)
}

func TestCounterResetIsZero(t *testing.T) {
	sampler := &fakeSampler{counters: map[string]Counters{"c1": {Total: 1000}}}
	targets := []Target{{Instance: model.InstanceInfo{ID: "c1"}, Switches: []string{"s1"}}}
	c, clk := newTestCollector(sampler, targets, 1)
	c.Collect(context.Background())

	clk.Step(5 * time.Second)
	sampler.set("c1", Counters{Total: 10})
	report := c.Collect(context.Background())
	assert.Zero(t, report.PerSwitch["s1"])
	assert.Zero(t, report.Aggregate)
}

func TestUnreachableInstances(t *testing.T) {
	sampler := &fakeSampler{
		counters: map[string]Counters{"c1": {Total: 0}},
		failing:  map[string]bool{"c2": true},
	}
	targets := []Target{
		{Instance: model.InstanceInfo{ID: "c1"}, Switches: []string{"s1"}},
		{Instance: model.InstanceInfo{ID: "c2"}, Switches: []string{"s2"}},
	}
	c, _ := newTestCollector(sampler, targets, 1)

	report := c.Collect(context.Background())
	assert.Equal(t, []string{"c2"}, report.Unreachable)
}

func TestCollectorRunsOnTicks(t *testing.T) {
	sampler := &fakeSampler{counters: map[string]Counters{"c1": {Total: 0}}}
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	ch := make(chan Report, 10)
	c := NewCollector(NewConfig(), sampler, clk, func() []Target {
		return []Target{{Instance: model.InstanceInfo{ID: "c1"}, Switches: []string{"s1"}}}
	}, func(r Report) { ch <- r })
	c.Start()
	defer c.Close()

	assert.Eventually(t, func() bool {
		clk.Step(NewConfig().SampleInterval)
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
}

func TestRyuSampler(t *testing.T) {
	var count atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metrics", r.URL.Path)
		_, _ = fmt.Fprintf(w, `{"packet_in_count": %d, "switches": [1, 2], "packet_in_per_switch": {"1": 7, "2": 3}}`,
			count.Load())
	}))
	defer server.Close()
	count.Store(10)

	c, err := NewRyuSampler().Sample(context.Background(), Target{
		Instance: model.InstanceInfo{ID: "c1", APIAddress: server.URL},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 10, c.Total)
	assert.Equal(t, map[string]uint64{"s1": 7, "s2": 3}, c.PerSwitch)

	_, err = NewRyuSampler().Sample(context.Background(), Target{Instance: model.InstanceInfo{ID: "c2"}})
	assert.Error(t, err)
}

func TestPrometheusSampler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`# HELP ryu_packet_in_total Packet-in messages received
# TYPE ryu_packet_in_total counter
ryu_packet_in_total{dpid="1"} 12
ryu_packet_in_total{dpid="3"} 8
`))
	}))
	defer server.Close()

	c, err := NewPrometheusSampler().Sample(context.Background(), Target{
		Instance: model.InstanceInfo{ID: "c1", APIAddress: server.URL},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 20, c.Total)
	assert.Equal(t, map[string]uint64{"s1": 12, "s3": 8}, c.PerSwitch)

	s := NewPrometheusSampler()
	s.MetricName = "missing_total"
	_, err = s.Sample(context.Background(), Target{Instance: model.InstanceInfo{ID: "c1", APIAddress: server.URL}})
	assert.Error(t, err)
}
