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

package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/netscale/netscale/common/metric"
	"github.com/netscale/netscale/common/process"
	"github.com/netscale/netscale/orchestrator/model"
	"github.com/netscale/netscale/orchestrator/registry"
)

type Config struct {
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	ProbeTimeout time.Duration `yaml:"probeTimeout" mapstructure:"probeTimeout"`
	// SuspectAfter consecutive misses mark an instance suspect
	SuspectAfter int `yaml:"suspectAfter" mapstructure:"suspectAfter"`
	// FailAfter further misses confirm the failure
	FailAfter int `yaml:"failAfter" mapstructure:"failAfter"`
}

func NewConfig() Config {
	return Config{
		Interval:     2 * time.Second,
		ProbeTimeout: 2 * time.Second,
		SuspectAfter: 2,
		FailAfter:    2,
	}
}

type Result struct {
	InstanceID string
	Err        error
	Time       time.Time
}

type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictRecovered
	VerdictSuspect
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictRecovered:
		return "recovered"
	case VerdictSuspect:
		return "suspect"
	case VerdictFailed:
		return "failed"
	default:
		return "none"
	}
}

// Monitor probes every registered instance at a fixed interval and hands the
// results to a sink. Verdicts are computed by HandleProbe, on the caller
// goroutine.
type Monitor struct {
	sync.Mutex
	*sync.WaitGroup

	config    Config
	probe     Probe
	instances func() []model.InstanceInfo
	sink      func([]Result)
	misses    map[string]int

	clock  clock.WithTicker
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	failedProbes metric.Counter
}

func NewMonitor(config Config, probe Probe, clk clock.WithTicker,
	instances func() []model.InstanceInfo, sink func([]Result)) *Monitor {
	m := &Monitor{
		WaitGroup: &sync.WaitGroup{},
		config:    config,
		probe:     probe,
		instances: instances,
		sink:      sink,
		misses:    map[string]int{},
		clock:     clk,
		log: slog.With(
			slog.String("component", "health-monitor"),
		),
		failedProbes: metric.NewCounter("netscale_health_probes_failed",
			"The number of failed liveness probes", metric.Dimensionless, nil),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

func (m *Monitor) Start() {
	m.Add(1)
	go process.DoWithLabels(
		m.ctx,
		map[string]string{
			"netscale": "health-monitor",
		},
		func() {
			defer m.Done()
			m.run()
		},
	)
	m.log.Info(
		"Started health monitor",
		slog.Duration("interval", m.config.Interval),
	)
}

func (m *Monitor) run() {
	ticker := m.clock.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if results := m.ProbeAll(m.ctx); len(results) > 0 {
				m.sink(results)
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// ProbeAll probes every instance concurrently.
func (m *Monitor) ProbeAll(ctx context.Context) []Result {
	instances := m.instances()
	results := make([]Result, len(instances))

	g := errgroup.Group{}
	for idx, instance := range instances {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
			defer cancel()

			results[idx] = Result{
				InstanceID: instance.ID,
				Err:        m.probe.Probe(probeCtx, instance),
				Time:       m.clock.Now(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HandleProbe applies one probe result to the registry. N consecutive misses
// mark the instance suspect, N+M confirm the failure.
func (m *Monitor) HandleProbe(reg *registry.Registry, res Result) (Verdict, error) {
	m.Lock()
	defer m.Unlock()

	instance, err := reg.GetInstance(res.InstanceID)
	if err != nil {
		delete(m.misses, res.InstanceID)
		return VerdictNone, err
	}
	if instance.Health == model.HealthFailed {
		return VerdictNone, errors.Wrapf(model.ErrStaleHeartbeat, "instance %s", res.InstanceID)
	}

	if res.Err == nil {
		delete(m.misses, res.InstanceID)
		if err := reg.UpdateHeartbeat(res.InstanceID); err != nil {
			return VerdictNone, err
		}
		if instance.Health == model.HealthSuspect {
			m.log.Info(
				"Instance is back online",
				slog.String("instance-id", res.InstanceID),
			)
			return VerdictRecovered, nil
		}
		return VerdictNone, nil
	}

	m.failedProbes.Inc()
	m.misses[res.InstanceID]++
	misses := m.misses[res.InstanceID]
	m.log.Warn(
		"Liveness probe failed",
		slog.String("instance-id", res.InstanceID),
		slog.Int("misses", misses),
		slog.Any("error", res.Err),
	)

	switch {
	case misses >= m.config.SuspectAfter+m.config.FailAfter:
		delete(m.misses, res.InstanceID)
		if err := reg.SetHealth(res.InstanceID, model.HealthFailed); err != nil {
			return VerdictNone, err
		}
		m.log.Error(
			"Instance failure confirmed",
			slog.String("instance-id", res.InstanceID),
		)
		return VerdictFailed, nil

	case misses >= m.config.SuspectAfter && instance.Health != model.HealthSuspect:
		if err := reg.SetHealth(res.InstanceID, model.HealthSuspect); err != nil {
			return VerdictNone, err
		}
		return VerdictSuspect, nil
	}
	return VerdictNone, nil
}

// Forget drops the miss counter of a removed instance.
func (m *Monitor) Forget(instanceID string) {
	m.Lock()
	defer m.Unlock()
	delete(m.misses, instanceID)
}

func (m *Monitor) Close() error {
	m.cancel()
	m.Wait()
	return nil
}
