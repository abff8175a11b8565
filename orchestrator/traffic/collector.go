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
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/netscale/netscale/common/process"
	"github.com/netscale/netscale/orchestrator/model"
)

type Config struct {
	SampleInterval  time.Duration `yaml:"sampleInterval" mapstructure:"sampleInterval"`
	SampleTimeout   time.Duration `yaml:"sampleTimeout" mapstructure:"sampleTimeout"`
	SmoothingWindow int           `yaml:"smoothingWindow" mapstructure:"smoothingWindow"`
}

func NewConfig() Config {
	return Config{
		SampleInterval:  5 * time.Second,
		SampleTimeout:   time.Second,
		SmoothingWindow: 3,
	}
}

// Report is one traffic observation across all instances.
type Report struct {
	Time time.Time
	// PerSwitch holds the smoothed rate of each switch
	PerSwitch map[string]float64
	// Samples holds the retained raw rates of each switch, oldest first
	Samples map[string][]float64
	// PerInstance holds the raw rate measured on each reachable instance
	PerInstance map[string]float64
	Aggregate   float64
	Unreachable []string
}

type observation struct {
	total     uint64
	perSwitch map[string]uint64
	time      time.Time
}

// Collector turns cumulative packet counters into smoothed per-switch rates.
type Collector struct {
	sync.Mutex
	*sync.WaitGroup

	config  Config
	sampler Sampler
	targets func() []Target
	sink    func(Report)

	previous map[string]observation
	windows  map[string]*circularbuffer.Queue

	clock  clock.WithTicker
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

func NewCollector(config Config, sampler Sampler, clk clock.WithTicker,
	targets func() []Target, sink func(Report)) *Collector {
	if config.SmoothingWindow < 1 {
		config.SmoothingWindow = 1
	}
	c := &Collector{
		WaitGroup: &sync.WaitGroup{},
		config:    config,
		sampler:   sampler,
		targets:   targets,
		sink:      sink,
		previous:  map[string]observation{},
		windows:   map[string]*circularbuffer.Queue{},
		clock:     clk,
		log: slog.With(
			slog.String("component", "traffic-collector"),
		),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Collector) Start() {
	c.Add(1)
	go process.DoWithLabels(
		c.ctx,
		map[string]string{
			"netscale": "traffic-collector",
		},
		func() {
			defer c.Done()
			c.run()
		},
	)
	c.log.Info(
		"Started traffic collector",
		slog.Duration("interval", c.config.SampleInterval),
	)
}

func (c *Collector) run() {
	ticker := c.clock.NewTicker(c.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.sink(c.Collect(c.ctx))

		case <-c.ctx.Done():
			return
		}
	}
}

type sampleResult struct {
	target   Target
	counters Counters
	err      error
}

// Collect samples every target concurrently and folds the counters into rates.
func (c *Collector) Collect(ctx context.Context) Report {
	targets := c.targets()
	results := make([]sampleResult, len(targets))

	g := errgroup.Group{}
	for idx, target := range targets {
		g.Go(func() error {
			sampleCtx, cancel := context.WithTimeout(ctx, c.config.SampleTimeout)
			defer cancel()

			counters, err := c.sampler.Sample(sampleCtx, target)
			results[idx] = sampleResult{target, counters, err}
			return nil
		})
	}
	_ = g.Wait()

	return c.fold(results)
}

func (c *Collector) fold(results []sampleResult) Report {
	c.Lock()
	defer c.Unlock()

	now := c.clock.Now()
	report := Report{
		Time:        now,
		PerSwitch:   map[string]float64{},
		Samples:     map[string][]float64{},
		PerInstance: map[string]float64{},
	}

	seen := map[string]bool{}
	rates := map[string]float64{}
	for _, r := range results {
		id := r.target.Instance.ID
		seen[id] = true
		if r.err != nil {
			c.log.Debug(
				"Failed to sample instance",
				slog.String("instance-id", id),
				slog.Any("error", r.err),
			)
			report.Unreachable = append(report.Unreachable, id)
			continue
		}

		current := observation{total: r.counters.Total, perSwitch: r.counters.PerSwitch, time: now}
		prev, found := c.previous[id]
		c.previous[id] = current
		if !found {
			// The first observation only sets the baseline
			continue
		}

		elapsed := current.time.Sub(prev.time).Seconds()
		if elapsed <= 0 {
			continue
		}

		instanceRate := rate(prev.total, current.total, elapsed)
		report.PerInstance[id] = instanceRate

		if len(current.perSwitch) > 0 {
			for sw, count := range current.perSwitch {
				if before, ok := prev.perSwitch[sw]; ok {
					rates[sw] += rate(before, count, elapsed)
				}
			}
		} else if len(r.target.Switches) > 0 {
			share := instanceRate / float64(len(r.target.Switches))
			for _, sw := range r.target.Switches {
				rates[sw] += share
			}
		}
	}

	// Instances that are gone no longer contribute a baseline
	for id := range c.previous {
		if !seen[id] {
			delete(c.previous, id)
		}
	}

	for sw, r := range rates {
		window, ok := c.windows[sw]
		if !ok {
			window = circularbuffer.New(c.config.SmoothingWindow)
			c.windows[sw] = window
		}
		window.Enqueue(r)
	}

	for sw, window := range c.windows {
		if _, ok := rates[sw]; !ok && !switchListed(results, sw) {
			delete(c.windows, sw)
			continue
		}

		values := window.Values()
		samples := make([]float64, 0, len(values))
		sum := 0.0
		for _, v := range values {
			samples = append(samples, v.(float64))
			sum += v.(float64)
		}
		if len(samples) > 0 {
			report.PerSwitch[sw] = sum / float64(len(samples))
			report.Samples[sw] = samples
		}
	}

	for _, v := range report.PerSwitch {
		report.Aggregate += v
	}
	sort.Strings(report.Unreachable)
	return report
}

// rate converts a counter delta into packets per second. Counters going
// backwards mean the controller restarted.
func rate(previous, current uint64, elapsed float64) float64 {
	if current < previous {
		return 0
	}
	return float64(current-previous) / elapsed
}

func switchListed(results []sampleResult, sw string) bool {
	for _, r := range results {
		for _, s := range r.target.Switches {
			if s == sw {
				return true
			}
		}
	}
	return false
}

func (c *Collector) Close() error {
	c.cancel()
	c.Wait()
	return nil
}

// TargetsFromView builds sampling targets from a registry view.
func TargetsFromView(view *model.RegistryView) []Target {
	res := make([]Target, 0, len(view.Instances))
	for _, i := range view.Instances {
		if !i.Live() {
			continue
		}
		res = append(res, Target{
			Instance: i.InstanceInfo,
			Switches: i.AssignedSwitches,
		})
	}
	return res
}
