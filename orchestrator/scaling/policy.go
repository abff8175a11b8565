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

package scaling

import (
	"time"

	"github.com/pkg/errors"
)

type LoadMetric string

const (
	// LoadAverage compares the aggregate rate divided by the number of active instances
	LoadAverage LoadMetric = "average"
	// LoadAggregate compares the aggregate rate across all switches
	LoadAggregate LoadMetric = "aggregate"
)

type Policy struct {
	HighWatermark  float64       `yaml:"highWatermark" mapstructure:"highWatermark"`
	LowWatermark   float64       `yaml:"lowWatermark" mapstructure:"lowWatermark"`
	DebounceWindow time.Duration `yaml:"debounceWindow" mapstructure:"debounceWindow"`
	Cooldown       time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	MinInstances   int           `yaml:"minInstances" mapstructure:"minInstances"`
	MaxInstances   int           `yaml:"maxInstances" mapstructure:"maxInstances"`
	LoadMetric     LoadMetric    `yaml:"loadMetric" mapstructure:"loadMetric"`
}

func NewPolicy() Policy {
	return Policy{
		HighWatermark:  50,
		LowWatermark:   15,
		DebounceWindow: 10 * time.Second,
		Cooldown:       10 * time.Second,
		MinInstances:   1,
		MaxInstances:   5,
		LoadMetric:     LoadAverage,
	}
}

func (p Policy) Validate() error {
	if p.HighWatermark <= p.LowWatermark {
		return errors.Errorf("high watermark (%v) must be greater than low watermark (%v)",
			p.HighWatermark, p.LowWatermark)
	}
	if p.LowWatermark < 0 {
		return errors.Errorf("low watermark must not be negative: %v", p.LowWatermark)
	}
	if p.MinInstances < 1 {
		return errors.Errorf("min instances must be at least 1: %d", p.MinInstances)
	}
	if p.MaxInstances < p.MinInstances {
		return errors.Errorf("max instances (%d) must not be lower than min instances (%d)",
			p.MaxInstances, p.MinInstances)
	}
	if p.DebounceWindow < 0 || p.Cooldown < 0 {
		return errors.New("debounce window and cooldown must not be negative")
	}
	switch p.LoadMetric {
	case LoadAverage, LoadAggregate:
	default:
		return errors.Errorf("unknown load metric %q", p.LoadMetric)
	}
	return nil
}
