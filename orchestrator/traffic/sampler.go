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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/netscale/netscale/orchestrator/model"
)

// Target is one controller instance to sample, with the switches it owns.
type Target struct {
	Instance model.InstanceInfo
	Switches []string
}

// Counters are the cumulative packet-in counters read from one instance.
type Counters struct {
	Total uint64
	// PerSwitch is optional, keyed by switch id
	PerSwitch map[string]uint64
}

type Sampler interface {
	Sample(ctx context.Context, target Target) (Counters, error)
}

type ryuMetrics struct {
	PacketInCount     uint64            `json:"packet_in_count"`
	Switches          []uint64          `json:"switches"`
	PacketInPerSwitch map[string]uint64 `json:"packet_in_per_switch,omitempty"`
}

// RyuSampler reads the JSON /metrics endpoint of a Ryu controller.
type RyuSampler struct {
	Client *http.Client
}

func NewRyuSampler() *RyuSampler {
	return &RyuSampler{Client: &http.Client{}}
}

func (s *RyuSampler) Sample(ctx context.Context, target Target) (Counters, error) {
	res, err := get(ctx, s.Client, target.Instance.APIAddress, "/metrics")
	if err != nil {
		return Counters{}, err
	}
	defer res.Body.Close()

	var m ryuMetrics
	if err := json.NewDecoder(res.Body).Decode(&m); err != nil {
		return Counters{}, errors.Wrapf(err, "failed to decode metrics of %s", target.Instance.ID)
	}

	c := Counters{Total: m.PacketInCount}
	if len(m.PacketInPerSwitch) > 0 {
		c.PerSwitch = make(map[string]uint64, len(m.PacketInPerSwitch))
		for dpid, count := range m.PacketInPerSwitch {
			c.PerSwitch[switchKey(dpid)] = count
		}
	}
	return c, nil
}

// PrometheusSampler reads a counter from a Prometheus text exposition
// endpoint. Series carrying the datapath label give per-switch counts.
type PrometheusSampler struct {
	Client     *http.Client
	Path       string
	MetricName string
	DPIDLabel  string
}

func NewPrometheusSampler() *PrometheusSampler {
	return &PrometheusSampler{
		Client:     &http.Client{},
		Path:       "/metrics",
		MetricName: "ryu_packet_in_total",
		DPIDLabel:  "dpid",
	}
}

func (s *PrometheusSampler) Sample(ctx context.Context, target Target) (Counters, error) {
	res, err := get(ctx, s.Client, target.Instance.APIAddress, s.Path)
	if err != nil {
		return Counters{}, err
	}
	defer res.Body.Close()

	parser := expfmt.TextParser{}
	families, err := parser.TextToMetricFamilies(res.Body)
	if err != nil {
		return Counters{}, errors.Wrapf(err, "failed to parse metrics of %s", target.Instance.ID)
	}

	family, ok := families[s.MetricName]
	if !ok {
		return Counters{}, errors.Errorf("metric %s not exposed by %s", s.MetricName, target.Instance.ID)
	}

	c := Counters{}
	for _, m := range family.GetMetric() {
		value := uint64(metricValue(family.GetType(), m))
		c.Total += value

		for _, label := range m.GetLabel() {
			if label.GetName() == s.DPIDLabel {
				if c.PerSwitch == nil {
					c.PerSwitch = map[string]uint64{}
				}
				c.PerSwitch[switchKey(label.GetValue())] += value
			}
		}
	}
	return c, nil
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return m.GetUntyped().GetValue()
	}
}

// switchKey accepts either a bare datapath id or a switch name.
func switchKey(raw string) string {
	if raw != "" && raw[0] >= '0' && raw[0] <= '9' {
		if dpid, err := model.DatapathID(raw); err == nil {
			return model.SwitchIDFromDatapath(dpid)
		}
	}
	return raw
}

func get(ctx context.Context, client *http.Client, base string, path string) (*http.Response, error) {
	if base == "" {
		return nil, errors.New("instance has no API address")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return nil, errors.Errorf("GET %s%s returned %s", base, path, res.Status)
	}
	return res, nil
}
