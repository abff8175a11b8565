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
	"time"

	"github.com/pkg/errors"

	"github.com/netscale/netscale/orchestrator/assignment"
	"github.com/netscale/netscale/orchestrator/health"
	"github.com/netscale/netscale/orchestrator/model"
	"github.com/netscale/netscale/orchestrator/scaling"
	"github.com/netscale/netscale/orchestrator/traffic"
	"github.com/netscale/netscale/provision"
)

const (
	DefaultServicePort  = 8000
	DefaultInternalPort = 6649
	DefaultMetricsPort  = 8080

	ProvisionerDocker = "docker"
	ProvisionerStatic = "static"
	ProvisionerMemory = "memory"

	NetworkOVS    = "ovs"
	NetworkStatic = "static"
	NetworkMemory = "memory"

	ProbeHTTP = "http"
	ProbeGRPC = "grpc"

	SamplerRyu        = "ryu"
	SamplerPrometheus = "prometheus"
)

type Config struct {
	ServiceAddr         string `yaml:"serviceAddr" mapstructure:"serviceAddr"`
	InternalServiceAddr string `yaml:"internalServiceAddr" mapstructure:"internalServiceAddr"`
	MetricsServiceAddr  string `yaml:"metricsServiceAddr" mapstructure:"metricsServiceAddr"`

	ProvisionerName string `yaml:"provisioner" mapstructure:"provisioner"`
	NetworkName     string `yaml:"network" mapstructure:"network"`
	ProbeName       string `yaml:"probe" mapstructure:"probe"`
	SamplerName     string `yaml:"sampler" mapstructure:"sampler"`

	Docker provision.DockerConfig `yaml:"docker" mapstructure:"docker"`
	// StaticInstances is the pool of the static provisioner
	StaticInstances []model.InstanceInfo `yaml:"staticInstances" mapstructure:"staticInstances"`
	// Switches is the topology of the static and memory networks
	Switches         []string `yaml:"switches" mapstructure:"switches"`
	Vsctl            string   `yaml:"vsctl" mapstructure:"vsctl"`
	RoleRequestRate  float64  `yaml:"roleRequestRate" mapstructure:"roleRequestRate"`
	RoleRequestBurst int      `yaml:"roleRequestBurst" mapstructure:"roleRequestBurst"`

	// InitialInstances are created on boot when no running instance is found
	InitialInstances int  `yaml:"initialInstances" mapstructure:"initialInstances"`
	LoadBalancing    bool `yaml:"loadBalancing" mapstructure:"loadBalancing"`

	WarmupPeriod      time.Duration `yaml:"warmupPeriod" mapstructure:"warmupPeriod"`
	DiscoveryInterval time.Duration `yaml:"discoveryInterval" mapstructure:"discoveryInterval"`
	OperationTimeout  time.Duration `yaml:"operationTimeout" mapstructure:"operationTimeout"`
	TombstoneTTL      time.Duration `yaml:"tombstoneTTL" mapstructure:"tombstoneTTL"`
	EventQueueSize    int           `yaml:"eventQueueSize" mapstructure:"eventQueueSize"`
	MaxErrors         int           `yaml:"maxErrors" mapstructure:"maxErrors"`

	Policy     scaling.Policy    `yaml:"policy" mapstructure:"policy"`
	Assignment assignment.Config `yaml:"assignment" mapstructure:"assignment"`
	Health     health.Config     `yaml:"health" mapstructure:"health"`
	Traffic    traffic.Config    `yaml:"traffic" mapstructure:"traffic"`
}

func NewConfig() Config {
	return Config{
		ServiceAddr:         fmt.Sprintf("localhost:%d", DefaultServicePort),
		InternalServiceAddr: fmt.Sprintf("localhost:%d", DefaultInternalPort),
		MetricsServiceAddr:  fmt.Sprintf("localhost:%d", DefaultMetricsPort),
		ProvisionerName:     ProvisionerDocker,
		NetworkName:         NetworkOVS,
		ProbeName:           ProbeHTTP,
		SamplerName:         SamplerRyu,
		Docker:              provision.NewDockerConfig(),
		Vsctl:               "ovs-vsctl",
		RoleRequestRate:     50,
		RoleRequestBurst:    10,
		InitialInstances:    1,
		WarmupPeriod:        15 * time.Second,
		DiscoveryInterval:   10 * time.Second,
		OperationTimeout:    2 * time.Minute,
		TombstoneTTL:        10 * time.Minute,
		EventQueueSize:      1024,
		MaxErrors:           20,
		Policy:              scaling.NewPolicy(),
		Assignment:          assignment.NewConfig(),
		Health:              health.NewConfig(),
		Traffic:             traffic.NewConfig(),
	}
}

func (c *Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return errors.Wrap(err, "invalid scaling policy")
	}
	if c.EventQueueSize < 1 {
		return errors.Errorf("event queue size must be positive: %d", c.EventQueueSize)
	}
	if c.WarmupPeriod < 0 {
		return errors.Errorf("warmup period must not be negative: %v", c.WarmupPeriod)
	}
	if c.InitialInstances < 0 {
		return errors.Errorf("initial instances must not be negative: %d", c.InitialInstances)
	}
	if c.Health.SuspectAfter < 1 || c.Health.FailAfter < 1 {
		return errors.New("health thresholds must be at least 1")
	}
	if c.Health.Interval <= 0 || c.Traffic.SampleInterval <= 0 {
		return errors.New("probe and sample intervals must be positive")
	}
	return nil
}
