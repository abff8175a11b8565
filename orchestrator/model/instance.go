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

package model

import (
	"time"
)

type Role string

const (
	// RoleMasterCandidate is an instance that has been provisioned and is
	// waiting to be handed switches.
	RoleMasterCandidate Role = "MASTER_CANDIDATE"
	// RoleActive serves at least one switch as authority.
	RoleActive Role = "ACTIVE"
	// RoleStandby is running with no switch assigned.
	RoleStandby Role = "STANDBY"
)

type Health string

const (
	HealthHealthy Health = "HEALTHY"
	HealthSuspect Health = "SUSPECT"
	HealthFailed  Health = "FAILED"
)

// InstanceInfo is what a provisioner knows about a running controller.
type InstanceInfo struct {
	ID string `json:"id" yaml:"id" mapstructure:"id"`
	// Endpoint is where switches open their OpenFlow session, e.g. tcp:127.0.0.1:6654
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// APIAddress is the base URL of the controller REST API
	APIAddress string `json:"apiAddress" yaml:"apiAddress" mapstructure:"apiAddress"`
}

type ControllerInstance struct {
	InstanceInfo

	Role             Role
	Health           Health
	AssignedSwitches []string
	CreatedAt        time.Time
	LastHeartbeat    time.Time

	// Seq is the registration order, used as a stable tie-breaker
	Seq uint64
}

func (c *ControllerInstance) Live() bool {
	return c.Health != HealthFailed
}

func (c *ControllerInstance) Clone() ControllerInstance {
	res := *c
	res.AssignedSwitches = append([]string(nil), c.AssignedSwitches...)
	return res
}
