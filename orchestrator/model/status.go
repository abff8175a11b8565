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

import "time"

// RegistryView is a deep copy of the registry, safe to hand to any reader.
type RegistryView struct {
	Instances  []ControllerInstance
	Switches   []Switch
	Generation uint64
}

func (v *RegistryView) Instance(id string) (ControllerInstance, bool) {
	for _, i := range v.Instances {
		if i.ID == id {
			return i, true
		}
	}
	return ControllerInstance{}, false
}

// LiveInstances returns the ids of the non-failed instances in registration order.
func (v *RegistryView) LiveInstances() []string {
	res := make([]string, 0, len(v.Instances))
	for _, i := range v.Instances {
		if i.Live() {
			res = append(res, i.ID)
		}
	}
	return res
}

func (v *RegistryView) SwitchIDs() []string {
	res := make([]string, 0, len(v.Switches))
	for _, s := range v.Switches {
		res = append(res, s.ID)
	}
	return res
}

// Partition maps every owned switch to its owner.
func (v *RegistryView) Partition() map[string]string {
	res := make(map[string]string, len(v.Switches))
	for _, s := range v.Switches {
		if s.CurrentOwner != "" {
			res[s.ID] = s.CurrentOwner
		}
	}
	return res
}

type InstanceStatus struct {
	ID            string    `json:"id"`
	Endpoint      string    `json:"endpoint"`
	Role          Role      `json:"role"`
	Health        Health    `json:"health"`
	SwitchCount   int       `json:"switchCount"`
	Switches      []string  `json:"switches"`
	Load          float64   `json:"load"`
	CreatedAt     time.Time `json:"createdAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

type SwitchStatus struct {
	ID           string  `json:"id"`
	Owner        string  `json:"owner,omitempty"`
	PendingOwner string  `json:"pendingOwner,omitempty"`
	PPS          float64 `json:"pps"`
	OwnershipGap bool    `json:"ownershipGap,omitempty"`
}

type ErrorRecord struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Status is the read-only snapshot exposed to the presentation layer.
type Status struct {
	Instances     []InstanceStatus `json:"instances"`
	Switches      []SwitchStatus   `json:"switches"`
	ScalingState  string           `json:"scalingState"`
	LoadBalancing bool             `json:"loadBalancing"`
	AggregatePPS  float64          `json:"aggregatePps"`
	AveragePPS    float64          `json:"averagePps"`
	InFlight      string           `json:"inFlight,omitempty"`
	Deferred      []string         `json:"deferred,omitempty"`
	OwnershipGaps []string         `json:"ownershipGaps,omitempty"`
	LastEvent     string           `json:"lastEvent,omitempty"`
	Errors        []ErrorRecord    `json:"errors,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// LiveInstances counts the instances not confirmed failed.
func (s *Status) LiveInstances() int {
	count := 0
	for _, i := range s.Instances {
		if i.Health != HealthFailed {
			count++
		}
	}
	return count
}
