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

	"github.com/netscale/netscale/orchestrator/health"
	"github.com/netscale/netscale/orchestrator/model"
	"github.com/netscale/netscale/orchestrator/scaling"
	"github.com/netscale/netscale/orchestrator/traffic"
)

type EventType int

const (
	ActivateBalancer EventType = iota
	DeactivateBalancer
	AddInstance
	RemoveInstance
	ProbeResults
	TrafficReport
	Provisioned
	Connected
	WarmupDone
	Destroyed
	PolicyUpdate
	SwitchDiscovery
)

func (t EventType) String() string {
	switch t {
	case ActivateBalancer:
		return "activate-balancer"
	case DeactivateBalancer:
		return "deactivate-balancer"
	case AddInstance:
		return "add-instance"
	case RemoveInstance:
		return "remove-instance"
	case ProbeResults:
		return "probe-results"
	case TrafficReport:
		return "traffic-report"
	case Provisioned:
		return "provisioned"
	case Connected:
		return "connected"
	case WarmupDone:
		return "warmup-done"
	case Destroyed:
		return "destroyed"
	case PolicyUpdate:
		return "policy-update"
	case SwitchDiscovery:
		return "switch-discovery"
	default:
		return "unknown"
	}
}

// Event is an input of the orchestration loop. Events are applied one at a
// time, in arrival order.
type Event interface {
	Type() EventType
}

type activateEvent struct{}

func (activateEvent) Type() EventType { return ActivateBalancer }

type deactivateEvent struct{}

func (deactivateEvent) Type() EventType { return DeactivateBalancer }

type addInstanceEvent struct{}

func (addInstanceEvent) Type() EventType { return AddInstance }

type removeInstanceEvent struct {
	instanceID string
}

func (removeInstanceEvent) Type() EventType { return RemoveInstance }

type probeEvent struct {
	results []health.Result
}

func (probeEvent) Type() EventType { return ProbeResults }

type trafficEvent struct {
	report traffic.Report
}

func (trafficEvent) Type() EventType { return TrafficReport }

type provisionedEvent struct {
	op   *operation
	info model.InstanceInfo
	err  error
}

func (provisionedEvent) Type() EventType { return Provisioned }

// connectedEvent follows the refresh of the switch wiring for a new instance.
type connectedEvent struct {
	op         *operation
	instanceID string
	err        error
}

func (connectedEvent) Type() EventType { return Connected }

type warmupEvent struct {
	op         *operation
	instanceID string
}

func (warmupEvent) Type() EventType { return WarmupDone }

type destroyedEvent struct {
	// op is nil for the teardown of a failed instance
	op         *operation
	instanceID string
	err        error
}

func (destroyedEvent) Type() EventType { return Destroyed }

type policyEvent struct {
	policy scaling.Policy
}

func (policyEvent) Type() EventType { return PolicyUpdate }

type discoveryEvent struct {
	switches []string
	err      error
}

func (discoveryEvent) Type() EventType { return SwitchDiscovery }

type opKind int

const (
	opScaleUp opKind = iota
	opScaleDown
	opAdd
	opRemove
)

func (k opKind) String() string {
	switch k {
	case opScaleUp:
		return "scale-up"
	case opScaleDown:
		return "scale-down"
	case opAdd:
		return "add-instance"
	default:
		return "remove-instance"
	}
}

// operation is a change of the instance pool. At most one is in flight.
type operation struct {
	id   uint64
	kind opKind
	// instanceID is the instance created, or the one being removed
	instanceID string
}

func (op *operation) String() string {
	if op.instanceID != "" {
		return fmt.Sprintf("%s#%d(%s)", op.kind, op.id, op.instanceID)
	}
	return fmt.Sprintf("%s#%d", op.kind, op.id)
}

func (op *operation) adds() bool {
	return op.kind == opScaleUp || op.kind == opAdd
}

func (op *operation) fromEngine() bool {
	return op.kind == opScaleUp || op.kind == opScaleDown
}

func (op *operation) eventType() EventType {
	if op.adds() {
		return AddInstance
	}
	return RemoveInstance
}
