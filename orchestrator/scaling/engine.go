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
	"log/slog"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/netscale/netscale/orchestrator/model"
)

type State string

const (
	StateIdle        State = "IDLE"
	StateMonitoring  State = "MONITORING"
	StateScalingUp   State = "SCALING_UP"
	StateScalingDown State = "SCALING_DOWN"
)

type Decision int

const (
	DecisionNone Decision = iota
	DecisionScaleUp
	DecisionScaleDown
)

func (d Decision) String() string {
	switch d {
	case DecisionScaleUp:
		return "scale-up"
	case DecisionScaleDown:
		return "scale-down"
	default:
		return "none"
	}
}

type Load struct {
	AggregatePPS float64
	// ActiveInstances counts the live instances eligible to own switches
	ActiveInstances int
	// PendingOps counts scale operations started outside the engine and not yet resolved
	PendingOps int
}

// Engine is the scaling state machine. It only keeps transient state: the
// debounce windows and the marker of the operation in flight.
type Engine struct {
	sync.Mutex

	policy Policy
	state  State
	active bool

	aboveSince    time.Time
	belowSince    time.Time
	lastCompleted time.Time

	clock clock.PassiveClock
	log   *slog.Logger
}

func NewEngine(policy Policy, clk clock.PassiveClock) *Engine {
	return &Engine{
		policy: policy,
		state:  StateIdle,
		clock:  clk,
		log: slog.With(
			slog.String("component", "scaling-engine"),
		),
	}
}

func (e *Engine) State() State {
	e.Lock()
	defer e.Unlock()
	return e.state
}

func (e *Engine) Active() bool {
	e.Lock()
	defer e.Unlock()
	return e.active
}

func (e *Engine) Policy() Policy {
	e.Lock()
	defer e.Unlock()
	return e.policy
}

// SetPolicy replaces the thresholds. Debounce windows restart.
func (e *Engine) SetPolicy(policy Policy) {
	e.Lock()
	defer e.Unlock()
	e.policy = policy
	e.resetWindows()
	e.log.Info(
		"Scaling policy updated",
		slog.Any("policy", policy),
	)
}

// Activate engages load balancing mode.
func (e *Engine) Activate() {
	e.Lock()
	defer e.Unlock()
	e.active = true
	if e.state == StateIdle {
		e.transition(StateMonitoring)
	}
}

// Deactivate stops automatic scaling. An operation in flight still
// completes, and the engine goes idle afterwards.
func (e *Engine) Deactivate() {
	e.Lock()
	defer e.Unlock()
	e.active = false
	if e.state == StateMonitoring {
		e.transition(StateIdle)
	}
}

// Evaluate feeds one smoothed load observation. It returns a decision only
// on the transition into a scaling state.
func (e *Engine) Evaluate(load Load) Decision {
	e.Lock()
	defer e.Unlock()

	if e.state != StateMonitoring {
		// Crossings during an operation in flight are coalesced into it
		return DecisionNone
	}

	value := load.AggregatePPS
	if e.policy.LoadMetric == LoadAverage && load.ActiveInstances > 0 {
		value = load.AggregatePPS / float64(load.ActiveInstances)
	}

	now := e.clock.Now()
	coolingDown := !e.lastCompleted.IsZero() && now.Sub(e.lastCompleted) < e.policy.Cooldown

	switch {
	case value > e.policy.HighWatermark:
		e.belowSince = time.Time{}
		if e.aboveSince.IsZero() {
			e.aboveSince = now
		}
		if now.Sub(e.aboveSince) < e.policy.DebounceWindow || coolingDown || load.PendingOps > 0 {
			return DecisionNone
		}
		if load.ActiveInstances >= e.policy.MaxInstances {
			e.log.Debug(
				"Load above high watermark, at max instances",
				slog.Float64("load", value),
				slog.Int("instances", load.ActiveInstances),
			)
			return DecisionNone
		}
		e.log.Info(
			"Load above high watermark",
			slog.Float64("load", value),
			slog.Float64("high-watermark", e.policy.HighWatermark),
		)
		e.transition(StateScalingUp)
		return DecisionScaleUp

	case value < e.policy.LowWatermark:
		e.aboveSince = time.Time{}
		if e.belowSince.IsZero() {
			e.belowSince = now
		}
		if now.Sub(e.belowSince) < e.policy.DebounceWindow || coolingDown || load.PendingOps > 0 {
			return DecisionNone
		}
		if load.ActiveInstances <= 1 || load.ActiveInstances <= e.policy.MinInstances {
			return DecisionNone
		}
		e.log.Info(
			"Load below low watermark",
			slog.Float64("load", value),
			slog.Float64("low-watermark", e.policy.LowWatermark),
		)
		e.transition(StateScalingDown)
		return DecisionScaleDown

	default:
		e.resetWindows()
		return DecisionNone
	}
}

// Complete resolves the operation in flight, successful or not. A failed
// scale-up is retried only after a new sustained crossing.
func (e *Engine) Complete(success bool) {
	e.Lock()
	defer e.Unlock()

	if e.state != StateScalingUp && e.state != StateScalingDown {
		return
	}

	e.log.Info(
		"Scaling operation completed",
		slog.Any("state", e.state),
		slog.Bool("success", success),
	)
	e.lastCompleted = e.clock.Now()
	e.resetWindows()
	if e.active {
		e.transition(StateMonitoring)
	} else {
		e.transition(StateIdle)
	}
}

func (e *Engine) transition(state State) {
	e.log.Debug(
		"Scaling state transition",
		slog.Any("from", e.state),
		slog.Any("to", state),
	)
	e.state = state
	e.resetWindows()
}

func (e *Engine) resetWindows() {
	e.aboveSince = time.Time{}
	e.belowSince = time.Time{}
}

// PickVictim selects the instance to remove on scale-down: the live ACTIVE
// instance with the fewest switches, the oldest on ties, then registration
// order. STANDBY instances are picked only when no ACTIVE one is live.
// Candidates still warming up are never picked.
func PickVictim(instances []model.ControllerInstance) (string, bool) {
	candidates := withRole(instances, model.RoleActive)
	if len(candidates) == 0 {
		candidates = withRole(instances, model.RoleStandby)
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if len(ca.AssignedSwitches) != len(cb.AssignedSwitches) {
			return len(ca.AssignedSwitches) < len(cb.AssignedSwitches)
		}
		if !ca.CreatedAt.Equal(cb.CreatedAt) {
			return ca.CreatedAt.Before(cb.CreatedAt)
		}
		return ca.Seq < cb.Seq
	})
	return candidates[0].ID, true
}

func withRole(instances []model.ControllerInstance, role model.Role) []model.ControllerInstance {
	res := make([]model.ControllerInstance, 0, len(instances))
	for _, i := range instances {
		if i.Live() && i.Role == role {
			res = append(res, i)
		}
	}
	return res
}
