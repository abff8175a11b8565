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

package assignment

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	cbackoff "github.com/netscale/netscale/common/backoff"
	"github.com/netscale/netscale/common/metric"
	"github.com/netscale/netscale/orchestrator/model"
	"github.com/netscale/netscale/orchestrator/registry"
)

// AuthorityClient instructs a controller to take a role towards a switch.
type AuthorityClient interface {
	SetAuthority(ctx context.Context, switchID string, instance model.InstanceInfo,
		role model.AuthorityRole, generation uint64) error
}

type Config struct {
	// StepTimeout bounds each demote or promote request
	StepTimeout time.Duration `yaml:"stepTimeout" mapstructure:"stepTimeout"`
	// MaxRetries is the number of retries of a failed transition
	MaxRetries    int           `yaml:"maxRetries" mapstructure:"maxRetries"`
	RetryInterval time.Duration `yaml:"retryInterval" mapstructure:"retryInterval"`
}

func NewConfig() Config {
	return Config{
		StepTimeout:   5 * time.Second,
		MaxRetries:    3,
		RetryInterval: 200 * time.Millisecond,
	}
}

type Result struct {
	Moved  []Move
	Failed []Move
}

// Manager maintains the partition of switches and the authority flags. It is
// driven by the orchestration loop, one call at a time.
type Manager struct {
	registry  *registry.Registry
	authority AuthorityClient
	config    Config
	log       *slog.Logger

	transitionLatency  metric.LatencyHistogram
	transitionFailures metric.Counter
	switchesMoved      metric.Counter
}

func NewManager(reg *registry.Registry, authority AuthorityClient, config Config) *Manager {
	return &Manager{
		registry:  reg,
		authority: authority,
		config:    config,
		log: slog.With(
			slog.String("component", "assignment-manager"),
		),
		transitionLatency: metric.NewLatencyHistogram("netscale_role_transition_latency",
			"The time it takes to move a switch between controllers", nil),
		transitionFailures: metric.NewCounter("netscale_role_transition_failures",
			"The number of role transitions abandoned after retries", metric.Dimensionless, nil),
		switchesMoved: metric.NewCounter("netscale_switches_moved",
			"The number of switches moved between controllers", metric.Dimensionless, nil),
	}
}

// Bootstrap asserts the authority of an instance over every switch it owns.
func (m *Manager) Bootstrap(ctx context.Context, instanceID string) error {
	view := m.registry.Snapshot()
	instance, ok := view.Instance(instanceID)
	if !ok {
		return errors.Wrapf(model.ErrInstanceNotFound, "instance %s", instanceID)
	}

	var err error
	for _, sw := range instance.AssignedSwitches {
		err = multierr.Append(err, m.setAuthority(ctx, sw, instance.InstanceInfo, model.AuthorityMaster))
	}
	m.log.Info(
		"Bootstrapped instance authority",
		slog.String("instance-id", instanceID),
		slog.Int("switches", len(instance.AssignedSwitches)),
	)
	return err
}

// AssertSlave makes an instance non-authoritative for every switch it does not own.
func (m *Manager) AssertSlave(ctx context.Context, instanceID string) error {
	view := m.registry.Snapshot()
	instance, ok := view.Instance(instanceID)
	if !ok {
		return errors.Wrapf(model.ErrInstanceNotFound, "instance %s", instanceID)
	}

	var err error
	for _, sw := range view.Switches {
		if sw.CurrentOwner != instanceID {
			err = multierr.Append(err, m.setAuthority(ctx, sw.ID, instance.InstanceInfo, model.AuthoritySlave))
		}
	}
	return err
}

// Rebalance redistributes switches round-robin over the eligible instances,
// applying only the moves that differ from the current partition.
func (m *Manager) Rebalance(ctx context.Context, reason string) (Result, error) {
	view := m.registry.Snapshot()
	targets := eligibleTargets(&view, "")
	target := RoundRobin(targets, view.SwitchIDs())
	moves := Delta(view.Partition(), target)

	m.log.Info(
		"Rebalancing switches",
		slog.String("reason", reason),
		slog.Any("instances", targets),
		slog.Int("moves", len(moves)),
	)
	return m.apply(ctx, moves, false)
}

// Evacuate moves every switch of an instance onto the other eligible
// instances, least loaded first. On failover the dead instance is not asked
// to demote.
func (m *Manager) Evacuate(ctx context.Context, instanceID string, failover bool) (Result, error) {
	view := m.registry.Snapshot()
	instance, ok := view.Instance(instanceID)
	if !ok {
		return Result{}, errors.Wrapf(model.ErrInstanceNotFound, "instance %s", instanceID)
	}

	targets := eligibleTargets(&view, instanceID)
	if len(targets) == 0 {
		if len(instance.AssignedSwitches) == 0 {
			return Result{}, nil
		}
		return Result{}, errors.Wrapf(model.ErrOwnershipGap, "no instance can take over from %s", instanceID)
	}

	load := map[string]int{}
	for _, t := range targets {
		i, _ := view.Instance(t)
		load[t] = len(i.AssignedSwitches)
	}

	moves := make([]Move, 0, len(instance.AssignedSwitches))
	for _, sw := range instance.AssignedSwitches {
		to := leastLoaded(targets, load)
		load[to]++
		moves = append(moves, Move{Switch: sw, From: instanceID, To: to})
	}

	m.log.Info(
		"Evacuating instance",
		slog.String("instance-id", instanceID),
		slog.Bool("failover", failover),
		slog.Int("moves", len(moves)),
	)
	return m.apply(ctx, moves, failover)
}

// RepairGaps gives every unowned switch an owner, when any instance is live.
func (m *Manager) RepairGaps(ctx context.Context) (Result, error) {
	view := m.registry.Snapshot()
	targets := eligibleTargets(&view, "")
	if len(targets) == 0 {
		return Result{}, nil
	}

	load := map[string]int{}
	for _, t := range targets {
		i, _ := view.Instance(t)
		load[t] = len(i.AssignedSwitches)
	}

	var moves []Move
	for _, sw := range view.Switches {
		if sw.CurrentOwner != "" {
			continue
		}
		to := leastLoaded(targets, load)
		load[to]++
		moves = append(moves, Move{Switch: sw.ID, To: to})
	}

	if len(moves) == 0 {
		return Result{}, nil
	}
	m.log.Warn(
		"Repairing ownership gaps",
		slog.Int("switches", len(moves)),
	)
	res, err := m.apply(ctx, moves, true)
	for _, failed := range res.Failed {
		m.registry.FlagGap(failed.Switch)
	}
	return res, err
}

// PlaceSwitch registers a newly discovered switch and makes its owner
// authoritative. An owner that does not confirm gives the switch up, and it
// is left for RepairGaps.
func (m *Manager) PlaceSwitch(ctx context.Context, switchID string) error {
	owner, err := m.registry.AddSwitch(switchID)
	if err != nil {
		return err
	}

	view := m.registry.Snapshot()
	for _, instance := range view.Instances {
		if !instance.Live() {
			continue
		}
		if instance.ID != owner {
			err = multierr.Append(err, m.setAuthority(ctx, switchID, instance.InstanceInfo, model.AuthoritySlave))
			continue
		}
		if mErr := m.setAuthority(ctx, switchID, instance.InstanceInfo, model.AuthorityMaster); mErr != nil {
			err = multierr.Append(err, mErr)
			err = multierr.Append(err, m.registry.ReleaseSwitch(switchID))
		}
	}
	return err
}

// unresponsiveError names the instance that did not confirm a role change.
type unresponsiveError struct {
	instanceID string
	err        error
}

func (e *unresponsiveError) Error() string {
	return e.err.Error()
}

func (e *unresponsiveError) Unwrap() error {
	return e.err
}

// apply runs the moves in order. Once an instance has exhausted its retries,
// the remaining moves involving it fail without being attempted.
func (m *Manager) apply(ctx context.Context, moves []Move, failover bool) (Result, error) {
	var res Result
	var err error
	unresponsive := map[string]bool{}
	for _, move := range moves {
		if unresponsive[move.To] || (!failover && unresponsive[move.From]) {
			res.Failed = append(res.Failed, move)
			err = multierr.Append(err, errors.Wrapf(model.ErrRoleTransitionTimeout,
				"switch %s skipped, %s -> %s has an unresponsive side", move.Switch, move.From, move.To))
			continue
		}

		if e := m.transfer(ctx, move, failover); e != nil {
			res.Failed = append(res.Failed, move)
			err = multierr.Append(err, e)

			var u *unresponsiveError
			if errors.As(e, &u) {
				unresponsive[u.instanceID] = true
			}
			continue
		}
		res.Moved = append(res.Moved, move)
	}
	return res, err
}

// transfer runs the role transition protocol for one switch, with bounded retries.
func (m *Manager) transfer(ctx context.Context, move Move, failover bool) error {
	timer := m.transitionLatency.Timer()
	attempts := 0

	err := backoff.RetryNotify(func() error {
		attempts++
		return m.transferOnce(ctx, move, failover)
	}, cbackoff.NewBoundedBackOff(ctx, m.config.RetryInterval, m.config.MaxRetries),
		func(err error, duration time.Duration) {
			m.log.Warn(
				"Role transition failed",
				slog.Any("move", move),
				slog.Any("error", err),
				slog.Duration("retry-after", duration),
			)
		})

	if err != nil {
		m.transitionFailures.Inc()
		m.log.Error(
			"Abandoned role transition",
			slog.Any("move", move),
			slog.Int("attempts", attempts),
			slog.Any("error", err),
		)
		if errors.Is(err, model.ErrInstanceNotFound) || errors.Is(err, model.ErrSwitchNotFound) {
			return err
		}
		timeout := errors.Wrapf(model.ErrRoleTransitionTimeout, "switch %s after %d attempts: %v", move.Switch, attempts, err)
		var u *unresponsiveError
		if errors.As(err, &u) {
			return &unresponsiveError{instanceID: u.instanceID, err: timeout}
		}
		return timeout
	}

	timer.Done()
	m.switchesMoved.Inc()
	m.log.Debug(
		"Switch moved",
		slog.Any("move", move),
	)
	return nil
}

func (m *Manager) transferOnce(ctx context.Context, move Move, failover bool) error {
	view := m.registry.Snapshot()
	to, ok := view.Instance(move.To)
	if !ok || !to.Live() {
		return backoff.Permanent(errors.Wrapf(model.ErrInstanceNotFound, "target %s", move.To))
	}

	var from model.ControllerInstance
	hasFrom := false
	if move.From != "" {
		from, hasFrom = view.Instance(move.From)
	}
	demote := hasFrom && from.Live() && !failover

	// 1. Pending authority
	if err := m.registry.SetPending(move.Switch, move.To); err != nil {
		return backoff.Permanent(err)
	}

	// 2. Demote the current owner
	if demote {
		if err := m.setAuthority(ctx, move.Switch, from.InstanceInfo, model.AuthoritySlave); err != nil {
			m.rollback(ctx, move, from)
			return &unresponsiveError{instanceID: from.ID, err: err}
		}
	}

	// 3. Promote the new owner
	if err := m.setAuthority(ctx, move.Switch, to.InstanceInfo, model.AuthorityMaster); err != nil {
		if demote {
			m.rollback(ctx, move, from)
		} else {
			m.registry.ClearPending(move.Switch)
		}
		return &unresponsiveError{instanceID: to.ID, err: err}
	}

	// 4. Ownership changes only after the promotion is confirmed
	if err := m.registry.MoveSwitch(move.Switch, move.From, move.To); err != nil {
		m.registry.ClearPending(move.Switch)
		return backoff.Permanent(err)
	}
	return nil
}

// rollback keeps the previous owner authoritative.
func (m *Manager) rollback(ctx context.Context, move Move, from model.ControllerInstance) {
	m.registry.ClearPending(move.Switch)
	if err := m.setAuthority(ctx, move.Switch, from.InstanceInfo, model.AuthorityMaster); err != nil {
		m.log.Warn(
			"Failed to re-assert previous owner",
			slog.Any("move", move),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) setAuthority(ctx context.Context, switchID string, instance model.InstanceInfo, role model.AuthorityRole) error {
	stepCtx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
	defer cancel()

	err := m.authority.SetAuthority(stepCtx, switchID, instance, role, m.registry.NextGeneration())
	if err != nil {
		return errors.Wrapf(err, "set %s on %s for %s", role, instance.ID, switchID)
	}
	return nil
}

// eligibleTargets lists live instances that may own switches, in
// registration order. Candidates still warming up are excluded unless
// nothing else is available.
func eligibleTargets(view *model.RegistryView, exclude string) []string {
	var res, candidates []string
	for _, i := range view.Instances {
		if i.ID == exclude || !i.Live() {
			continue
		}
		if i.Role == model.RoleMasterCandidate {
			candidates = append(candidates, i.ID)
			continue
		}
		res = append(res, i.ID)
	}
	if len(res) == 0 {
		return candidates
	}
	return res
}

func leastLoaded(targets []string, load map[string]int) string {
	best := targets[0]
	for _, t := range targets[1:] {
		if load[t] < load[best] {
			best = t
		}
	}
	return best
}
