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
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/utils/clock"

	"github.com/netscale/netscale/common/channel"
	"github.com/netscale/netscale/common/metric"
	"github.com/netscale/netscale/common/process"
	"github.com/netscale/netscale/network"
	"github.com/netscale/netscale/orchestrator/assignment"
	"github.com/netscale/netscale/orchestrator/health"
	"github.com/netscale/netscale/orchestrator/model"
	"github.com/netscale/netscale/orchestrator/registry"
	"github.com/netscale/netscale/orchestrator/scaling"
	"github.com/netscale/netscale/orchestrator/traffic"
	"github.com/netscale/netscale/provision"
)

// Options carries the collaborators of the orchestrator.
type Options struct {
	Provisioner provision.Provisioner
	Network     network.Network
	Probe       health.Probe
	Sampler     traffic.Sampler
	// Clock defaults to the wall clock
	Clock clock.WithTicker
}

// Orchestrator is the single writer of the control plane state. Every
// input is turned into an event and applied by one goroutine; slow work
// (provisioning, teardown, switch wiring, warmup) runs in workers whose
// results come back as events.
type Orchestrator struct {
	*sync.WaitGroup

	config      Config
	registry    *registry.Registry
	assignment  *assignment.Manager
	engine      *scaling.Engine
	monitor     *health.Monitor
	collector   *traffic.Collector
	provisioner provision.Provisioner
	network     network.Network
	probe       health.Probe
	clock       clock.WithTicker

	events chan Event
	status atomic.Pointer[model.Status]

	// Owned by the loop goroutine
	inFlight  *operation
	deferred  *linkedlistqueue.Queue
	nextOp    uint64
	lastEvent string
	errs      *circularbuffer.Queue
	// inline runs workers on the caller goroutine and skips timers
	inline bool

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	scaleUps    metric.Counter
	scaleDowns  metric.Counter
	failovers   metric.Counter
	eventErrors metric.Counter
	gauges      []metric.Gauge
}

func New(config Config, options Options) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if options.Provisioner == nil || options.Network == nil || options.Probe == nil || options.Sampler == nil {
		return nil, errors.New("provisioner, network, probe and sampler are required")
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	maxErrors := config.MaxErrors
	if maxErrors < 1 {
		maxErrors = 1
	}

	o := &Orchestrator{
		WaitGroup:   &sync.WaitGroup{},
		config:      config,
		provisioner: options.Provisioner,
		network:     options.Network,
		probe:       options.Probe,
		clock:       clk,
		events:      make(chan Event, config.EventQueueSize),
		deferred:    linkedlistqueue.New(),
		errs:        circularbuffer.New(maxErrors),
		log: slog.With(
			slog.String("component", "orchestrator"),
		),
		scaleUps: metric.NewCounter("netscale_scale_ups",
			"The number of completed scale-up operations", metric.Dimensionless, nil),
		scaleDowns: metric.NewCounter("netscale_scale_downs",
			"The number of completed scale-down operations", metric.Dimensionless, nil),
		failovers: metric.NewCounter("netscale_failovers",
			"The number of confirmed instance failures", metric.Dimensionless, nil),
		eventErrors: metric.NewCounter("netscale_event_errors",
			"The number of events that completed with an error", metric.Dimensionless, nil),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())

	o.registry = registry.New(clk, config.TombstoneTTL)
	o.assignment = assignment.NewManager(o.registry, options.Network, config.Assignment)
	o.engine = scaling.NewEngine(config.Policy, clk)
	o.monitor = health.NewMonitor(config.Health, options.Probe, clk, o.probeTargets, func(results []health.Result) {
		o.offer(probeEvent{results: results})
	})
	o.collector = traffic.NewCollector(config.Traffic, options.Sampler, clk, o.trafficTargets, func(report traffic.Report) {
		o.offer(trafficEvent{report: report})
	})

	o.publish()
	o.gauges = []metric.Gauge{
		metric.NewGauge("netscale_instances", "The number of live controller instances", metric.Dimensionless, nil,
			func() int64 {
				return int64(o.Status().LiveInstances())
			}),
		metric.NewGauge("netscale_unowned_switches", "The number of switches without authoritative controller",
			metric.Dimensionless, nil, func() int64 {
				return int64(len(o.Status().OwnershipGaps))
			}),
		metric.NewFloatGauge("netscale_aggregate_pps", "The smoothed packet-in rate across all switches",
			metric.PacketsPerSec, nil, func() float64 {
				return o.Status().AggregatePPS
			}),
	}

	return o, nil
}

func (o *Orchestrator) Start() {
	o.Add(1)
	go process.DoWithLabels(
		o.ctx,
		map[string]string{
			"netscale": "orchestrator",
		},
		func() {
			defer o.Done()
			o.reconcile()
			o.run()
		},
	)

	o.monitor.Start()
	o.collector.Start()
	if o.config.DiscoveryInterval > 0 {
		o.startDiscovery()
	}
}

func (o *Orchestrator) run() {
	for {
		select {
		case ev := <-o.events:
			o.handle(ev)

		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) startDiscovery() {
	o.Add(1)
	go process.DoWithLabels(
		o.ctx,
		map[string]string{
			"netscale": "switch-discovery",
		},
		func() {
			defer o.Done()

			ticker := o.clock.NewTicker(o.config.DiscoveryInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C():
					ctx, cancel := context.WithTimeout(o.ctx, o.config.DiscoveryInterval)
					switches, err := o.network.Switches(ctx)
					cancel()
					o.offer(discoveryEvent{switches: switches, err: err})

				case <-o.ctx.Done():
					return
				}
			}
		},
	)
}

// Status returns the latest published snapshot. It never blocks on the loop.
func (o *Orchestrator) Status() *model.Status {
	return o.status.Load()
}

func (o *Orchestrator) ActivateLoadBalancer() error {
	return o.submit(activateEvent{})
}

func (o *Orchestrator) DeactivateLoadBalancer() error {
	return o.submit(deactivateEvent{})
}

// AddInstance requests one more controller instance.
func (o *Orchestrator) AddInstance() error {
	return o.submit(addInstanceEvent{})
}

// RemoveInstance requests the graceful removal of an instance.
func (o *Orchestrator) RemoveInstance(instanceID string) error {
	return o.submit(removeInstanceEvent{instanceID: instanceID})
}

// UpdatePolicy replaces the scaling thresholds.
func (o *Orchestrator) UpdatePolicy(policy scaling.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	return o.submit(policyEvent{policy: policy})
}

// submit enqueues an operator command without blocking.
func (o *Orchestrator) submit(ev Event) error {
	if o.ctx.Err() != nil {
		return model.ErrClosed
	}
	if !channel.PushNoBlock(o.events, ev) {
		o.log.Warn(
			"Rejected command, event queue is full",
			slog.Any("event", ev.Type()),
		)
		return model.ErrQueueFull
	}
	return nil
}

// offer enqueues a periodic observation. A dropped one is superseded by the next.
func (o *Orchestrator) offer(ev Event) {
	if !channel.PushNoBlock(o.events, ev) {
		o.log.Warn(
			"Dropped event, event queue is full",
			slog.Any("event", ev.Type()),
		)
	}
}

// push enqueues the result of a worker. Results are never dropped.
func (o *Orchestrator) push(ev Event) {
	select {
	case o.events <- ev:
	case <-o.ctx.Done():
	}
}

// spawn runs a worker and feeds its result back to the loop.
func (o *Orchestrator) spawn(task string, f func(ctx context.Context) Event) {
	if o.inline {
		o.push(f(o.ctx))
		return
	}

	o.Add(1)
	go process.DoWithLabels(
		o.ctx,
		map[string]string{
			"netscale": "orchestrator-" + task,
		},
		func() {
			defer o.Done()
			ctx, cancel := context.WithTimeout(o.ctx, o.config.OperationTimeout)
			defer cancel()
			o.push(f(ctx))
		},
	)
}

// after delivers an event once the delay has elapsed. Callers on the loop
// handle a zero delay themselves: pushing from the loop blocks on a full queue.
func (o *Orchestrator) after(delay time.Duration, ev Event) {
	if o.inline {
		o.push(ev)
		return
	}

	o.Add(1)
	go process.DoWithLabels(
		o.ctx,
		map[string]string{
			"netscale": "orchestrator-timer",
		},
		func() {
			defer o.Done()
			select {
			case <-o.clock.After(delay):
				o.push(ev)
			case <-o.ctx.Done():
			}
		},
	)
}

func (o *Orchestrator) handle(ev Event) {
	var err error
	switch e := ev.(type) {
	case activateEvent:
		err = o.activate()
	case deactivateEvent:
		o.engine.Deactivate()
		o.note("Load balancing deactivated")
	case addInstanceEvent:
		err = o.enqueue(opAdd, "")
	case removeInstanceEvent:
		err = o.requestRemoval(e.instanceID)
	case probeEvent:
		err = o.onProbes(e.results)
	case trafficEvent:
		err = o.onTraffic(e.report)
	case provisionedEvent:
		err = o.onProvisioned(e)
	case connectedEvent:
		err = o.onConnected(e)
	case warmupEvent:
		err = o.onWarmup(e)
	case destroyedEvent:
		err = o.onDestroyed(e)
	case policyEvent:
		o.engine.SetPolicy(e.policy)
		o.note("Scaling policy updated")
	case discoveryEvent:
		err = o.onDiscovery(e)
	}

	if err != nil {
		o.recordError(ev.Type(), err)
	}
	o.publish()
}

func (o *Orchestrator) activate() error {
	o.engine.Activate()
	o.note("Load balancing activated")
	_, err := o.assignment.Rebalance(o.ctx, "load balancing activated")
	return err
}

func (o *Orchestrator) requestRemoval(instanceID string) error {
	instance, err := o.registry.GetInstance(instanceID)
	if err != nil {
		return err
	}
	if !instance.Live() {
		return errors.Wrapf(model.ErrInstanceNotFound, "instance %s is failed", instanceID)
	}
	return o.enqueue(opRemove, instanceID)
}

// enqueue starts a pool operation, or defers it behind the one in flight.
func (o *Orchestrator) enqueue(kind opKind, instanceID string) error {
	o.nextOp++
	op := &operation{id: o.nextOp, kind: kind, instanceID: instanceID}
	if o.inFlight != nil {
		o.deferred.Enqueue(op)
		o.note("Operation deferred",
			slog.Any("operation", op),
			slog.Any("in-flight", o.inFlight),
		)
		return nil
	}
	return o.launch(op)
}

func (o *Orchestrator) launch(op *operation) error {
	o.inFlight = op
	if err := o.start(op); err != nil {
		o.finish(op, false)
		return errors.Wrapf(err, "operation %s", op)
	}
	return nil
}

func (o *Orchestrator) start(op *operation) error {
	switch op.kind {
	case opScaleUp, opAdd:
		o.note("Provisioning controller instance", slog.Any("operation", op))
		o.spawn("provision", func(ctx context.Context) Event {
			info, err := o.provisioner.CreateInstance(ctx)
			return provisionedEvent{op: op, info: info, err: err}
		})
		return nil

	case opScaleDown:
		victim, ok := scaling.PickVictim(o.registry.ListInstances())
		if !ok {
			return errors.New("no instance can be removed")
		}
		op.instanceID = victim
		return o.retire(op)

	default:
		return o.retire(op)
	}
}

// finish resolves the operation in flight and starts the next deferred one.
func (o *Orchestrator) finish(op *operation, success bool) {
	if o.inFlight != op {
		return
	}
	o.inFlight = nil

	if op.fromEngine() {
		o.engine.Complete(success)
	}
	if success {
		if op.adds() {
			o.scaleUps.Inc()
		} else {
			o.scaleDowns.Inc()
		}
	}
	o.note("Operation completed",
		slog.Any("operation", op),
		slog.Bool("success", success),
	)

	if value, ok := o.deferred.Dequeue(); ok {
		next := value.(*operation)
		if err := o.launch(next); err != nil {
			o.recordError(next.eventType(), err)
		}
	}
}

// retire moves every switch off an instance, drops it from the registry and
// tears it down. The instance is kept when any switch could not be moved.
func (o *Orchestrator) retire(op *operation) error {
	id := op.instanceID
	instance, err := o.registry.GetInstance(id)
	if err != nil {
		return err
	}

	o.note("Evacuating controller instance",
		slog.String("instance-id", id),
		slog.Int("switches", len(instance.AssignedSwitches)),
	)
	res, err := o.assignment.Evacuate(o.ctx, id, !instance.Live())
	if err != nil {
		return errors.Wrapf(err, "%d switches could not leave %s", len(instance.AssignedSwitches)-len(res.Moved), id)
	}
	if err := o.registry.RemoveInstance(id, false); err != nil {
		return err
	}
	o.forget(instance.InstanceInfo)

	o.teardown(op, id)
	return nil
}

// teardown rewires the switches without the instance and destroys it.
func (o *Orchestrator) teardown(op *operation, instanceID string) {
	endpoints := o.endpoints()
	o.spawn("destroy", func(ctx context.Context) Event {
		err := o.network.Connect(ctx, endpoints)
		if e := o.provisioner.DestroyInstance(ctx, instanceID); e != nil && !errors.Is(e, model.ErrNotFound) {
			err = multierr.Append(err, e)
		}
		return destroyedEvent{op: op, instanceID: instanceID, err: err}
	})
}

func (o *Orchestrator) onProvisioned(e provisionedEvent) error {
	if e.err != nil {
		o.finish(e.op, false)
		if errors.Is(e.err, model.ErrProvision) {
			return e.err
		}
		return errors.Wrapf(model.ErrProvision, "%v", e.err)
	}

	e.op.instanceID = e.info.ID
	instance, err := o.registry.AddInstanceWithID(e.info, model.RoleMasterCandidate)
	if err != nil {
		o.finish(e.op, false)
		return err
	}
	o.note("Controller instance provisioned",
		slog.String("instance-id", instance.ID),
		slog.Any("role", instance.Role),
		slog.String("endpoint", instance.Endpoint),
	)

	endpoints := o.endpoints()
	o.spawn("connect", func(ctx context.Context) Event {
		return connectedEvent{op: e.op, instanceID: instance.ID, err: o.network.Connect(ctx, endpoints)}
	})
	return nil
}

func (o *Orchestrator) onConnected(e connectedEvent) error {
	var err error
	if e.err != nil {
		err = errors.Wrap(e.err, "failed to wire switches")
	}

	instance, gErr := o.registry.GetInstance(e.instanceID)
	if gErr != nil || !instance.Live() {
		o.finish(e.op, false)
		return multierr.Append(err, errors.Wrapf(model.ErrInstanceNotFound, "instance %s is gone", e.instanceID))
	}

	if instance.Role == model.RoleActive {
		// Bootstrap master, nothing to hand over
		err = multierr.Append(err, o.assignment.Bootstrap(o.ctx, e.instanceID))
		o.finish(e.op, true)
		return err
	}

	warmup := warmupEvent{op: e.op, instanceID: e.instanceID}
	if o.config.WarmupPeriod <= 0 {
		return multierr.Append(err, o.onWarmup(warmup))
	}
	o.after(o.config.WarmupPeriod, warmup)
	return err
}

func (o *Orchestrator) onWarmup(e warmupEvent) error {
	instance, err := o.registry.GetInstance(e.instanceID)
	if err != nil || !instance.Live() {
		o.finish(e.op, false)
		return errors.Wrapf(model.ErrInstanceNotFound, "instance %s is gone", e.instanceID)
	}

	err = o.assignment.AssertSlave(o.ctx, e.instanceID)
	if instance.Role == model.RoleMasterCandidate {
		err = multierr.Append(err, o.registry.SetRole(e.instanceID, model.RoleStandby))
	}
	o.note("Controller instance ready", slog.String("instance-id", e.instanceID))

	if o.engine.Active() {
		_, rErr := o.assignment.Rebalance(o.ctx, "instance added")
		err = multierr.Append(err, rErr)
	}
	o.finish(e.op, true)
	return err
}

func (o *Orchestrator) onDestroyed(e destroyedEvent) error {
	err := e.err
	if err == nil {
		o.log.Info(
			"Controller instance destroyed",
			slog.String("instance-id", e.instanceID),
		)
	}
	if e.op == nil {
		return err
	}

	if o.engine.Active() {
		_, rErr := o.assignment.Rebalance(o.ctx, "instance removed")
		err = multierr.Append(err, rErr)
	}
	o.finish(e.op, true)
	return err
}

func (o *Orchestrator) onProbes(results []health.Result) error {
	var err error
	for _, res := range results {
		verdict, hErr := o.monitor.HandleProbe(o.registry, res)
		if hErr != nil {
			if errors.Is(hErr, model.ErrInstanceNotFound) || errors.Is(hErr, model.ErrStaleHeartbeat) {
				o.log.Debug(
					"Ignored probe result",
					slog.String("instance-id", res.InstanceID),
					slog.Any("error", hErr),
				)
				continue
			}
			err = multierr.Append(err, hErr)
			continue
		}

		switch verdict {
		case health.VerdictSuspect:
			o.note("Controller instance suspect", slog.String("instance-id", res.InstanceID))
		case health.VerdictRecovered:
			o.note("Controller instance recovered", slog.String("instance-id", res.InstanceID))
		case health.VerdictFailed:
			err = multierr.Append(err, o.failover(res.InstanceID))
		}
	}
	return err
}

// failover reassigns every switch of a failed instance right away, without
// asking it to demote, then forcibly removes it.
func (o *Orchestrator) failover(instanceID string) error {
	o.failovers.Inc()
	o.note("Controller instance failed", slog.String("instance-id", instanceID))

	instance, err := o.registry.GetInstance(instanceID)
	if err != nil {
		return err
	}
	_, err = o.assignment.Evacuate(o.ctx, instanceID, true)
	if rErr := o.registry.RemoveInstance(instanceID, true); rErr != nil {
		err = multierr.Append(err, rErr)
	}
	o.forget(instance.InstanceInfo)
	o.teardown(nil, instanceID)

	if o.engine.Active() && len(o.endpoints()) > 0 {
		_, rErr := o.assignment.Rebalance(o.ctx, "instance failed")
		err = multierr.Append(err, rErr)
	}
	return err
}

func (o *Orchestrator) onTraffic(report traffic.Report) error {
	o.registry.RecordTraffic(report.PerSwitch, report.Samples)

	var err error
	if len(o.registry.UnownedSwitches()) > 0 {
		_, err = o.assignment.RepairGaps(o.ctx)
	}

	decision := o.engine.Evaluate(scaling.Load{
		AggregatePPS:    report.Aggregate,
		ActiveInstances: o.activeInstances(),
		PendingOps:      o.pendingOps(),
	})
	switch decision {
	case scaling.DecisionScaleUp:
		err = multierr.Append(err, o.enqueue(opScaleUp, ""))
	case scaling.DecisionScaleDown:
		err = multierr.Append(err, o.enqueue(opScaleDown, ""))
	}
	return err
}

func (o *Orchestrator) onDiscovery(e discoveryEvent) error {
	if e.err != nil {
		return errors.Wrap(e.err, "switch discovery failed")
	}

	view := o.registry.Snapshot()
	known := map[string]bool{}
	for _, id := range view.SwitchIDs() {
		known[id] = true
	}
	current := map[string]bool{}

	var err error
	for _, sw := range e.switches {
		current[sw] = true
		if known[sw] {
			continue
		}
		o.note("Switch discovered", slog.String("switch-id", sw))
		err = multierr.Append(err, o.assignment.PlaceSwitch(o.ctx, sw))
	}
	for id := range known {
		if !current[id] {
			o.note("Switch disappeared", slog.String("switch-id", id))
			err = multierr.Append(err, o.registry.RemoveSwitch(id))
		}
	}
	return err
}

// reconcile rebuilds the registry on boot from the running instances and
// the switches of the network.
func (o *Orchestrator) reconcile() {
	ctx, cancel := context.WithTimeout(o.ctx, o.config.OperationTimeout)
	defer cancel()

	switches, err := o.network.Switches(ctx)
	if err != nil {
		o.recordError(SwitchDiscovery, errors.Wrap(err, "switch discovery failed"))
	}
	for _, sw := range switches {
		if _, err := o.registry.AddSwitch(sw); err != nil {
			o.recordError(SwitchDiscovery, err)
		}
	}

	instances, err := o.provisioner.List(ctx)
	if err != nil {
		o.recordError(AddInstance, errors.Wrap(err, "failed to list running instances"))
	}
	for _, info := range instances {
		if _, err := o.registry.AddInstanceWithID(info, model.RoleStandby); err != nil {
			o.recordError(AddInstance, err)
		}
	}

	if len(instances) > 0 {
		if err := o.network.Connect(ctx, o.endpoints()); err != nil {
			o.recordError(AddInstance, errors.Wrap(err, "failed to wire switches"))
		}
		for idx, instance := range o.registry.ListInstances() {
			if idx == 0 {
				err = o.assignment.Bootstrap(ctx, instance.ID)
			} else {
				err = o.assignment.AssertSlave(ctx, instance.ID)
			}
			if err != nil {
				o.recordError(AddInstance, err)
			}
		}
	}

	o.note("Reconciled state",
		slog.Int("instances", len(instances)),
		slog.Int("switches", len(switches)),
	)

	if len(instances) == 0 {
		for i := 0; i < o.config.InitialInstances; i++ {
			if err := o.enqueue(opAdd, ""); err != nil {
				o.recordError(AddInstance, err)
			}
		}
	}
	if o.config.LoadBalancing {
		if err := o.activate(); err != nil {
			o.recordError(ActivateBalancer, err)
		}
	}
	o.publish()
}

func (o *Orchestrator) forget(instance model.InstanceInfo) {
	o.network.Forget(instance.ID)
	o.monitor.Forget(instance.ID)
	if f, ok := o.probe.(interface{ Forget(model.InstanceInfo) }); ok {
		f.Forget(instance)
	}
}

// endpoints lists the OpenFlow endpoints of the live instances.
func (o *Orchestrator) endpoints() []string {
	var res []string
	for _, i := range o.registry.ListInstances() {
		if i.Live() {
			res = append(res, i.Endpoint)
		}
	}
	return res
}

func (o *Orchestrator) activeInstances() int {
	count := 0
	for _, i := range o.registry.ListInstances() {
		if i.Live() && i.Role != model.RoleMasterCandidate {
			count++
		}
	}
	return count
}

func (o *Orchestrator) pendingOps() int {
	count := o.deferred.Size()
	if o.inFlight != nil {
		count++
	}
	return count
}

func (o *Orchestrator) probeTargets() []model.InstanceInfo {
	var res []model.InstanceInfo
	for _, i := range o.registry.ListInstances() {
		if i.Live() {
			res = append(res, i.InstanceInfo)
		}
	}
	return res
}

func (o *Orchestrator) trafficTargets() []traffic.Target {
	view := o.registry.Snapshot()
	return traffic.TargetsFromView(&view)
}

func (o *Orchestrator) note(msg string, attrs ...slog.Attr) {
	o.lastEvent = msg
	o.log.LogAttrs(o.ctx, slog.LevelInfo, msg, attrs...)
}

func (o *Orchestrator) recordError(source EventType, err error) {
	o.eventErrors.Inc()
	o.log.Warn(
		"Event completed with error",
		slog.Any("event", source),
		slog.Any("error", err),
	)
	o.errs.Enqueue(model.ErrorRecord{
		Time:    o.clock.Now(),
		Kind:    model.ErrorKind(err),
		Message: err.Error(),
	})
}

// publish builds the snapshot read by the presentation layer.
func (o *Orchestrator) publish() {
	view := o.registry.Snapshot()
	status := &model.Status{
		Instances:     make([]model.InstanceStatus, 0, len(view.Instances)),
		Switches:      make([]model.SwitchStatus, 0, len(view.Switches)),
		ScalingState:  string(o.engine.State()),
		LoadBalancing: o.engine.Active(),
		LastEvent:     o.lastEvent,
		UpdatedAt:     o.clock.Now(),
	}

	live := len(view.LiveInstances())
	load := map[string]float64{}
	for _, sw := range view.Switches {
		status.Switches = append(status.Switches, model.SwitchStatus{
			ID:           sw.ID,
			Owner:        sw.CurrentOwner,
			PendingOwner: sw.PendingOwner,
			PPS:          sw.PPS,
			OwnershipGap: sw.OwnershipGap,
		})
		if sw.CurrentOwner != "" {
			load[sw.CurrentOwner] += sw.PPS
		}
		status.AggregatePPS += sw.PPS
		if sw.OwnershipGap || (sw.CurrentOwner == "" && live > 0) {
			status.OwnershipGaps = append(status.OwnershipGaps, sw.ID)
		}
	}

	active := 0
	for _, i := range view.Instances {
		status.Instances = append(status.Instances, model.InstanceStatus{
			ID:            i.ID,
			Endpoint:      i.Endpoint,
			Role:          i.Role,
			Health:        i.Health,
			SwitchCount:   len(i.AssignedSwitches),
			Switches:      append([]string{}, i.AssignedSwitches...),
			Load:          load[i.ID],
			CreatedAt:     i.CreatedAt,
			LastHeartbeat: i.LastHeartbeat,
		})
		if i.Live() && i.Role != model.RoleMasterCandidate {
			active++
		}
	}
	if active > 0 {
		status.AveragePPS = status.AggregatePPS / float64(active)
	}

	if o.inFlight != nil {
		status.InFlight = o.inFlight.String()
	}
	for _, value := range o.deferred.Values() {
		status.Deferred = append(status.Deferred, value.(*operation).String())
	}
	for _, value := range o.errs.Values() {
		status.Errors = append(status.Errors, value.(model.ErrorRecord))
	}
	o.status.Store(status)
}

func (o *Orchestrator) Close() error {
	o.cancel()
	err := multierr.Combine(
		o.monitor.Close(),
		o.collector.Close(),
	)
	o.Wait()

	for _, g := range o.gauges {
		g.Unregister()
	}
	return multierr.Append(err, o.registry.Close())
}
