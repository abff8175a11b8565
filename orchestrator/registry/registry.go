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

package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/netscale/netscale/orchestrator/model"
)

const DefaultTombstoneTTL = 10 * time.Minute

// Registry is the authoritative record of controller instances and switch
// ownership. Every mutation runs under the write lock and leaves invariants
// 1 to 4 satisfied when it returns.
type Registry struct {
	sync.RWMutex

	// id -> *model.ControllerInstance, in registration order
	instances *linkedhashmap.Map
	// id -> *model.Switch, in natural switch order
	switches *treemap.Map

	// Ids of instances removed after a confirmed failure
	tombstones *ttlcache.Cache[string, struct{}]

	seq        uint64
	generation uint64
	clock      clock.PassiveClock
	log        *slog.Logger
}

func New(clk clock.PassiveClock, tombstoneTTL time.Duration) *Registry {
	if tombstoneTTL <= 0 {
		tombstoneTTL = DefaultTombstoneTTL
	}
	return &Registry{
		instances: linkedhashmap.New(),
		switches:  treemap.NewWith(model.SwitchComparator),
		tombstones: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](tombstoneTTL),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
		clock: clk,
		log: slog.With(
			slog.String("component", "registry"),
		),
	}
}

// AddInstance registers a new instance with a generated id.
func (r *Registry) AddInstance(endpoint string) (string, error) {
	id := uuid.NewString()
	_, err := r.AddInstanceWithID(model.InstanceInfo{ID: id, Endpoint: endpoint}, model.RoleStandby)
	return id, err
}

// AddInstanceWithID registers an instance. When no live instance exists yet,
// the new one becomes the bootstrap master and takes every known switch.
func (r *Registry) AddInstanceWithID(info model.InstanceInfo, role model.Role) (model.ControllerInstance, error) {
	r.Lock()
	defer r.Unlock()

	if _, found := r.instances.Get(info.ID); found {
		return model.ControllerInstance{}, errors.Wrapf(model.ErrInstanceAlreadyExists, "instance %s", info.ID)
	}

	// Re-registration is the only way back for a failed instance
	r.tombstones.Delete(info.ID)

	bootstrap := len(r.liveInstances()) == 0
	now := r.clock.Now()
	r.seq++
	instance := &model.ControllerInstance{
		InstanceInfo:     info,
		Role:             role,
		Health:           model.HealthHealthy,
		AssignedSwitches: []string{},
		CreatedAt:        now,
		LastHeartbeat:    now,
		Seq:              r.seq,
	}
	if role == model.RoleActive {
		instance.Role = model.RoleStandby
	}
	r.instances.Put(info.ID, instance)

	if bootstrap {
		instance.Role = model.RoleActive
		r.switches.Each(func(_ any, value any) {
			sw := value.(*model.Switch)
			if sw.CurrentOwner != "" {
				r.removeFromOwner(sw)
			}
			sw.CurrentOwner = info.ID
			sw.PendingOwner = ""
			sw.OwnershipGap = false
			instance.AssignedSwitches = append(instance.AssignedSwitches, sw.ID)
		})
		r.log.Info(
			"Bootstrap master registered",
			slog.String("instance-id", info.ID),
			slog.Int("switches", len(instance.AssignedSwitches)),
		)
	} else {
		r.log.Info(
			"Instance registered",
			slog.String("instance-id", info.ID),
			slog.Any("role", instance.Role),
		)
	}

	r.recomputeRoles()
	return instance.Clone(), nil
}

// RemoveInstance deletes an instance. Without force it refuses while the
// instance still owns switches. With force the remaining switches are left
// unowned and flagged as ownership gaps when some live instance remains.
func (r *Registry) RemoveInstance(id string, force bool) error {
	r.Lock()
	defer r.Unlock()

	instance, err := r.getInstance(id)
	if err != nil {
		return err
	}

	if len(instance.AssignedSwitches) > 0 && !force {
		return errors.Wrapf(model.ErrPrecondSwitchesStillAssigned,
			"instance %s owns %d switches", id, len(instance.AssignedSwitches))
	}

	r.instances.Remove(id)
	hasLive := len(r.liveInstances()) > 0

	for _, swID := range instance.AssignedSwitches {
		sw := r.mustSwitch(swID)
		sw.CurrentOwner = ""
		sw.PendingOwner = ""
		sw.OwnershipGap = hasLive
		if hasLive {
			r.log.Error(
				"Switch left without owner",
				slog.String("switch-id", swID),
				slog.String("instance-id", id),
			)
		}
	}

	// Transitions towards the removed instance can no longer complete
	r.switches.Each(func(_ any, value any) {
		sw := value.(*model.Switch)
		if sw.PendingOwner == id {
			sw.PendingOwner = ""
		}
	})

	if instance.Health == model.HealthFailed {
		r.tombstones.Set(id, struct{}{}, ttlcache.DefaultTTL)
	}

	r.recomputeRoles()
	r.log.Info(
		"Instance removed",
		slog.String("instance-id", id),
		slog.Bool("force", force),
	)
	return nil
}

// UpdateHeartbeat records a liveness signal. Signals for failed instances are stale.
func (r *Registry) UpdateHeartbeat(id string) error {
	r.Lock()
	defer r.Unlock()

	if r.tombstones.Has(id) {
		return errors.Wrapf(model.ErrStaleHeartbeat, "instance %s was removed after failure", id)
	}

	instance, err := r.getInstance(id)
	if err != nil {
		return err
	}

	if instance.Health == model.HealthFailed {
		return errors.Wrapf(model.ErrStaleHeartbeat, "instance %s is failed", id)
	}

	instance.LastHeartbeat = r.clock.Now()
	instance.Health = model.HealthHealthy
	return nil
}

func (r *Registry) SetHealth(id string, health model.Health) error {
	r.Lock()
	defer r.Unlock()

	instance, err := r.getInstance(id)
	if err != nil {
		return err
	}
	if instance.Health == model.HealthFailed && health != model.HealthFailed {
		return errors.Wrapf(model.ErrStaleHeartbeat, "instance %s is failed", id)
	}

	instance.Health = health
	if health == model.HealthFailed {
		r.tombstones.Set(id, struct{}{}, ttlcache.DefaultTTL)
	}
	r.recomputeRoles()
	return nil
}

// SetRole only changes roles of instances that own no switch.
func (r *Registry) SetRole(id string, role model.Role) error {
	r.Lock()
	defer r.Unlock()

	instance, err := r.getInstance(id)
	if err != nil {
		return err
	}
	instance.Role = role
	r.recomputeRoles()
	return nil
}

func (r *Registry) ListInstances() []model.ControllerInstance {
	r.RLock()
	defer r.RUnlock()

	res := make([]model.ControllerInstance, 0, r.instances.Size())
	it := r.instances.Iterator()
	for it.Next() {
		res = append(res, it.Value().(*model.ControllerInstance).Clone())
	}
	return res
}

func (r *Registry) GetInstance(id string) (model.ControllerInstance, error) {
	r.RLock()
	defer r.RUnlock()

	instance, err := r.getInstance(id)
	if err != nil {
		return model.ControllerInstance{}, err
	}
	return instance.Clone(), nil
}

// GetSwitchOwner returns the owner id, empty when the switch is unowned.
func (r *Registry) GetSwitchOwner(switchID string) (string, error) {
	r.RLock()
	defer r.RUnlock()

	sw, err := r.getSwitch(switchID)
	if err != nil {
		return "", err
	}
	return sw.CurrentOwner, nil
}

// AddSwitch records a newly discovered switch and places it on the least
// loaded active instance. Returns the owner, empty when no instance is live.
func (r *Registry) AddSwitch(switchID string) (string, error) {
	r.Lock()
	defer r.Unlock()

	if value, found := r.switches.Get(switchID); found {
		return value.(*model.Switch).CurrentOwner, nil
	}

	sw := &model.Switch{ID: switchID}
	r.switches.Put(switchID, sw)

	owner := r.placementTarget()
	if owner != nil {
		r.assign(sw, owner)
		r.recomputeRoles()
		return owner.ID, nil
	}
	return "", nil
}

func (r *Registry) RemoveSwitch(switchID string) error {
	r.Lock()
	defer r.Unlock()

	sw, err := r.getSwitch(switchID)
	if err != nil {
		return err
	}
	r.removeFromOwner(sw)
	r.switches.Remove(switchID)
	r.recomputeRoles()
	return nil
}

// SetPending marks target as the pending authority of a switch.
func (r *Registry) SetPending(switchID string, target string) error {
	r.Lock()
	defer r.Unlock()

	sw, err := r.getSwitch(switchID)
	if err != nil {
		return err
	}
	instance, err := r.getInstance(target)
	if err != nil {
		return err
	}
	if !instance.Live() {
		return errors.Wrapf(model.ErrInstanceNotFound, "instance %s is failed", target)
	}
	sw.PendingOwner = target
	return nil
}

func (r *Registry) ClearPending(switchID string) {
	r.Lock()
	defer r.Unlock()

	if value, found := r.switches.Get(switchID); found {
		value.(*model.Switch).PendingOwner = ""
	}
}

// ReleaseSwitch drops the owner of a switch that never confirmed its
// authority. The switch is left as an ownership gap while any instance is live.
func (r *Registry) ReleaseSwitch(switchID string) error {
	r.Lock()
	defer r.Unlock()

	sw, err := r.getSwitch(switchID)
	if err != nil {
		return err
	}
	r.removeFromOwner(sw)
	sw.PendingOwner = ""
	sw.OwnershipGap = len(r.liveInstances()) > 0
	r.recomputeRoles()
	return nil
}

// MoveSwitch hands a switch from one owner to another once the new owner has
// confirmed its promotion. from is empty for unowned switches.
func (r *Registry) MoveSwitch(switchID string, from string, to string) error {
	r.Lock()
	defer r.Unlock()

	sw, err := r.getSwitch(switchID)
	if err != nil {
		return err
	}
	if sw.CurrentOwner != from {
		return errors.Errorf("switch %s is owned by %q, not %q", switchID, sw.CurrentOwner, from)
	}
	target, err := r.getInstance(to)
	if err != nil {
		return err
	}
	if !target.Live() {
		return errors.Wrapf(model.ErrInstanceNotFound, "instance %s is failed", to)
	}

	r.removeFromOwner(sw)
	r.assign(sw, target)
	r.recomputeRoles()
	return nil
}

// FlagGap marks an unowned switch as an ownership gap.
func (r *Registry) FlagGap(switchID string) {
	r.Lock()
	defer r.Unlock()

	if value, found := r.switches.Get(switchID); found {
		sw := value.(*model.Switch)
		if sw.CurrentOwner == "" {
			sw.OwnershipGap = true
		}
	}
}

// UnownedSwitches returns switches without owner, in natural order.
func (r *Registry) UnownedSwitches() []string {
	r.RLock()
	defer r.RUnlock()

	var res []string
	r.switches.Each(func(key any, value any) {
		if value.(*model.Switch).CurrentOwner == "" {
			res = append(res, key.(string))
		}
	})
	return res
}

// RecordTraffic stores the latest smoothed rate and sample window per switch.
func (r *Registry) RecordTraffic(pps map[string]float64, samples map[string][]float64) {
	r.Lock()
	defer r.Unlock()

	for id, rate := range pps {
		if value, found := r.switches.Get(id); found {
			sw := value.(*model.Switch)
			sw.PPS = rate
			sw.Samples = append([]float64(nil), samples[id]...)
		}
	}
}

// NextGeneration returns a fresh, monotonically increasing OpenFlow generation id.
func (r *Registry) NextGeneration() uint64 {
	r.Lock()
	defer r.Unlock()

	r.generation++
	return r.generation
}

func (r *Registry) Snapshot() model.RegistryView {
	r.RLock()
	defer r.RUnlock()

	view := model.RegistryView{
		Instances:  make([]model.ControllerInstance, 0, r.instances.Size()),
		Switches:   make([]model.Switch, 0, r.switches.Size()),
		Generation: r.generation,
	}
	it := r.instances.Iterator()
	for it.Next() {
		view.Instances = append(view.Instances, it.Value().(*model.ControllerInstance).Clone())
	}
	r.switches.Each(func(_ any, value any) {
		view.Switches = append(view.Switches, value.(*model.Switch).Clone())
	})
	return view
}

func (r *Registry) Close() error {
	r.tombstones.DeleteAll()
	return nil
}

func (r *Registry) getInstance(id string) (*model.ControllerInstance, error) {
	value, found := r.instances.Get(id)
	if !found {
		return nil, errors.Wrapf(model.ErrInstanceNotFound, "instance %s", id)
	}
	return value.(*model.ControllerInstance), nil
}

func (r *Registry) getSwitch(id string) (*model.Switch, error) {
	value, found := r.switches.Get(id)
	if !found {
		return nil, errors.Wrapf(model.ErrSwitchNotFound, "switch %s", id)
	}
	return value.(*model.Switch), nil
}

func (r *Registry) mustSwitch(id string) *model.Switch {
	value, _ := r.switches.Get(id)
	return value.(*model.Switch)
}

func (r *Registry) liveInstances() []*model.ControllerInstance {
	res := make([]*model.ControllerInstance, 0, r.instances.Size())
	it := r.instances.Iterator()
	for it.Next() {
		instance := it.Value().(*model.ControllerInstance)
		if instance.Live() {
			res = append(res, instance)
		}
	}
	return res
}

// placementTarget prefers active instances, then any live one, least loaded
// first and registration order on ties.
func (r *Registry) placementTarget() *model.ControllerInstance {
	var best *model.ControllerInstance
	for _, instance := range r.liveInstances() {
		if instance.Role != model.RoleActive {
			continue
		}
		if best == nil || len(instance.AssignedSwitches) < len(best.AssignedSwitches) {
			best = instance
		}
	}
	if best == nil {
		if live := r.liveInstances(); len(live) > 0 {
			best = live[0]
		}
	}
	return best
}

func (r *Registry) assign(sw *model.Switch, owner *model.ControllerInstance) {
	sw.CurrentOwner = owner.ID
	sw.PendingOwner = ""
	sw.OwnershipGap = false
	owner.AssignedSwitches = insertSorted(owner.AssignedSwitches, sw.ID)
}

func (r *Registry) removeFromOwner(sw *model.Switch) {
	if sw.CurrentOwner == "" {
		return
	}
	if value, found := r.instances.Get(sw.CurrentOwner); found {
		owner := value.(*model.ControllerInstance)
		owner.AssignedSwitches = removeSorted(owner.AssignedSwitches, sw.ID)
	}
	sw.CurrentOwner = ""
}

// recomputeRoles derives roles from ownership: owners are active, a sole
// live instance is active, everything else is standby unless it is a
// candidate waiting for switches.
func (r *Registry) recomputeRoles() {
	live := r.liveInstances()
	for _, instance := range live {
		switch {
		case len(instance.AssignedSwitches) > 0:
			instance.Role = model.RoleActive
		case len(live) == 1:
			instance.Role = model.RoleActive
		case instance.Role == model.RoleActive:
			instance.Role = model.RoleStandby
		}
	}
}

func insertSorted(ids []string, id string) []string {
	idx := sort.Search(len(ids), func(i int) bool {
		return model.CompareSwitchIDs(ids[i], id) >= 0
	})
	if idx < len(ids) && ids[idx] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = id
	return ids
}

func removeSorted(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
