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
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/netscale/netscale/orchestrator/model"
)

// CheckInvariants verifies the ownership invariants on the current state.
// Switches flagged as ownership gaps are surfaced elsewhere and tolerated here.
func (r *Registry) CheckInvariants() error {
	view := r.Snapshot()
	return CheckView(&view)
}

func CheckView(view *model.RegistryView) error {
	var err error

	owners := map[string]string{}
	for _, sw := range view.Switches {
		if sw.CurrentOwner != "" {
			owners[sw.ID] = sw.CurrentOwner
		}
	}

	live := 0
	claimed := map[string]string{}
	for _, instance := range view.Instances {
		if instance.Live() {
			live++
		}
		for _, swID := range instance.AssignedSwitches {
			// 1 and 3: assigned sets are disjoint and match the owner field
			if prev, found := claimed[swID]; found {
				err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
					"switch %s claimed by %s and %s", swID, prev, instance.ID))
			}
			claimed[swID] = instance.ID
			if owners[swID] != instance.ID {
				err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
					"switch %s listed by %s but owned by %q", swID, instance.ID, owners[swID]))
			}
		}

		// 4
		if instance.Role == model.RoleStandby && len(instance.AssignedSwitches) > 0 {
			err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
				"standby instance %s owns %d switches", instance.ID, len(instance.AssignedSwitches)))
		}
	}

	for swID, owner := range owners {
		if claimed[swID] != owner {
			err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
				"switch %s owned by %s but not listed", swID, owner))
		}
	}

	// 2
	if live > 0 {
		for _, sw := range view.Switches {
			if sw.CurrentOwner == "" && !sw.OwnershipGap {
				err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
					"switch %s has no owner", sw.ID))
			}
		}
	}

	// 5
	if len(view.Instances) == 1 {
		only := view.Instances[0]
		if only.Live() {
			if only.Role != model.RoleActive {
				err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
					"sole instance %s has role %s", only.ID, only.Role))
			}
			for _, sw := range view.Switches {
				if sw.CurrentOwner != only.ID && !sw.OwnershipGap {
					err = multierr.Append(err, errors.Wrapf(model.ErrInvariantViolation,
						"sole instance %s does not own %s", only.ID, sw.ID))
				}
			}
		}
	}

	return err
}
