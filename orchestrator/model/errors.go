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

import "github.com/pkg/errors"

var (
	ErrProvision                    = errors.New("provision error")
	ErrRoleTransitionTimeout        = errors.New("role transition timeout")
	ErrPrecondSwitchesStillAssigned = errors.New("instance still has switches assigned")
	ErrInstanceNotFound             = errors.New("instance not found")
	ErrStaleHeartbeat               = errors.New("stale heartbeat")
	ErrOwnershipGap                 = errors.New("switch left without owner")
	ErrNotFound                     = errors.New("not found")
	ErrSwitchNotFound               = errors.New("switch not found")
	ErrInstanceAlreadyExists        = errors.New("instance already exists")
	ErrInvariantViolation           = errors.New("registry invariant violated")
	ErrQueueFull                    = errors.New("event queue is full")
	ErrClosed                       = errors.New("orchestrator is closed")
)

// ErrorKind names the taxonomy entry of an error, for operators.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrProvision):
		return "ProvisionError"
	case errors.Is(err, ErrRoleTransitionTimeout):
		return "RoleTransitionTimeout"
	case errors.Is(err, ErrPrecondSwitchesStillAssigned):
		return "PrecondSwitchesStillAssigned"
	case errors.Is(err, ErrInstanceNotFound):
		return "InstanceNotFound"
	case errors.Is(err, ErrStaleHeartbeat):
		return "StaleHeartbeat"
	case errors.Is(err, ErrOwnershipGap):
		return "OwnershipGap"
	default:
		return "Error"
	}
}
