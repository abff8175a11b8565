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

// AuthorityRole is the OpenFlow controller role held by one controller
// towards one switch.
type AuthorityRole string

const (
	AuthorityEqual  AuthorityRole = "EQUAL"
	AuthorityMaster AuthorityRole = "MASTER"
	AuthoritySlave  AuthorityRole = "SLAVE"
)

var authorityTransitions = map[AuthorityRole][]AuthorityRole{
	AuthorityEqual:  {AuthorityMaster, AuthoritySlave},
	AuthoritySlave:  {AuthorityMaster},
	AuthorityMaster: {AuthoritySlave},
}

func (r AuthorityRole) CanTransitionTo(next AuthorityRole) bool {
	for _, allowed := range authorityTransitions[r] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateAuthorityTransition allows re-asserting the current role, which
// happens when a rollback restores a master that never lost authority.
func ValidateAuthorityTransition(from, to AuthorityRole) error {
	if from == to && to != AuthorityEqual {
		return nil
	}
	if !from.CanTransitionTo(to) {
		return errors.Errorf("invalid authority transition %s -> %s", from, to)
	}
	return nil
}
