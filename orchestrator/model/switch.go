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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Switch struct {
	ID string
	// CurrentOwner is empty when no instance holds authority
	CurrentOwner string
	// PendingOwner is set while a role transition towards it is in flight
	PendingOwner string
	PPS          float64
	Samples      []float64
	OwnershipGap bool
}

func (s *Switch) Clone() Switch {
	res := *s
	res.Samples = append([]float64(nil), s.Samples...)
	return res
}

// CompareSwitchIDs orders switch ids naturally, so that s2 sorts before s10.
func CompareSwitchIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// SwitchComparator adapts CompareSwitchIDs to the gods container comparator.
func SwitchComparator(a, b any) int {
	return CompareSwitchIDs(a.(string), b.(string))
}

// DatapathID extracts the OpenFlow datapath id from a switch name such as "s12".
func DatapathID(switchID string) (uint64, error) {
	digits := strings.TrimLeftFunc(switchID, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if digits == "" {
		return 0, errors.Errorf("switch %q has no datapath id", switchID)
	}

	dpid, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid datapath id in %q", switchID)
	}
	return dpid, nil
}

func SwitchIDFromDatapath(dpid uint64) string {
	return "s" + strconv.FormatUint(dpid, 10)
}
