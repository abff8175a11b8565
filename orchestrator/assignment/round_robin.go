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
	"fmt"
	"sort"

	"github.com/netscale/netscale/orchestrator/model"
)

type Move struct {
	Switch string
	// From is empty when the switch is currently unowned
	From string
	To   string
}

func (m Move) String() string {
	return fmt.Sprintf("%s: %q -> %q", m.Switch, m.From, m.To)
}

// RoundRobin deals switches, in natural order, to the instances in the given
// order. The result only depends on its inputs.
func RoundRobin(instances []string, switches []string) map[string]string {
	res := make(map[string]string, len(switches))
	if len(instances) == 0 {
		return res
	}

	for idx, sw := range sortedSwitches(switches) {
		res[sw] = instances[idx%len(instances)]
	}
	return res
}

// Delta lists the switches whose owner differs between current and target,
// in natural switch order. Switches absent from target are left alone.
func Delta(current map[string]string, target map[string]string) []Move {
	switches := make([]string, 0, len(target))
	for sw := range target {
		switches = append(switches, sw)
	}

	var res []Move
	for _, sw := range sortedSwitches(switches) {
		if current[sw] != target[sw] {
			res = append(res, Move{
				Switch: sw,
				From:   current[sw],
				To:     target[sw],
			})
		}
	}
	return res
}

func sortedSwitches(switches []string) []string {
	res := append([]string(nil), switches...)
	sort.SliceStable(res, func(i, j int) bool {
		return model.CompareSwitchIDs(res[i], res[j]) < 0
	})
	return res
}
