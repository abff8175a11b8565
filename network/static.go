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

package network

import (
	"context"
	"sync"
)

// Static is a fixed switch set, for deployments where switch wiring is
// managed outside the orchestrator.
type Static struct {
	sync.Mutex
	switches  []string
	endpoints []string
}

func NewStatic(switches []string) *Static {
	return &Static{switches: append([]string(nil), switches...)}
}

func (s *Static) Switches(context.Context) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	return append([]string(nil), s.switches...), nil
}

func (s *Static) Connect(_ context.Context, endpoints []string) error {
	s.Lock()
	defer s.Unlock()
	s.endpoints = append([]string(nil), endpoints...)
	return nil
}

// Endpoints returns the controller list last requested.
func (s *Static) Endpoints() []string {
	s.Lock()
	defer s.Unlock()
	return append([]string(nil), s.endpoints...)
}
