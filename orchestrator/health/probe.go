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

package health

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/netscale/netscale/orchestrator/model"
)

// Probe checks whether a controller instance is alive.
type Probe interface {
	Probe(ctx context.Context, instance model.InstanceInfo) error
}

type ProbeFunc func(ctx context.Context, instance model.InstanceInfo) error

func (f ProbeFunc) Probe(ctx context.Context, instance model.InstanceInfo) error {
	return f(ctx, instance)
}

// HTTPProbe issues a GET on a path of the controller REST API.
type HTTPProbe struct {
	Client *http.Client
	Path   string
}

func NewHTTPProbe() *HTTPProbe {
	return &HTTPProbe{
		Client: &http.Client{},
		Path:   "/metrics",
	}
}

func (p *HTTPProbe) Probe(ctx context.Context, instance model.InstanceInfo) error {
	if instance.APIAddress == "" {
		return errors.Errorf("instance %s has no API address", instance.ID)
	}

	url := strings.TrimSuffix(instance.APIAddress, "/") + p.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	res, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errors.Errorf("liveness probe on %s returned %s", url, res.Status)
	}
	return nil
}
