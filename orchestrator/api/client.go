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

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/netscale/netscale/orchestrator/model"
)

// Client talks to the REST API of a running orchestrator.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(serviceAddress string, timeout time.Duration) *Client {
	base := serviceAddress
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Status(ctx context.Context) (*model.Status, error) {
	status := &model.Status{}
	if err := c.do(ctx, http.MethodGet, "/status", http.StatusOK, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) ActivateLoadBalancer(ctx context.Context) (Ack, error) {
	return c.command(ctx, http.MethodPost, "/balancer/activate")
}

func (c *Client) DeactivateLoadBalancer(ctx context.Context) (Ack, error) {
	return c.command(ctx, http.MethodPost, "/balancer/deactivate")
}

func (c *Client) AddInstance(ctx context.Context) (Ack, error) {
	return c.command(ctx, http.MethodPost, "/controllers")
}

func (c *Client) RemoveInstance(ctx context.Context, instanceID string) (Ack, error) {
	return c.command(ctx, http.MethodDelete, "/controllers/"+url.PathEscape(instanceID))
}

func (c *Client) command(ctx context.Context, method, path string) (Ack, error) {
	ack := Ack{}
	err := c.do(ctx, method, path, http.StatusAccepted, &ack)
	return ack, err
}

func (c *Client) do(ctx context.Context, method, path string, expected int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read response of %s %s", method, path)
	}

	if res.StatusCode != expected {
		e := ErrorResponse{}
		if jErr := json.Unmarshal(body, &e); jErr != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return errors.Errorf("%s %s: %s: %s", method, path, res.Status, e.Error)
	}

	return errors.Wrapf(json.Unmarshal(body, out), "invalid response to %s %s", method, path)
}
