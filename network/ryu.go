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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/netscale/netscale/orchestrator/model"
)

type roleRequest struct {
	DPID         uint64 `json:"dpid"`
	Role         string `json:"role"`
	GenerationID uint64 `json:"generation_id"`
}

type roleKey struct {
	instance string
	switchID string
}

// RyuRoleClient drives OpenFlow roles through the controller REST API. It
// tracks the role last confirmed by each controller for each switch and
// rejects transitions outside the authority table.
type RyuRoleClient struct {
	sync.Mutex

	client  *http.Client
	limiter *rate.Limiter
	roles   map[roleKey]model.AuthorityRole
	log     *slog.Logger
}

// NewRyuRoleClient paces role requests to requestsPerSecond across all controllers.
func NewRyuRoleClient(requestsPerSecond float64, burst int) *RyuRoleClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RyuRoleClient{
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		roles:   map[roleKey]model.AuthorityRole{},
		log: slog.With(
			slog.String("component", "ryu-role-client"),
		),
	}
}

func (c *RyuRoleClient) SetAuthority(ctx context.Context, switchID string, instance model.InstanceInfo,
	role model.AuthorityRole, generation uint64) error {
	key := roleKey{instance.ID, switchID}
	if err := model.ValidateAuthorityTransition(c.Role(instance.ID, switchID), role); err != nil {
		return err
	}

	dpid, err := model.DatapathID(switchID)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(roleRequest{DPID: dpid, Role: string(role), GenerationID: generation})
	if err != nil {
		return err
	}

	url := strings.TrimSuffix(instance.APIAddress, "/") + "/role"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "role request to %s", instance.ID)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode == http.StatusNotFound:
		return errors.Wrapf(model.ErrSwitchNotFound, "%s is not connected to %s", switchID, instance.ID)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return errors.Errorf("role request to %s returned %s", instance.ID, res.Status)
	}

	c.Lock()
	c.roles[key] = role
	c.Unlock()

	c.log.Debug(
		"Role confirmed",
		slog.String("instance-id", instance.ID),
		slog.String("switch-id", switchID),
		slog.Any("role", role),
		slog.Uint64("generation", generation),
	)
	return nil
}

// Role returns the role last confirmed by a controller for a switch.
func (c *RyuRoleClient) Role(instanceID string, switchID string) model.AuthorityRole {
	c.Lock()
	defer c.Unlock()
	if r, ok := c.roles[roleKey{instanceID, switchID}]; ok {
		return r
	}
	return model.AuthorityEqual
}

func (c *RyuRoleClient) Forget(instanceID string) {
	c.Lock()
	defer c.Unlock()
	for k := range c.roles {
		if k.instance == instanceID {
			delete(c.roles, k)
		}
	}
}

func (c *RyuRoleClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
