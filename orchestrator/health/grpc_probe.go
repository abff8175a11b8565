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
	"log/slog"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/netscale/netscale/orchestrator/model"
)

// GRPCProbe runs the standard gRPC health check against controllers that
// expose it. Connections are pooled per target.
type GRPCProbe struct {
	sync.Mutex
	connections map[string]*grpc.ClientConn

	// Target maps an instance to its gRPC address. Defaults to the host of the API address.
	Target func(instance model.InstanceInfo) string

	log *slog.Logger
}

func NewGRPCProbe() *GRPCProbe {
	return &GRPCProbe{
		connections: map[string]*grpc.ClientConn{},
		Target:      apiHost,
		log: slog.With(
			slog.String("component", "grpc-probe"),
		),
	}
}

func (p *GRPCProbe) Probe(ctx context.Context, instance model.InstanceInfo) error {
	target := p.Target(instance)
	if target == "" {
		return errors.Errorf("instance %s has no gRPC target", instance.ID)
	}

	cnx, err := p.getConnection(target)
	if err != nil {
		return err
	}

	res, err := grpc_health_v1.NewHealthClient(cnx).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ""})
	if err != nil {
		return err
	}
	if res.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return errors.Errorf("instance %s is not serving: %s", instance.ID, res.Status)
	}
	return nil
}

func (p *GRPCProbe) getConnection(target string) (*grpc.ClientConn, error) {
	p.Lock()
	defer p.Unlock()

	if cnx, ok := p.connections[target]; ok {
		return cnx, nil
	}

	p.log.Info(
		"Creating new GRPC connection",
		slog.String("server-address", target),
	)
	cnx, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.connections[target] = cnx
	return cnx, nil
}

// Forget drops the pooled connection of a removed instance.
func (p *GRPCProbe) Forget(instance model.InstanceInfo) {
	target := p.Target(instance)

	p.Lock()
	defer p.Unlock()
	if cnx, ok := p.connections[target]; ok {
		_ = cnx.Close()
		delete(p.connections, target)
	}
}

func (p *GRPCProbe) Close() error {
	p.Lock()
	defer p.Unlock()

	var err error
	for target, cnx := range p.connections {
		err = multierr.Append(err, cnx.Close())
		delete(p.connections, target)
	}
	return err
}

func apiHost(instance model.InstanceInfo) string {
	u, err := url.Parse(instance.APIAddress)
	if err != nil || u.Host == "" {
		return instance.APIAddress
	}
	return u.Host
}
