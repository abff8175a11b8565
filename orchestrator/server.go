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

package orchestrator

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/netscale/netscale/common/container"
	"github.com/netscale/netscale/common/metric"
	"github.com/netscale/netscale/network"
	"github.com/netscale/netscale/orchestrator/api"
	"github.com/netscale/netscale/orchestrator/health"
	"github.com/netscale/netscale/orchestrator/scaling"
	"github.com/netscale/netscale/orchestrator/traffic"
	"github.com/netscale/netscale/provision"
)

// Server runs the orchestrator with its collaborators and serves the REST
// API, the gRPC health service and the metrics.
type Server struct {
	orchestrator *Orchestrator
	healthServer *grpchealth.Server
	grpcServer   container.GrpcServer
	apiServer    *api.Server
	metrics      *metric.PrometheusMetrics

	// Collaborators, closed after the orchestrator
	closers []io.Closer
}

func NewServer(config Config) (*Server, error) {
	slog.Info("Starting netscale orchestrator", slog.Any("config", config))

	s := &Server{}
	if err := s.init(config); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return s, nil
}

func (s *Server) init(config Config) error {
	provisioner, err := newProvisioner(config)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, provisioner)

	net, err := newNetwork(config)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, net)

	probe, err := newProbe(config)
	if err != nil {
		return err
	}
	if c, ok := probe.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}

	sampler, err := newSampler(config)
	if err != nil {
		return err
	}

	if s.orchestrator, err = New(config, Options{
		Provisioner: provisioner,
		Network:     net,
		Probe:       probe,
		Sampler:     sampler,
	}); err != nil {
		return err
	}

	s.healthServer = grpchealth.NewServer()
	if s.grpcServer, err = container.Default.StartGrpcServer("orchestrator", config.InternalServiceAddr,
		func(registrar grpc.ServiceRegistrar) {
			grpc_health_v1.RegisterHealthServer(registrar, s.healthServer)
		}); err != nil {
		return err
	}

	if s.apiServer, err = api.Start(config.ServiceAddr, s.orchestrator); err != nil {
		return err
	}

	if s.metrics, err = metric.Start(config.MetricsServiceAddr); err != nil {
		return err
	}

	s.orchestrator.Start()
	return nil
}

func (s *Server) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// UpdatePolicy hands new scaling thresholds to the control loop.
func (s *Server) UpdatePolicy(policy scaling.Policy) error {
	return s.orchestrator.UpdatePolicy(policy)
}

func (s *Server) Close() error {
	var err error
	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}
	if s.apiServer != nil {
		err = multierr.Append(err, s.apiServer.Close())
	}
	if s.grpcServer != nil {
		err = multierr.Append(err, s.grpcServer.Close())
	}
	if s.orchestrator != nil {
		err = multierr.Append(err, s.orchestrator.Close())
	}
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	if s.metrics != nil {
		err = multierr.Append(err, s.metrics.Close())
	}
	return err
}

func newProvisioner(config Config) (provision.Provisioner, error) {
	switch config.ProvisionerName {
	case ProvisionerDocker:
		return provision.NewDocker(config.Docker)
	case ProvisionerStatic:
		if len(config.StaticInstances) == 0 {
			return nil, errors.New("static provisioner requires at least one instance")
		}
		return provision.NewStatic(config.StaticInstances, 0), nil
	case ProvisionerMemory:
		return provision.NewMemory(), nil
	default:
		return nil, errors.Errorf(`provisioner must be one of %q, %q or %q`,
			ProvisionerDocker, ProvisionerStatic, ProvisionerMemory)
	}
}

func newNetwork(config Config) (network.Network, error) {
	switch config.NetworkName {
	case NetworkOVS:
		return network.New(network.NewOVS(config.Vsctl),
			network.NewRyuRoleClient(config.RoleRequestRate, config.RoleRequestBurst)), nil
	case NetworkStatic:
		return network.New(network.NewStatic(config.Switches),
			network.NewRyuRoleClient(config.RoleRequestRate, config.RoleRequestBurst)), nil
	case NetworkMemory:
		return network.NewMemory(config.Switches...), nil
	default:
		return nil, errors.Errorf(`network must be one of %q, %q or %q`,
			NetworkOVS, NetworkStatic, NetworkMemory)
	}
}

func newProbe(config Config) (health.Probe, error) {
	switch config.ProbeName {
	case ProbeHTTP:
		return health.NewHTTPProbe(), nil
	case ProbeGRPC:
		return health.NewGRPCProbe(), nil
	default:
		return nil, errors.Errorf(`probe must be one of %q or %q`, ProbeHTTP, ProbeGRPC)
	}
}

func newSampler(config Config) (traffic.Sampler, error) {
	switch config.SamplerName {
	case SamplerRyu:
		return traffic.NewRyuSampler(), nil
	case SamplerPrometheus:
		return traffic.NewPrometheusSampler(), nil
	default:
		return nil, errors.Errorf(`sampler must be one of %q or %q`, SamplerRyu, SamplerPrometheus)
	}
}
