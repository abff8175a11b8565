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

package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"

	cbackoff "github.com/netscale/netscale/common/backoff"
	"github.com/netscale/netscale/orchestrator/model"
)

const (
	labelManaged    = "netscale.managed"
	labelIndex      = "netscale.index"
	labelEndpoint   = "netscale.endpoint"
	labelAPIAddress = "netscale.api-address"
)

type DockerConfig struct {
	Image            string        `yaml:"image" mapstructure:"image"`
	NamePrefix       string        `yaml:"namePrefix" mapstructure:"namePrefix"`
	NetworkMode      string        `yaml:"networkMode" mapstructure:"networkMode"`
	Host             string        `yaml:"host" mapstructure:"host"`
	BaseOpenFlowPort int           `yaml:"baseOpenFlowPort" mapstructure:"baseOpenFlowPort"`
	BaseAPIPort      int           `yaml:"baseApiPort" mapstructure:"baseApiPort"`
	App              string        `yaml:"app" mapstructure:"app"`
	ReadyTimeout     time.Duration `yaml:"readyTimeout" mapstructure:"readyTimeout"`
	StopTimeout      time.Duration `yaml:"stopTimeout" mapstructure:"stopTimeout"`
}

func NewDockerConfig() DockerConfig {
	return DockerConfig{
		Image:            "ryu-controller",
		NamePrefix:       "ryu_",
		NetworkMode:      "host",
		Host:             "127.0.0.1",
		BaseOpenFlowPort: 6653,
		BaseAPIPort:      8081,
		App:              "controller.py",
		ReadyTimeout:     30 * time.Second,
		StopTimeout:      10 * time.Second,
	}
}

// Docker runs each controller instance as a container, numbered from zero.
// Instance n listens for OpenFlow on BaseOpenFlowPort+n and serves its REST
// API on BaseAPIPort+n.
type Docker struct {
	sync.Mutex

	client *client.Client
	config DockerConfig
	log    *slog.Logger
}

func NewDocker(config DockerConfig) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}

	return &Docker{
		client: cli,
		config: config,
		log: slog.With(
			slog.String("component", "docker-provisioner"),
			slog.String("image", config.Image),
		),
	}, nil
}

func (d *Docker) CreateInstance(ctx context.Context) (model.InstanceInfo, error) {
	d.Lock()
	defer d.Unlock()

	running, err := d.List(ctx)
	if err != nil {
		return model.InstanceInfo{}, errors.Wrapf(model.ErrProvision, "list containers: %v", err)
	}

	index := nextIndex(running, d.config.NamePrefix)
	name := d.config.NamePrefix + strconv.Itoa(index)

	if err := d.removeIfExists(ctx, name); err != nil {
		d.log.Warn(
			"Failed to remove stale container",
			slog.String("container", name),
			slog.Any("error", err),
		)
	}

	if err := d.ensureImage(ctx); err != nil {
		return model.InstanceInfo{}, errors.Wrapf(model.ErrProvision, "%v", err)
	}

	info := d.instanceInfo(index)
	config, hostConfig := containerSpec(d.config, index, info)
	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return model.InstanceInfo{}, errors.Wrapf(model.ErrProvision, "create container %s: %v", name, err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return model.InstanceInfo{}, errors.Wrapf(model.ErrProvision, "start container %s: %v", name, err)
	}

	if err := d.waitRunning(ctx, resp.ID); err != nil {
		_ = d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return model.InstanceInfo{}, errors.Wrapf(model.ErrProvision, "container %s: %v", name, err)
	}

	d.log.Info(
		"Created controller container",
		slog.String("container", name),
		slog.String("endpoint", info.Endpoint),
		slog.String("api-address", info.APIAddress),
	)
	return info, nil
}

func (d *Docker) DestroyInstance(ctx context.Context, instanceID string) error {
	timeout := int(d.config.StopTimeout.Seconds())
	if err := d.client.ContainerStop(ctx, instanceID, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return errors.Wrapf(model.ErrNotFound, "container %s", instanceID)
		}
		d.log.Warn(
			"Failed to stop container, removing it",
			slog.String("container", instanceID),
			slog.Any("error", err),
		)
	}

	if err := d.client.ContainerRemove(ctx, instanceID, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return errors.Wrapf(model.ErrNotFound, "container %s", instanceID)
		}
		return err
	}

	d.log.Info(
		"Removed controller container",
		slog.String("container", instanceID),
	)
	return nil
}

func (d *Docker) List(ctx context.Context) ([]model.InstanceInfo, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		return nil, err
	}

	res := make([]model.InstanceInfo, 0, len(containers))
	for _, c := range containers {
		if info, ok := infoFromLabels(c.Names, c.Labels, d.config.NamePrefix); ok {
			res = append(res, info)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return indexOf(res[i].ID, d.config.NamePrefix) < indexOf(res[j].ID, d.config.NamePrefix)
	})
	return res, nil
}

func (d *Docker) Close() error {
	return d.client.Close()
}

func (d *Docker) instanceInfo(index int) model.InstanceInfo {
	return model.InstanceInfo{
		ID:         d.config.NamePrefix + strconv.Itoa(index),
		Endpoint:   fmt.Sprintf("tcp:%s:%d", d.config.Host, d.config.BaseOpenFlowPort+index),
		APIAddress: fmt.Sprintf("http://%s:%d", d.config.Host, d.config.BaseAPIPort+index),
	}
}

func (d *Docker) removeIfExists(ctx context.Context, name string) error {
	err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return err
	}
	return nil
}

func (d *Docker) ensureImage(ctx context.Context) error {
	_, _, err := d.client.ImageInspectWithRaw(ctx, d.config.Image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "inspect image %s", d.config.Image)
	}

	d.log.Info("Image not found locally, pulling")
	out, err := d.client.ImagePull(ctx, d.config.Image, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "pull image %s", d.config.Image)
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	return err
}

func (d *Docker) waitRunning(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.ReadyTimeout)
	defer cancel()

	return backoff.Retry(func() error {
		inspect, err := d.client.ContainerInspect(ctx, containerID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return backoff.Permanent(errors.New("container was removed"))
			}
			return err
		}
		if inspect.State == nil || inspect.State.Status != "running" {
			return errors.Errorf("container is %v", inspect.State)
		}
		return nil
	}, cbackoff.NewBackOffWithInitialInterval(ctx, 500*time.Millisecond))
}

// containerSpec builds the container definition of instance number index.
func containerSpec(config DockerConfig, index int, info model.InstanceInfo) (*container.Config, *container.HostConfig) {
	ofpPort := config.BaseOpenFlowPort + index
	apiPort := config.BaseAPIPort + index

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range []int{ofpPort, apiPort} {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: config.Host, HostPort: strconv.Itoa(p)}}
	}

	c := &container.Config{
		Image: config.Image,
		Cmd: []string{
			"ryu-manager", config.App,
			"--ofp-tcp-listen-port", strconv.Itoa(ofpPort),
			"--wsapi-port", strconv.Itoa(apiPort),
			"--observe-links",
		},
		ExposedPorts: exposed,
		Labels: map[string]string{
			labelManaged:    "true",
			labelIndex:      strconv.Itoa(index),
			labelEndpoint:   info.Endpoint,
			labelAPIAddress: info.APIAddress,
		},
	}

	hc := &container.HostConfig{
		NetworkMode: container.NetworkMode(config.NetworkMode),
	}
	// Port bindings are meaningless on the host network
	if !hc.NetworkMode.IsHost() {
		hc.PortBindings = bindings
	}
	return c, hc
}

func infoFromLabels(names []string, labels map[string]string, prefix string) (model.InstanceInfo, bool) {
	if labels[labelManaged] != "true" {
		return model.InstanceInfo{}, false
	}

	id := prefix + labels[labelIndex]
	for _, n := range names {
		if n = strings.TrimPrefix(n, "/"); strings.HasPrefix(n, prefix) {
			id = n
			break
		}
	}
	return model.InstanceInfo{
		ID:         id,
		Endpoint:   labels[labelEndpoint],
		APIAddress: labels[labelAPIAddress],
	}, true
}

// nextIndex returns one more than the highest index in use.
func nextIndex(running []model.InstanceInfo, prefix string) int {
	next := 0
	for _, i := range running {
		if idx := indexOf(i.ID, prefix); idx >= next {
			next = idx + 1
		}
	}
	return next
}

func indexOf(id string, prefix string) int {
	idx, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil {
		return -1
	}
	return idx
}
