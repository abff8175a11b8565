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
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "),
				strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return out, nil
}

// OVS discovers bridges of the local Open vSwitch and configures their controllers.
type OVS struct {
	Vsctl   string
	Timeout time.Duration
	// Protocols is the OpenFlow version forced on every bridge
	Protocols string
	run       Runner
	log       *slog.Logger
}

func NewOVS(vsctl string) *OVS {
	return newOVS(vsctl, execRunner)
}

func newOVS(vsctl string, run Runner) *OVS {
	if vsctl == "" {
		vsctl = "ovs-vsctl"
	}
	return &OVS{
		Vsctl:     vsctl,
		Timeout:   5 * time.Second,
		Protocols: "OpenFlow13",
		run:       run,
		log: slog.With(
			slog.String("component", "ovs"),
		),
	}
}

func (o *OVS) Switches(ctx context.Context) ([]string, error) {
	out, err := o.run(ctx, o.Vsctl, "list-br")
	if err != nil {
		return nil, err
	}

	var res []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			res = append(res, line)
		}
	}
	return res, nil
}

// Connect sets the controller list of every bridge. An empty list removes
// all controllers.
func (o *OVS) Connect(ctx context.Context, endpoints []string) error {
	switches, err := o.Switches(ctx)
	if err != nil {
		return err
	}

	timeout := fmt.Sprintf("--timeout=%d", int(o.Timeout.Seconds()))
	for _, sw := range switches {
		var args []string
		if len(endpoints) == 0 {
			args = []string{timeout, "del-controller", sw}
		} else {
			args = append([]string{timeout,
				"set", "bridge", sw, "protocols=" + o.Protocols,
				"--", "set-controller", sw}, endpoints...)
		}

		if _, e := o.run(ctx, o.Vsctl, args...); e != nil {
			err = multierr.Append(err, e)
			continue
		}
	}

	o.log.Info(
		"Updated switch controllers",
		slog.Int("switches", len(switches)),
		slog.Any("endpoints", endpoints),
	)
	return err
}
