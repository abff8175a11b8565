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
	"slices"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netscale/netscale/cmd/flag"
	"github.com/netscale/netscale/common/process"
	"github.com/netscale/netscale/orchestrator"
	"github.com/netscale/netscale/orchestrator/scaling"
)

var (
	conf       = orchestrator.NewConfig()
	configFile string

	Cmd = &cobra.Command{
		Use:     "orchestrator",
		Short:   "Start the orchestrator",
		Long:    `Start the orchestrator that scales the controller pool and balances switch mastership`,
		PreRunE: validate,
		RunE:    exec,
	}
)

func init() {
	flag.ServiceAddr(Cmd, &conf.ServiceAddr)
	flag.InternalAddr(Cmd, &conf.InternalServiceAddr)
	flag.MetricsAddr(Cmd, &conf.MetricsServiceAddr)
	Cmd.Flags().StringVar(&conf.ProvisionerName, "provisioner", conf.ProvisionerName, "Controller provisioner: docker, static or memory")
	Cmd.Flags().StringVar(&conf.NetworkName, "network", conf.NetworkName, "Switch network: ovs, static or memory")
	Cmd.Flags().StringVar(&conf.ProbeName, "probe", conf.ProbeName, "Health probe: http or grpc")
	Cmd.Flags().StringVar(&conf.SamplerName, "sampler", conf.SamplerName, "Traffic sampler: ryu or prometheus")
	Cmd.Flags().StringVar(&conf.Docker.Image, "docker-image", conf.Docker.Image, "Image of the controller containers")
	Cmd.Flags().StringSliceVar(&conf.Switches, "switches", conf.Switches, "Switches of the static and memory networks")
	Cmd.Flags().IntVar(&conf.InitialInstances, "initial-instances", conf.InitialInstances, "Instances created on boot when none is running")
	Cmd.Flags().BoolVar(&conf.LoadBalancing, "load-balancing", conf.LoadBalancing, "Activate the load balancer on boot")
	Cmd.Flags().DurationVar(&conf.WarmupPeriod, "warmup-period", conf.WarmupPeriod, "Time a new instance is given to connect to the switches")
	Cmd.Flags().DurationVar(&conf.DiscoveryInterval, "discovery-interval", conf.DiscoveryInterval, "Switch discovery interval, 0 disables it")
	Cmd.Flags().StringVarP(&configFile, "conf", "f", "", "Orchestrator config file")
}

func validate(*cobra.Command, []string) error {
	for _, check := range []struct {
		kind    string
		value   string
		allowed []string
	}{
		{"provisioner", conf.ProvisionerName, []string{orchestrator.ProvisionerDocker, orchestrator.ProvisionerStatic, orchestrator.ProvisionerMemory}},
		{"network", conf.NetworkName, []string{orchestrator.NetworkOVS, orchestrator.NetworkStatic, orchestrator.NetworkMemory}},
		{"probe", conf.ProbeName, []string{orchestrator.ProbeHTTP, orchestrator.ProbeGRPC}},
		{"sampler", conf.SamplerName, []string{orchestrator.SamplerRyu, orchestrator.SamplerPrometheus}},
	} {
		if !slices.Contains(check.allowed, check.value) {
			return errors.Errorf("unknown %s %q, expected one of %v", check.kind, check.value, check.allowed)
		}
	}
	return nil
}

func setConfigPath(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
}

// loadConfig overlays the keys present in the config file on top of base.
func loadConfig(v *viper.Viper, base orchestrator.Config) (orchestrator.Config, error) {
	c := base
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}

	if err := v.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return c, errors.Wrap(err, "failed to load orchestrator config")
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

type policyUpdater interface {
	UpdatePolicy(policy scaling.Policy) error
}

// reloadPolicy applies the scaling policy of a changed config file. The
// other settings only take effect on restart.
func reloadPolicy(v *viper.Viper, updater policyUpdater) error {
	c, err := loadConfig(v, conf)
	if err != nil {
		return err
	}
	return updater.UpdatePolicy(c.Policy)
}

func exec(*cobra.Command, []string) error {
	v := viper.New()
	if configFile != "" {
		setConfigPath(v)
		loaded, err := loadConfig(v, conf)
		if err != nil {
			return err
		}
		conf = loaded
	}

	process.RunProcess(func() (io.Closer, error) {
		server, err := orchestrator.NewServer(conf)
		if err != nil {
			return nil, err
		}

		if configFile != "" {
			v.OnConfigChange(func(e fsnotify.Event) {
				if err := reloadPolicy(v, server); err != nil {
					slog.Warn(
						"Failed to reload the scaling policy",
						slog.String("file", e.Name),
						slog.Any("error", err),
					)
					return
				}
				slog.Info("Scaling policy reloaded", slog.String("file", e.Name))
			})
			v.WatchConfig()
		}
		return server, nil
	})
	return nil
}
