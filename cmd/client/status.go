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

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/netscale/netscale/orchestrator/model"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show instances, switch ownership and load",
		Args:  cobra.NoArgs,
		RunE:  status,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status document")
}

func status(cmd *cobra.Command, _ []string) error {
	s, err := newClient().Status(cmd.Context())
	if err != nil {
		return err
	}

	if statusJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(s)
	}
	return printStatus(cmd.OutOrStdout(), s)
}

func pps(value float64) string {
	return humanize.Comma(int64(math.Round(value))) + " pps"
}

func printStatus(out io.Writer, s *model.Status) error {
	balancer := "inactive"
	if s.LoadBalancing {
		balancer = "active"
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Load balancer:\t%s\n", balancer)
	_, _ = fmt.Fprintf(w, "Scaling:\t%s\n", s.ScalingState)
	_, _ = fmt.Fprintf(w, "Traffic:\t%s aggregate, %s per instance\n", pps(s.AggregatePPS), pps(s.AveragePPS))
	if s.InFlight != "" {
		_, _ = fmt.Fprintf(w, "In flight:\t%s\n", s.InFlight)
	}
	if len(s.Deferred) > 0 {
		_, _ = fmt.Fprintf(w, "Deferred:\t%s\n", strings.Join(s.Deferred, ", "))
	}
	if s.LastEvent != "" {
		_, _ = fmt.Fprintf(w, "Last event:\t%s\n", s.LastEvent)
	}

	_, _ = fmt.Fprintf(w, "\nINSTANCE\tROLE\tHEALTH\tSWITCHES\tLOAD\tCREATED\tENDPOINT\n")
	for _, i := range s.Instances {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			i.ID, i.Role, i.Health, i.SwitchCount, pps(i.Load), humanize.Time(i.CreatedAt), i.Endpoint)
	}

	_, _ = fmt.Fprintf(w, "\nSWITCH\tOWNER\tPENDING\tTRAFFIC\n")
	for _, sw := range s.Switches {
		owner := sw.Owner
		if sw.OwnershipGap || owner == "" {
			owner = "-"
		}
		pending := sw.PendingOwner
		if pending == "" {
			pending = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", sw.ID, owner, pending, pps(sw.PPS))
	}

	if len(s.Errors) > 0 {
		_, _ = fmt.Fprintf(w, "\nERROR\tWHEN\tMESSAGE\n")
		for _, e := range s.Errors {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, humanize.Time(e.Time), e.Message)
		}
	}
	return w.Flush()
}
