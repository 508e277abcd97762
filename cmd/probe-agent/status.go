// Copyright 2026 The probe-agent Authors
// This file is part of probe-agent.
//
// probe-agent is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// probe-agent is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with probe-agent. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-agent/agent"
	"github.com/probechain/probe-agent/rewards"
)

const statusTimeout = 30 * time.Second

var statusCommand = cli.Command{
	Action:    showStatus,
	Name:      "status",
	Usage:     "Show the agent's registration, balance and reward state",
	ArgsUsage: "",
	Category:  "AGENT COMMANDS",
	Description: `
The status command queries the ledger once for the configured agent and
prints its registration, balance and reward pool state. Nothing is sent.`,
}

func showStatus(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		Fatalf("%v", err)
	}
	client, svc := makeService(&cfg.Agent)
	defer client.Close()
	defer svc.Identity().Close()

	qctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	renderStatus(os.Stdout, svc.Status(qctx))
	return nil
}

// renderStatus prints the status as a two column table.
func renderStatus(w io.Writer, st *agent.Status) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	registry := "none (precompile-only)"
	if st.Registry != nil {
		registry = st.Registry.Hex()
	}
	table.Append([]string{"Address", st.Address.Hex()})
	table.Append([]string{"Name", st.Name})
	table.Append([]string{"Chain ID", st.ChainID.String()})
	table.Append([]string{"Model hash", st.ModelHash.Hex()})
	table.Append([]string{"Connected", strconv.FormatBool(st.Connected)})
	table.Append([]string{"Balance", fmt.Sprintf("%g", rewards.WeiToTokens(st.Balance))})
	table.Append([]string{"Registry", registry})
	if st.Registry != nil {
		table.Append([]string{"Registered", strconv.FormatBool(st.Registered)})
		table.Append([]string{"Active", strconv.FormatBool(st.Active)})
	}
	if rec := st.Record; rec != nil {
		table.Append([]string{"Registry status", rec.Status.String()})
		table.Append([]string{"Registered at", time.Unix(int64(rec.RegisteredAt), 0).UTC().Format(time.RFC3339)})
		table.Append([]string{"Last active", time.Unix(int64(rec.LastActive), 0).UTC().Format(time.RFC3339)})
		table.Append([]string{"Total tasks", strconv.FormatUint(rec.TotalTasks, 10)})
	}
	if sum := st.Rewards; sum != nil {
		table.Append([]string{"Pending reward", fmt.Sprintf("%g (%v wei)", sum.PendingTokens, sum.PendingWei)})
		table.Append([]string{"Current epoch", strconv.FormatUint(sum.CurrentEpoch, 10)})
		if c := sum.Contribution; c != nil {
			table.Append([]string{"Tasks", strconv.FormatUint(c.TaskCount, 10)})
			table.Append([]string{"Uptime", (time.Duration(c.UptimeSeconds) * time.Second).String()})
			table.Append([]string{"Response score", strconv.FormatUint(c.ResponseScore, 10)})
		}
	}
	table.Render()
}
