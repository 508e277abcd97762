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

// probe-agent is the ledger agent that runs next to an inference node.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-agent/agent"
	"github.com/probechain/probe-agent/internal/ledger"
)

const (
	clientIdentifier = "probe-agent"
	clientVersion    = "0.3.0"

	dialTimeout = 10 * time.Second
)

var app = cli.NewApp()

func init() {
	app.Name = clientIdentifier
	app.Usage = "the probe ledger agent for inference nodes"
	app.Version = clientVersion
	app.Action = serve
	app.HideVersion = true
	app.Copyright = "Copyright 2026 The probe-agent Authors"
	app.Commands = []cli.Command{
		statusCommand,
		dumpConfigCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = append(app.Flags, agentFlags...)
	app.Flags = append(app.Flags, debugFlags...)

	app.Before = setupLogging
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve is the main entry point into the system if no special subcommand is
// run. It runs the agent until it is interrupted.
func serve(ctx *cli.Context) error {
	if args := ctx.Args(); len(args) > 0 {
		return fmt.Errorf("invalid command: %q", args[0])
	}
	cfg, err := makeConfig(ctx)
	if err != nil {
		Fatalf("%v", err)
	}
	setupMetrics(cfg.Metrics)

	client, svc := makeService(&cfg.Agent)
	defer client.Close()

	svc.InstallSignalHandlers()
	return svc.Start(context.Background())
}

// makeService connects to the ledger and assembles the agent. Any
// configuration problem is fatal.
func makeService(cfg *agent.Config) (*ethclient.Client, *agent.Service) {
	if err := cfg.Validate(); err != nil {
		Fatalf("%v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := ledger.Dial(ctx, cfg.RPCURL)
	if err != nil {
		Fatalf("Failed to connect to ledger at %s: %v", cfg.RPCURL, err)
	}
	// An unreachable ledger is tolerated, a different chain is not.
	if chainID, err := client.ChainID(ctx); err != nil {
		log.Warn("Could not verify chain id", "url", cfg.RPCURL, "err", err)
	} else if !chainID.IsUint64() || chainID.Uint64() != cfg.ChainID {
		Fatalf("Chain id mismatch: configured %d, ledger reports %v", cfg.ChainID, chainID)
	}
	svc, err := agent.New(cfg, client)
	if err != nil {
		Fatalf("Failed to create the agent: %v", err)
	}
	return client, svc
}

// setupLogging installs the terminal log handler on stderr, with colours when
// stderr is a terminal.
func setupLogging(ctx *cli.Context) error {
	verbosity := ctx.GlobalInt(VerbosityFlag.Name)
	if verbosity < 0 || verbosity > 5 {
		return fmt.Errorf("invalid verbosity %d, want 0-5", verbosity)
	}
	var (
		output   = io.Writer(os.Stderr)
		usecolor = (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	)
	if usecolor {
		output = colorable.NewColorableStderr()
	}
	handler := log.NewTerminalHandlerWithLevel(output, log.FromLegacyLevel(verbosity), usecolor)
	log.SetDefault(log.NewLogger(handler))
	return nil
}

// setupMetrics enables metrics collection and the stand-alone metrics HTTP
// endpoint. It must run before the agent is created so that meters are not
// registered as no-ops.
func setupMetrics(cfg metrics.Config) {
	if !cfg.Enabled {
		return
	}
	log.Info("Enabling metrics collection")
	metrics.Enabled = true

	if cfg.HTTP != "" {
		address := net.JoinHostPort(cfg.HTTP, strconv.Itoa(cfg.Port))
		log.Info("Enabling stand-alone metrics HTTP endpoint", "address", address)
		exp.Setup(address)
	}
	go metrics.CollectProcessMetrics(3 * time.Second)
}

// Fatalf formats a message to standard error and exits the program.
// The message is also printed to standard output if standard error
// is redirected to a different file.
func Fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		}
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}
