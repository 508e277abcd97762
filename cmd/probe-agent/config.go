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
	"bufio"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-agent/agent"
)

var (
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   "[file]",
		Category:    "MISCELLANEOUS COMMANDS",
		Description: `The dumpconfig command shows configuration values. The private key is never included.`,
	}

	configFileFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "TOML configuration file",
		EnvVar: envPrefix + "CONFIG",
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type probeAgentConfig struct {
	Agent   agent.Config
	Metrics metrics.Config
}

func defaultConfig() probeAgentConfig {
	cfg := probeAgentConfig{
		Agent:   agent.DefaultConfig,
		Metrics: metrics.DefaultConfig,
	}
	cfg.Agent.ClaimThreshold = new(big.Int).Set(agent.DefaultConfig.ClaimThreshold)
	cfg.Agent.Capabilities = append([]string(nil), agent.DefaultConfig.Capabilities...)
	return cfg
}

func loadConfig(file string, cfg *probeAgentConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig assembles the configuration from defaults, the config file and
// command line flags, in increasing order of precedence.
func makeConfig(ctx *cli.Context) (probeAgentConfig, error) {
	cfg := defaultConfig()

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := setAgentConfig(ctx, &cfg.Agent); err != nil {
		return cfg, err
	}
	applyMetricConfig(ctx, &cfg)
	return cfg, nil
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	comment := ""
	if cfg.Agent.PrivateKey != "" {
		comment += "# Note: this config doesn't contain the private key.\n\n"
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.WriteString(comment)
	dump.Write(out)

	return nil
}

func applyMetricConfig(ctx *cli.Context, cfg *probeAgentConfig) {
	if ctx.GlobalIsSet(MetricsEnabledFlag.Name) {
		cfg.Metrics.Enabled = ctx.GlobalBool(MetricsEnabledFlag.Name)
	}
	if ctx.GlobalIsSet(MetricsHTTPFlag.Name) {
		cfg.Metrics.HTTP = ctx.GlobalString(MetricsHTTPFlag.Name)
	}
	if ctx.GlobalIsSet(MetricsPortFlag.Name) {
		cfg.Metrics.Port = ctx.GlobalInt(MetricsPortFlag.Name)
	}
}
