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
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/urfave/cli.v1"

	"github.com/probechain/probe-agent/agent"
)

const envPrefix = "PROBE_AGENT_"

var (
	// Ledger settings
	RPCURLFlag = cli.StringFlag{
		Name:   "rpc",
		Usage:  "Ledger JSON-RPC endpoint (http, ws or ipc)",
		Value:  agent.DefaultConfig.RPCURL,
		EnvVar: envPrefix + "RPC_URL",
	}
	ChainIDFlag = cli.Uint64Flag{
		Name:   "chainid",
		Usage:  "Chain id used to sign transactions",
		Value:  agent.DefaultConfig.ChainID,
		EnvVar: envPrefix + "CHAIN_ID",
	}
	PrivateKeyFlag = cli.StringFlag{
		Name:   "key",
		Usage:  "Hex encoded agent private key",
		EnvVar: envPrefix + "PRIVATE_KEY",
	}
	KeyFileFlag = cli.StringFlag{
		Name:   "keyfile",
		Usage:  "File holding the hex encoded agent private key",
		EnvVar: envPrefix + "KEY_FILE",
	}
	AgentRegistryFlag = cli.StringFlag{
		Name:   "registry",
		Usage:  "AgentRegistry contract address (empty for precompile-only mode)",
		EnvVar: envPrefix + "AGENT_REGISTRY",
	}
	RewardPoolFlag = cli.StringFlag{
		Name:   "rewards.pool",
		Usage:  "RewardPool contract address (empty disables reward tracking)",
		EnvVar: envPrefix + "REWARD_POOL",
	}
	ClaimThresholdFlag = cli.StringFlag{
		Name:   "rewards.threshold",
		Usage:  "Pending reward in wei that triggers a claim",
		Value:  agent.DefaultConfig.ClaimThreshold.String(),
		EnvVar: envPrefix + "CLAIM_THRESHOLD",
	}
	RewardIntervalFlag = cli.DurationFlag{
		Name:   "rewards.interval",
		Usage:  "Reward check interval (0 derives it from the report interval)",
		EnvVar: envPrefix + "REWARD_INTERVAL",
	}
	HeartbeatIntervalFlag = cli.DurationFlag{
		Name:   "heartbeat.interval",
		Usage:  "Interval between heartbeat transactions",
		Value:  agent.DefaultConfig.HeartbeatInterval,
		EnvVar: envPrefix + "HEARTBEAT_INTERVAL",
	}

	// Oracle settings
	OracleURLFlag = cli.StringFlag{
		Name:   "oracle",
		Usage:  "Oracle base URL",
		Value:  agent.DefaultConfig.OracleURL,
		EnvVar: envPrefix + "ORACLE_URL",
	}
	ReportIntervalFlag = cli.DurationFlag{
		Name:   "oracle.interval",
		Usage:  "Interval between oracle reports (minimum 10s)",
		Value:  agent.DefaultConfig.ReportInterval,
		EnvVar: envPrefix + "REPORT_INTERVAL",
	}
	ProofLimitFlag = cli.IntFlag{
		Name:   "oracle.prooflimit",
		Usage:  "Maximum number of proofs buffered between reports (0 = unbounded)",
		Value:  agent.DefaultConfig.ProofBufferLimit,
		EnvVar: envPrefix + "PROOF_LIMIT",
	}

	// Model settings
	ModelFlag = cli.StringFlag{
		Name:   "model",
		Usage:  "Identifier of the served model",
		Value:  agent.DefaultConfig.ModelName,
		EnvVar: envPrefix + "MODEL",
	}
	AgentNameFlag = cli.StringFlag{
		Name:   "name",
		Usage:  "On-chain agent name (derived from model and address if empty)",
		EnvVar: envPrefix + "NAME",
	}
	CapabilitiesFlag = cli.StringFlag{
		Name:   "capabilities",
		Usage:  "Comma separated list of 32 byte hex capabilities",
		EnvVar: envPrefix + "CAPABILITIES",
	}

	// On-chain verification
	VerifyFlag = cli.BoolFlag{
		Name:   "verify",
		Usage:  "Submit every inference proof to the verification precompile",
		EnvVar: envPrefix + "VERIFY",
	}
	VerifyWorkersFlag = cli.IntFlag{
		Name:   "verify.workers",
		Usage:  "Number of concurrent verification submitters",
		Value:  agent.DefaultConfig.VerifyWorkers,
		EnvVar: envPrefix + "VERIFY_WORKERS",
	}
	VerifyQueueFlag = cli.IntFlag{
		Name:   "verify.queue",
		Usage:  "Maximum number of proofs awaiting verification",
		Value:  agent.DefaultConfig.VerifyQueue,
		EnvVar: envPrefix + "VERIFY_QUEUE",
	}
	VerifyRateFlag = cli.Float64Flag{
		Name:   "verify.rate",
		Usage:  "Maximum verification transactions per second (0 = unlimited)",
		Value:  agent.DefaultConfig.VerifyRate,
		EnvVar: envPrefix + "VERIFY_RATE",
	}
	VerifyCacheFlag = cli.IntFlag{
		Name:   "verify.cache",
		Usage:  "Number of submitted proof hashes remembered to skip duplicates",
		Value:  agent.DefaultConfig.VerifyCacheSize,
		EnvVar: envPrefix + "VERIFY_CACHE",
	}

	// Logging and metrics
	VerbosityFlag = cli.IntFlag{
		Name:   "verbosity",
		Usage:  "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:  3,
		EnvVar: envPrefix + "VERBOSITY",
	}
	MetricsEnabledFlag = cli.BoolFlag{
		Name:   "metrics",
		Usage:  "Enable metrics collection and reporting",
		EnvVar: envPrefix + "METRICS",
	}
	MetricsHTTPFlag = cli.StringFlag{
		Name:   "metrics.addr",
		Usage:  "Enable stand-alone metrics HTTP server listening interface",
		EnvVar: envPrefix + "METRICS_ADDR",
	}
	MetricsPortFlag = cli.IntFlag{
		Name:   "metrics.port",
		Usage:  "Metrics HTTP server listening port",
		Value:  6060,
		EnvVar: envPrefix + "METRICS_PORT",
	}
)

var (
	agentFlags = []cli.Flag{
		configFileFlag,
		RPCURLFlag,
		ChainIDFlag,
		PrivateKeyFlag,
		KeyFileFlag,
		AgentRegistryFlag,
		RewardPoolFlag,
		ClaimThresholdFlag,
		RewardIntervalFlag,
		HeartbeatIntervalFlag,
		OracleURLFlag,
		ReportIntervalFlag,
		ProofLimitFlag,
		ModelFlag,
		AgentNameFlag,
		CapabilitiesFlag,
		VerifyFlag,
		VerifyWorkersFlag,
		VerifyQueueFlag,
		VerifyRateFlag,
		VerifyCacheFlag,
	}

	debugFlags = []cli.Flag{
		VerbosityFlag,
		MetricsEnabledFlag,
		MetricsHTTPFlag,
		MetricsPortFlag,
	}
)

// setAgentConfig applies the command line flags that were set explicitly on
// top of the defaults and config file values.
func setAgentConfig(ctx *cli.Context, cfg *agent.Config) error {
	if ctx.GlobalIsSet(RPCURLFlag.Name) {
		cfg.RPCURL = ctx.GlobalString(RPCURLFlag.Name)
	}
	if ctx.GlobalIsSet(ChainIDFlag.Name) {
		cfg.ChainID = ctx.GlobalUint64(ChainIDFlag.Name)
	}
	if err := setPrivateKey(ctx, cfg); err != nil {
		return err
	}
	if ctx.GlobalIsSet(AgentRegistryFlag.Name) {
		addr, err := parseAddress(ctx.GlobalString(AgentRegistryFlag.Name))
		if err != nil {
			return fmt.Errorf("invalid --%s: %v", AgentRegistryFlag.Name, err)
		}
		cfg.AgentRegistry = addr
	}
	if ctx.GlobalIsSet(RewardPoolFlag.Name) {
		addr, err := parseAddress(ctx.GlobalString(RewardPoolFlag.Name))
		if err != nil {
			return fmt.Errorf("invalid --%s: %v", RewardPoolFlag.Name, err)
		}
		cfg.RewardPool = addr
	}
	if ctx.GlobalIsSet(ClaimThresholdFlag.Name) {
		threshold, ok := new(big.Int).SetString(ctx.GlobalString(ClaimThresholdFlag.Name), 10)
		if !ok {
			return fmt.Errorf("invalid --%s: not a decimal integer", ClaimThresholdFlag.Name)
		}
		cfg.ClaimThreshold = threshold
	}
	if ctx.GlobalIsSet(RewardIntervalFlag.Name) {
		cfg.RewardCheckInterval = ctx.GlobalDuration(RewardIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(HeartbeatIntervalFlag.Name) {
		cfg.HeartbeatInterval = ctx.GlobalDuration(HeartbeatIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(OracleURLFlag.Name) {
		cfg.OracleURL = ctx.GlobalString(OracleURLFlag.Name)
	}
	if ctx.GlobalIsSet(ReportIntervalFlag.Name) {
		cfg.ReportInterval = ctx.GlobalDuration(ReportIntervalFlag.Name)
	}
	if ctx.GlobalIsSet(ProofLimitFlag.Name) {
		cfg.ProofBufferLimit = ctx.GlobalInt(ProofLimitFlag.Name)
	}
	if ctx.GlobalIsSet(ModelFlag.Name) {
		cfg.ModelName = ctx.GlobalString(ModelFlag.Name)
	}
	if ctx.GlobalIsSet(AgentNameFlag.Name) {
		cfg.AgentName = ctx.GlobalString(AgentNameFlag.Name)
	}
	if ctx.GlobalIsSet(CapabilitiesFlag.Name) {
		cfg.Capabilities = splitAndTrim(ctx.GlobalString(CapabilitiesFlag.Name))
	}
	if ctx.GlobalIsSet(VerifyFlag.Name) {
		cfg.VerifyOnChain = ctx.GlobalBool(VerifyFlag.Name)
	}
	if ctx.GlobalIsSet(VerifyWorkersFlag.Name) {
		cfg.VerifyWorkers = ctx.GlobalInt(VerifyWorkersFlag.Name)
	}
	if ctx.GlobalIsSet(VerifyQueueFlag.Name) {
		cfg.VerifyQueue = ctx.GlobalInt(VerifyQueueFlag.Name)
	}
	if ctx.GlobalIsSet(VerifyRateFlag.Name) {
		cfg.VerifyRate = ctx.GlobalFloat64(VerifyRateFlag.Name)
	}
	if ctx.GlobalIsSet(VerifyCacheFlag.Name) {
		cfg.VerifyCacheSize = ctx.GlobalInt(VerifyCacheFlag.Name)
	}
	return nil
}

// setPrivateKey loads the agent key from --key or --keyfile. The two are
// mutually exclusive.
func setPrivateKey(ctx *cli.Context, cfg *agent.Config) error {
	hex, file := ctx.GlobalString(PrivateKeyFlag.Name), ctx.GlobalString(KeyFileFlag.Name)
	switch {
	case hex != "" && file != "":
		return fmt.Errorf("options --%s and --%s are mutually exclusive", PrivateKeyFlag.Name, KeyFileFlag.Name)
	case file != "":
		blob, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read key file: %v", err)
		}
		cfg.PrivateKey = strings.TrimSpace(string(blob))
	case hex != "":
		cfg.PrivateKey = hex
	}
	return nil
}

// parseAddress accepts a hex address, or an empty string for none.
func parseAddress(s string) (*common.Address, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	if !common.IsHexAddress(s) {
		return nil, fmt.Errorf("%q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	return &addr, nil
}

// splitAndTrim splits input separated by a comma and trims excessive white
// space from the substrings.
func splitAndTrim(input string) (ret []string) {
	l := strings.Split(input, ",")
	for _, r := range l {
		if r = strings.TrimSpace(r); r != "" {
			ret = append(ret, r)
		}
	}
	return ret
}
