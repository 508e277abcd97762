// Copyright 2026 The probe-agent Authors
// This file is part of the probe-agent library.
//
// The probe-agent library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The probe-agent library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the probe-agent library. If not, see <http://www.gnu.org/licenses/>.

package agent

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/lifecycle"
	"github.com/probechain/probe-agent/rewards"
)

const (
	// MinReportInterval is the shortest accepted oracle report interval.
	MinReportInterval = 10 * time.Second

	// MinRewardCheckInterval is the floor of the derived reward check
	// interval.
	MinRewardCheckInterval = 5 * time.Minute
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultConfig contains default settings for a local development chain.
var DefaultConfig = Config{
	RPCURL:            "http://localhost:26902",
	ChainID:           41956,
	OracleURL:         "http://localhost:3100",
	ReportInterval:    time.Minute,
	HeartbeatInterval: 5 * time.Minute,
	ModelName:         "bigscience/bloom-560m",
	VerifyWorkers:     2,
	VerifyQueue:       256,
	VerifyRate:        1,
	VerifyCacheSize:   4096,
	ProofBufferLimit:  10000,
	ClaimThreshold:    new(big.Int).Set(rewards.DefaultClaimThreshold),
}

// Config contains the agent settings.
type Config struct {
	// Ledger
	RPCURL     string
	ChainID    uint64
	PrivateKey string `toml:"-"` // hex encoded, never written out

	// Contracts deployed after genesis. Unset until then.
	AgentRegistry *common.Address `toml:",omitempty"`
	RewardPool    *common.Address `toml:",omitempty"`

	// Oracle reporting
	OracleURL      string
	ReportInterval time.Duration

	// Ledger loops. A zero RewardCheckInterval is derived from the report
	// interval, see RewardInterval.
	HeartbeatInterval   time.Duration
	RewardCheckInterval time.Duration `toml:",omitempty"`

	// Served model and on-chain registration
	ModelName    string
	AgentName    string   `toml:",omitempty"` // derived from model and address if empty
	Capabilities []string `toml:",omitempty"` // 0x-prefixed 32 byte values

	// On-chain proof verification
	VerifyOnChain   bool
	VerifyWorkers   int
	VerifyQueue     int
	VerifyRate      float64 // submissions per second, 0 for unlimited
	VerifyCacheSize int

	// Maximum number of proofs held between reports, 0 for unbounded
	ProofBufferLimit int

	// Pending reward in wei that triggers a claim
	ClaimThreshold *big.Int
}

// Validate checks the configuration before anything touches the network.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w: ledger RPC URL is empty", ErrInvalidConfig)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidConfig)
	}
	if _, err := identity.HexToKey(c.PrivateKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	u, err := url.Parse(c.OracleURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: oracle URL %q is not an http(s) URL", ErrInvalidConfig, c.OracleURL)
	}
	if c.ReportInterval < MinReportInterval {
		return fmt.Errorf("%w: report interval %v below minimum %v", ErrInvalidConfig, c.ReportInterval, MinReportInterval)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalidConfig)
	}
	if c.RewardCheckInterval < 0 {
		return fmt.Errorf("%w: reward check interval is negative", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidConfig)
	}
	if _, err := c.ParseCapabilities(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.VerifyOnChain {
		if c.VerifyWorkers < 1 {
			return fmt.Errorf("%w: at least one verification worker is required", ErrInvalidConfig)
		}
		if c.VerifyQueue < 1 {
			return fmt.Errorf("%w: verification queue must hold at least one proof", ErrInvalidConfig)
		}
		if c.VerifyRate < 0 {
			return fmt.Errorf("%w: verification rate is negative", ErrInvalidConfig)
		}
		if c.VerifyCacheSize < 1 {
			return fmt.Errorf("%w: verification cache size must be positive", ErrInvalidConfig)
		}
	}
	if c.ProofBufferLimit < 0 {
		return fmt.Errorf("%w: proof buffer limit is negative", ErrInvalidConfig)
	}
	if c.ClaimThreshold != nil && c.ClaimThreshold.Sign() < 0 {
		return fmt.Errorf("%w: claim threshold is negative", ErrInvalidConfig)
	}
	return nil
}

// RewardInterval returns the reward check interval, defaulting to five
// report intervals but never less than MinRewardCheckInterval.
func (c *Config) RewardInterval() time.Duration {
	if c.RewardCheckInterval > 0 {
		return c.RewardCheckInterval
	}
	if d := 5 * c.ReportInterval; d > MinRewardCheckInterval {
		return d
	}
	return MinRewardCheckInterval
}

// ParseCapabilities decodes the configured capabilities.
func (c *Config) ParseCapabilities() ([][]byte, error) {
	caps := make([][]byte, 0, len(c.Capabilities))
	for i, s := range c.Capabilities {
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("capability %d: %v", i, err)
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("%w: capability %d has %d bytes", lifecycle.ErrInvalidCapability, i, len(b))
		}
		caps = append(caps, b)
	}
	return caps, nil
}

// DeriveAgentName builds the on-chain name from the last path element of
// the model identifier, cut to 16 characters, and the last 8 hex digits of
// the agent address.
func DeriveAgentName(model string, addr common.Address) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	if r := []rune(model); len(r) > 16 {
		model = string(r[:16])
	}
	a := addr.Hex()
	return model + "-" + a[len(a)-8:]
}

// Name returns the configured agent name, or the derived one.
func (c *Config) Name(addr common.Address) string {
	if c.AgentName != "" {
		return c.AgentName
	}
	return DeriveAgentName(c.ModelName, addr)
}
