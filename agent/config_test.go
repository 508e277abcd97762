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
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-agent/lifecycle"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testConfig() *Config {
	cfg := DefaultConfig
	cfg.PrivateKey = testKey
	cfg.ClaimThreshold = new(big.Int).Set(DefaultConfig.ClaimThreshold)
	return &cfg
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.PrivateKey = "0x" + testKey
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty rpc", func(c *Config) { c.RPCURL = "" }},
		{"zero chain id", func(c *Config) { c.ChainID = 0 }},
		{"missing key", func(c *Config) { c.PrivateKey = "" }},
		{"short key", func(c *Config) { c.PrivateKey = "0x1234" }},
		{"oracle scheme", func(c *Config) { c.OracleURL = "ftp://oracle:21" }},
		{"oracle host", func(c *Config) { c.OracleURL = "http://" }},
		{"report interval", func(c *Config) { c.ReportInterval = 9 * time.Second }},
		{"heartbeat interval", func(c *Config) { c.HeartbeatInterval = 0 }},
		{"reward interval", func(c *Config) { c.RewardCheckInterval = -time.Second }},
		{"model", func(c *Config) { c.ModelName = "  " }},
		{"capability hex", func(c *Config) { c.Capabilities = []string{"0xzz"} }},
		{"capability length", func(c *Config) { c.Capabilities = []string{"0x01"} }},
		{"verify workers", func(c *Config) { c.VerifyOnChain, c.VerifyWorkers = true, 0 }},
		{"verify queue", func(c *Config) { c.VerifyOnChain, c.VerifyQueue = true, 0 }},
		{"verify rate", func(c *Config) { c.VerifyOnChain, c.VerifyRate = true, -1 }},
		{"verify cache", func(c *Config) { c.VerifyOnChain, c.VerifyCacheSize = true, 0 }},
		{"proof limit", func(c *Config) { c.ProofBufferLimit = -1 }},
		{"threshold", func(c *Config) { c.ClaimThreshold = big.NewInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateErrorHidesKey(t *testing.T) {
	cfg := testConfig()
	cfg.PrivateKey = testKey[:60] + "zzzz"
	err := cfg.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testKey[:60])
}

func TestVerifySettingsIgnoredWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyWorkers, cfg.VerifyQueue, cfg.VerifyCacheSize = 0, 0, 0
	assert.NoError(t, cfg.Validate())
}

func TestRewardInterval(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 5*time.Minute, cfg.RewardInterval())

	cfg.ReportInterval = 10 * time.Second
	assert.Equal(t, 5*time.Minute, cfg.RewardInterval())

	cfg.ReportInterval = 2 * time.Minute
	assert.Equal(t, 10*time.Minute, cfg.RewardInterval())

	cfg.RewardCheckInterval = time.Minute
	assert.Equal(t, time.Minute, cfg.RewardInterval())
}

func TestParseCapabilities(t *testing.T) {
	cfg := testConfig()
	cfg.Capabilities = []string{"0x" + strings.Repeat("01", 32), strings.Repeat("ff", 32)}

	caps, err := cfg.ParseCapabilities()
	require.NoError(t, err)
	require.Len(t, caps, 2)
	assert.Equal(t, byte(0x01), caps[0][31])
	assert.Equal(t, byte(0xff), caps[1][0])

	cfg.Capabilities = []string{"0x" + strings.Repeat("01", 31)}
	_, err = cfg.ParseCapabilities()
	assert.ErrorIs(t, err, lifecycle.ErrInvalidCapability)

	cfg.Capabilities = nil
	caps, err = cfg.ParseCapabilities()
	require.NoError(t, err)
	assert.Empty(t, caps)
}

func TestDeriveAgentName(t *testing.T) {
	addr := common.HexToAddress("0x0000000000000000000000000000000012345678")

	tests := []struct {
		model, want string
	}{
		{"bigscience/bloom-560m", "bloom-560m-12345678"},
		{"bloom", "bloom-12345678"},
		{"org/sub/meta-llama-3-70b-instruct", "meta-llama-3-70b-12345678"},
		{"", "-12345678"},
	}
	for _, tt := range tests {
		if got := DeriveAgentName(tt.model, addr); got != tt.want {
			t.Errorf("DeriveAgentName(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestConfigName(t *testing.T) {
	addr := common.HexToAddress("0x0000000000000000000000000000000012345678")
	cfg := testConfig()
	assert.Equal(t, "bloom-560m-12345678", cfg.Name(addr))

	cfg.AgentName = "custom"
	assert.Equal(t, "custom", cfg.Name(addr))
}
