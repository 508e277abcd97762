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

// Package rewards reads the agent's standing in the reward pool and claims
// accrued rewards once they pass a threshold.
package rewards

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/params"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/internal/ledger"
)

// DefaultClaimThreshold is one whole token.
var DefaultClaimThreshold = big.NewInt(params.Ether)

// Contribution is the reward pool's record of the agent's work.
type Contribution struct {
	TaskCount     uint64 `json:"task_count"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
	ResponseScore uint64 `json:"response_score"`
	LastUpdated   uint64 `json:"last_updated"`
}

// Summary is a point-in-time view of the agent's reward state.
type Summary struct {
	Address       common.Address `json:"address"`
	PendingWei    *big.Int       `json:"pending_reward_wei"`
	PendingTokens float64        `json:"pending_reward"`
	CurrentEpoch  uint64         `json:"current_epoch"`
	Contribution  *Contribution  `json:"contribution"`
}

// Client talks to the reward pool contract. Every read degrades to a zero
// value when the pool is not configured or the call fails.
type Client struct {
	id         *identity.Identity
	backend    ledger.Backend
	transactor *ledger.Transactor
	pool       *common.Address
	threshold  *big.Int
	log        log.Logger

	claims metrics.Counter
}

// New creates a reward client. pool may be nil, in which case reward
// tracking is disabled. A nil threshold selects DefaultClaimThreshold.
func New(id *identity.Identity, pool *common.Address, threshold *big.Int) *Client {
	if threshold == nil {
		threshold = DefaultClaimThreshold
	}
	c := &Client{
		id:         id,
		backend:    id.Backend(),
		transactor: id.Transactor(),
		threshold:  new(big.Int).Set(threshold),
		claims:     metrics.GetOrRegisterCounter("agent/rewards/claims", nil),
	}
	if pool != nil {
		addr := *pool
		c.pool = &addr
		c.log = log.New("pool", addr)
		c.log.Info("Reward pool configured", "threshold", threshold)
	} else {
		c.log = log.Root()
		c.log.Warn("Reward pool address not configured, reward tracking disabled")
	}
	return c
}

// Threshold returns the configured claim threshold in wei.
func (c *Client) Threshold() *big.Int { return new(big.Int).Set(c.threshold) }

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	return ledger.Call(ctx, c.backend, ledger.RewardPoolABI, *c.pool, method, args...)
}

// PendingReward returns the unclaimed reward in wei.
func (c *Client) PendingReward(ctx context.Context) *big.Int {
	if c.pool == nil {
		return new(big.Int)
	}
	out, err := c.call(ctx, "getPendingReward", c.id.Address())
	if err != nil {
		c.log.Error("Failed to query pending reward", "err", err)
		return new(big.Int)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
}

// Contribution returns the agent's contribution record, or nil.
func (c *Client) Contribution(ctx context.Context) *Contribution {
	if c.pool == nil {
		return nil
	}
	out, err := c.call(ctx, "getContribution", c.id.Address())
	if err != nil {
		c.log.Error("Failed to query contribution", "err", err)
		return nil
	}
	field := func(i int) uint64 {
		return (*abi.ConvertType(out[i], new(*big.Int)).(**big.Int)).Uint64()
	}
	return &Contribution{
		TaskCount:     field(0),
		UptimeSeconds: field(1),
		ResponseScore: field(2),
		LastUpdated:   field(3),
	}
}

// CurrentEpoch returns the reward pool's epoch number.
func (c *Client) CurrentEpoch(ctx context.Context) uint64 {
	if c.pool == nil {
		return 0
	}
	out, err := c.call(ctx, "getCurrentEpoch")
	if err != nil {
		c.log.Error("Failed to query current epoch", "err", err)
		return 0
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64()
}

// ShouldClaim reports whether the pending reward has reached the threshold.
func (c *Client) ShouldClaim(ctx context.Context) bool {
	pending := c.PendingReward(ctx)
	if pending.Cmp(c.threshold) < 0 {
		c.log.Debug("Pending reward below claim threshold", "pending", pending, "threshold", c.threshold)
		return false
	}
	c.log.Info("Pending reward reached claim threshold", "pending", pending, "threshold", c.threshold)
	return true
}

// Claim submits claimReward() and returns as soon as the node accepted the
// transaction. The receipt is not awaited: the next reward check observes
// the lower pending balance if the claim went through.
func (c *Client) Claim(ctx context.Context) (common.Hash, bool) {
	if c.pool == nil {
		c.log.Warn("Cannot claim, reward pool not configured")
		return common.Hash{}, false
	}
	data, err := ledger.RewardPoolABI.Pack("claimReward")
	if err != nil {
		c.log.Error("Failed to encode claim", "err", err)
		return common.Hash{}, false
	}
	tx, err := c.transactor.Transact(ctx, *c.pool, ledger.ClaimGas, data)
	if err != nil {
		c.log.Error("Failed to claim reward", "err", err)
		return common.Hash{}, false
	}
	c.claims.Inc(1)
	c.log.Info("Claim transaction sent", "tx", tx.Hash(), "nonce", tx.Nonce())
	return tx.Hash(), true
}

// ClaimIfReady claims when ShouldClaim holds.
func (c *Client) ClaimIfReady(ctx context.Context) (common.Hash, bool) {
	if !c.ShouldClaim(ctx) {
		return common.Hash{}, false
	}
	return c.Claim(ctx)
}

// Summary collects the pending reward, epoch and contribution.
func (c *Client) Summary(ctx context.Context) *Summary {
	pending := c.PendingReward(ctx)
	return &Summary{
		Address:       c.id.Address(),
		PendingWei:    pending,
		PendingTokens: WeiToTokens(pending),
		CurrentEpoch:  c.CurrentEpoch(ctx),
		Contribution:  c.Contribution(ctx),
	}
}

// WeiToTokens converts a wei amount to whole tokens.
func WeiToTokens(wei *big.Int) float64 {
	if wei == nil || wei.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Float64()
	return f
}
