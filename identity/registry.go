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

package identity

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/probechain/probe-agent/internal/ledger"
)

// connectTimeout caps the liveness probe.
const connectTimeout = 5 * time.Second

// AgentStatus is the registry's view of an agent.
type AgentStatus uint8

const (
	StatusInactive AgentStatus = iota
	StatusActive
	StatusSuspended
)

func (s AgentStatus) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// AgentRecord is the registry entry of an agent. It is only ever read.
type AgentRecord struct {
	Address      common.Address
	Name         string
	Metadata     string
	Status       AgentStatus
	RegisteredAt uint64
	LastActive   uint64
	TotalTasks   uint64
}

// IsConnected reports whether the ledger RPC endpoint answers. It never
// fails; any transport error reads as disconnected.
func (id *Identity) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	_, err := id.backend.BlockNumber(ctx)
	if err != nil {
		log.Debug("Ledger liveness probe failed", "err", err)
		return false
	}
	return true
}

// Registry returns the configured registry address, or nil.
func (id *Identity) Registry() *common.Address {
	if id.registry == nil {
		return nil
	}
	addr := *id.registry
	return &addr
}

// VerifyRegistration reports whether the registry knows this agent. Without
// a configured registry it optimistically returns true so the agent can
// operate before the contract is deployed.
func (id *Identity) VerifyRegistration(ctx context.Context) bool {
	if id.registry == nil {
		log.Warn("Agent registry not configured, skipping registration check")
		return true
	}
	registered, err := id.queryBool(ctx, "isRegistered")
	if err != nil {
		log.Warn("Failed to check agent registration", "registry", *id.registry, "err", err)
		return false
	}
	return registered
}

// IsActive reports whether the registry lists this agent as active. Like
// VerifyRegistration it returns true when no registry is configured.
func (id *Identity) IsActive(ctx context.Context) bool {
	if id.registry == nil {
		return true
	}
	active, err := id.queryBool(ctx, "isActive")
	if err != nil {
		log.Warn("Failed to check agent status", "registry", *id.registry, "err", err)
		return false
	}
	return active
}

// AgentRecord fetches the registry entry of this agent. It returns nil when
// no registry is configured or the query fails.
func (id *Identity) AgentRecord(ctx context.Context) *AgentRecord {
	if id.registry == nil {
		return nil
	}
	out, err := ledger.Call(ctx, id.backend, ledger.AgentRegistryABI, *id.registry, "getAgent", id.address)
	if err != nil {
		log.Warn("Failed to fetch agent record", "registry", *id.registry, "err", err)
		return nil
	}
	return &AgentRecord{
		Address:      *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Name:         *abi.ConvertType(out[1], new(string)).(*string),
		Metadata:     *abi.ConvertType(out[2], new(string)).(*string),
		Status:       AgentStatus(*abi.ConvertType(out[3], new(uint8)).(*uint8)),
		RegisteredAt: (*abi.ConvertType(out[4], new(*big.Int)).(**big.Int)).Uint64(),
		LastActive:   (*abi.ConvertType(out[5], new(*big.Int)).(**big.Int)).Uint64(),
		TotalTasks:   (*abi.ConvertType(out[6], new(*big.Int)).(**big.Int)).Uint64(),
	}
}

// Balance returns the agent's native balance in wei, or zero if the query
// fails.
func (id *Identity) Balance(ctx context.Context) *big.Int {
	ctx, cancel := ledger.RequestContext(ctx)
	defer cancel()

	balance, err := id.backend.BalanceAt(ctx, id.address, nil)
	if err != nil {
		log.Warn("Failed to query agent balance", "err", err)
		return new(big.Int)
	}
	return balance
}

func (id *Identity) queryBool(ctx context.Context, method string) (bool, error) {
	out, err := ledger.Call(ctx, id.backend, ledger.AgentRegistryABI, *id.registry, method, id.address)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}
