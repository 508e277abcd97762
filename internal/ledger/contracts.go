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

package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyResult is returned by Call when the contract returned no data,
// which usually means there is no code at the address.
var ErrEmptyResult = errors.New("no contract code at given address")

// AgentRegistryABIJSON is the input ABI used to query the agent registry.
const AgentRegistryABIJSON = `[
{"type":"function","name":"isRegistered","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isActive","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getAgent","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[
	{"name":"agent","type":"address"},
	{"name":"name","type":"string"},
	{"name":"metadata","type":"string"},
	{"name":"status","type":"uint8"},
	{"name":"registeredAt","type":"uint256"},
	{"name":"lastActive","type":"uint256"},
	{"name":"totalTasks","type":"uint256"}]}
]`

// RewardPoolABIJSON is the input ABI used to query and claim from the reward
// pool.
const RewardPoolABIJSON = `[
{"type":"function","name":"getPendingReward","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getContribution","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[
	{"name":"taskCount","type":"uint256"},
	{"name":"uptimeSeconds","type":"uint256"},
	{"name":"responseScore","type":"uint256"},
	{"name":"lastUpdated","type":"uint256"}]},
{"type":"function","name":"getCurrentEpoch","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"claimReward","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

var (
	// AgentRegistryABI is the parsed registry ABI.
	AgentRegistryABI = mustParseABI(AgentRegistryABIJSON)

	// RewardPoolABI is the parsed reward pool ABI.
	RewardPoolABI = mustParseABI(RewardPoolABIJSON)
)

func mustParseABI(def string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return &parsed
}

// Call invokes a read-only contract method against the latest block and
// returns the unpacked outputs. The call is capped by RequestTimeout.
func Call(ctx context.Context, b Backend, contract *abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := RequestContext(ctx)
	defer cancel()

	output, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	if len(output) == 0 {
		return nil, ErrEmptyResult
	}
	return contract.Unpack(method, output)
}
