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
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/rewards"
)

// Status is a one-shot view of the agent as seen from the ledger.
type Status struct {
	Address    common.Address
	Name       string
	ChainID    *big.Int
	ModelHash  common.Hash
	Connected  bool
	Balance    *big.Int
	Registry   *common.Address // nil in precompile-only mode
	Registered bool
	Active     bool
	Record     *identity.AgentRecord // nil if unavailable
	Rewards    *rewards.Summary
}

// Status queries the ledger for the agent's registration, balance and
// rewards. Remote failures degrade to zero values.
func (s *Service) Status(ctx context.Context) *Status {
	st := &Status{
		Address:   s.id.Address(),
		Name:      s.name,
		ChainID:   s.id.ChainID(),
		ModelHash: s.generator.ModelHash(),
		Registry:  s.id.Registry(),
	}
	if st.Connected = s.id.IsConnected(ctx); !st.Connected {
		st.Balance = new(big.Int)
		st.Rewards = &rewards.Summary{Address: st.Address, PendingWei: new(big.Int)}
		return st
	}
	st.Balance = s.id.Balance(ctx)
	st.Registered = s.id.VerifyRegistration(ctx)
	st.Active = s.id.IsActive(ctx)
	st.Record = s.id.AgentRecord(ctx)
	st.Rewards = s.rewards.Summary(ctx)
	return st
}
