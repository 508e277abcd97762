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

package rewards

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/internal/ledger"
	"github.com/probechain/probe-agent/internal/ledger/ledgertest"
)

const testKeyHex = "0xabababababababababababababababababababababababababababababababab"

var testPool = common.HexToAddress("0x00000000000000000000000000000000000000bb")

func newTestClient(t *testing.T, pool *common.Address, threshold *big.Int) (*Client, *ledgertest.Backend) {
	t.Helper()
	backend := ledgertest.NewBackend()
	key, err := identity.HexToKey(testKeyHex)
	require.NoError(t, err)
	id := identity.New(backend, key, big.NewInt(41956), nil)
	return New(id, pool, threshold), backend
}

func TestUnconfiguredPool(t *testing.T) {
	c, backend := newTestClient(t, nil, big.NewInt(0))
	ctx := context.Background()

	assert.Zero(t, c.PendingReward(ctx).Sign())
	assert.Nil(t, c.Contribution(ctx))
	assert.Zero(t, c.CurrentEpoch(ctx))

	_, ok := c.Claim(ctx)
	assert.False(t, ok)
	_, ok = c.ClaimIfReady(ctx)
	assert.False(t, ok)
	assert.Zero(t, backend.RPCCalls())
}

func TestDefaultThreshold(t *testing.T) {
	c, _ := newTestClient(t, &testPool, nil)
	assert.Equal(t, "1000000000000000000", c.Threshold().String())
}

func TestShouldClaimBoundary(t *testing.T) {
	threshold := big.NewInt(1_000_000)
	c, backend := newTestClient(t, &testPool, threshold)
	ctx := context.Background()

	for _, tt := range []struct {
		pending *big.Int
		want    bool
	}{
		{big.NewInt(0), false},
		{new(big.Int).Sub(threshold, big.NewInt(1)), false},
		{threshold, true},
		{new(big.Int).Add(threshold, big.NewInt(1)), true},
	} {
		require.NoError(t, backend.Handle(ledger.RewardPoolABI, "getPendingReward", tt.pending))
		if have := c.ShouldClaim(ctx); have != tt.want {
			t.Errorf("pending %v: ShouldClaim = %v, want %v", tt.pending, have, tt.want)
		}
	}
}

func TestReads(t *testing.T) {
	c, backend := newTestClient(t, &testPool, nil)
	ctx := context.Background()

	pending, _ := new(big.Int).SetString("2500000000000000000", 10)
	require.NoError(t, backend.Handle(ledger.RewardPoolABI, "getPendingReward", pending))
	require.NoError(t, backend.Handle(ledger.RewardPoolABI, "getCurrentEpoch", big.NewInt(17)))
	require.NoError(t, backend.Handle(ledger.RewardPoolABI, "getContribution",
		big.NewInt(120), big.NewInt(86400), big.NewInt(95), big.NewInt(1_700_000_000)))

	assert.Equal(t, pending, c.PendingReward(ctx))
	assert.Equal(t, uint64(17), c.CurrentEpoch(ctx))
	assert.Equal(t, &Contribution{TaskCount: 120, UptimeSeconds: 86400, ResponseScore: 95, LastUpdated: 1_700_000_000}, c.Contribution(ctx))

	sum := c.Summary(ctx)
	assert.Equal(t, 2.5, sum.PendingTokens)
	assert.Equal(t, uint64(17), sum.CurrentEpoch)
	require.NotNil(t, sum.Contribution)
	assert.Equal(t, uint64(120), sum.Contribution.TaskCount)
}

func TestReadsDegrade(t *testing.T) {
	c, backend := newTestClient(t, &testPool, nil)
	ctx := context.Background()

	// Empty return data, as from an address without code.
	assert.Zero(t, c.PendingReward(ctx).Sign())
	assert.Zero(t, c.CurrentEpoch(ctx))
	assert.Nil(t, c.Contribution(ctx))

	backend.SetErr(ledgertest.ErrUnreachable)
	sum := c.Summary(ctx)
	assert.Zero(t, sum.PendingWei.Sign())
	assert.Zero(t, sum.PendingTokens)
	assert.Nil(t, sum.Contribution)
	assert.False(t, c.ShouldClaim(ctx))
}

func TestClaim(t *testing.T) {
	c, backend := newTestClient(t, &testPool, big.NewInt(10))
	backend.WithholdReceipts()
	ctx := context.Background()

	require.NoError(t, backend.Handle(ledger.RewardPoolABI, "getPendingReward", big.NewInt(10)))
	hash, ok := c.ClaimIfReady(ctx)
	require.True(t, ok, "claim must not wait for a receipt")

	sent := backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Hash(), hash)
	assert.Equal(t, testPool, *sent[0].To())
	assert.Equal(t, ledger.ClaimGas, sent[0].Gas())
	assert.Equal(t, ledger.RewardPoolABI.Methods["claimReward"].ID, sent[0].Data())

	require.NoError(t, backend.Handle(ledger.RewardPoolABI, "getPendingReward", big.NewInt(9)))
	_, ok = c.ClaimIfReady(ctx)
	assert.False(t, ok)
	assert.Len(t, backend.Sent(), 1)
}

func TestClaimSendFailure(t *testing.T) {
	c, backend := newTestClient(t, &testPool, nil)
	backend.SetErr(ledgertest.ErrUnreachable)

	hash, ok := c.Claim(context.Background())
	assert.False(t, ok)
	assert.Equal(t, common.Hash{}, hash)
}

func TestWeiToTokens(t *testing.T) {
	assert.Zero(t, WeiToTokens(nil))
	assert.Zero(t, WeiToTokens(new(big.Int)))
	assert.Equal(t, 1.0, WeiToTokens(big.NewInt(1e18)))
	assert.Equal(t, 0.5, WeiToTokens(big.NewInt(5e17)))
}
