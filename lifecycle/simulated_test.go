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

package lifecycle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/proof"
)

// startMining seals a block every few milliseconds until the returned
// function is called.
func startMining(sim *simulated.Backend) func() {
	var (
		wg   sync.WaitGroup
		quit = make(chan struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				sim.Commit()
			}
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

func TestSimulatedChain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulated chain test in short mode")
	}
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sim := simulated.NewBackend(types.GenesisAlloc{addr: {Balance: big.NewInt(params.Ether)}})
	defer sim.Close()
	stop := startMining(sim)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := sim.Client()
	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)

	id := identity.New(client, key, chainID, nil)
	defer id.Close()
	require.True(t, id.IsConnected(ctx))

	l := New(id)
	gen := proof.NewGenerator("bigscience/bloom-560m", id.Address())

	ok, err := l.Register(ctx, "bloom-560m-"+addr.Hex()[34:], gen.ModelHash(), nil)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		require.True(t, l.Heartbeat(ctx), "heartbeat %d", i)
	}
	_, ok = l.VerifyInference(ctx, gen.Generate([]byte("in"), []byte("out"), 1))
	require.True(t, ok)

	nonce, err := client.NonceAt(ctx, addr, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nonce)
	assert.Equal(t, -1, id.Balance(ctx).Cmp(big.NewInt(params.Ether)), "gas must have been paid")
}
