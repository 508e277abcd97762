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
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/probe-agent/internal/ledger"
	"github.com/probechain/probe-agent/internal/ledger/ledgertest"
)

const testKeyHex = "0xabababababababababababababababababababababababababababababababab"

var testChainID = big.NewInt(41956)

func newTestIdentity(t *testing.T, backend ledger.Backend, registry *common.Address) *Identity {
	t.Helper()
	key, err := HexToKey(testKeyHex)
	require.NoError(t, err)
	return New(backend, key, testChainID, registry)
}

func TestHexToKey(t *testing.T) {
	withPrefix, err := HexToKey(testKeyHex)
	require.NoError(t, err)
	withoutPrefix, err := HexToKey(strings.TrimPrefix(testKeyHex, "0x"))
	require.NoError(t, err)

	if crypto.PubkeyToAddress(withPrefix.PublicKey) != crypto.PubkeyToAddress(withoutPrefix.PublicKey) {
		t.Fatal("0x prefix changed the derived address")
	}
	padded, err := HexToKey(" 0X" + strings.TrimPrefix(testKeyHex, "0x") + "\n")
	require.NoError(t, err)
	assert.Equal(t, withPrefix.D, padded.D)
	for _, bad := range []string{"", "0x", "zz", "0x1234"} {
		if _, err := HexToKey(bad); err == nil {
			t.Errorf("HexToKey(%q) succeeded, want error", bad)
		}
	}
}

func TestHexToKeyErrorHidesKey(t *testing.T) {
	_, err := HexToKey("0xab" + strings.Repeat("g", 62))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "abgg")
}

func TestAddressDerivation(t *testing.T) {
	id := newTestIdentity(t, ledgertest.NewBackend(), nil)
	key, _ := HexToKey(testKeyHex)

	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), id.Address())
	assert.Equal(t, testChainID, id.ChainID())
	assert.True(t, strings.HasPrefix(id.Address().Hex(), "0x"))
	assert.NotContains(t, id.String(), strings.TrimPrefix(testKeyHex, "0x"))
}

func TestSignMessageRecoversAddress(t *testing.T) {
	id := newTestIdentity(t, ledgertest.NewBackend(), nil)

	msg := []byte("hello probe")
	sig, err := id.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("unexpected recovery byte %d", v)
	}
	signer, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), signer)

	again, err := id.SignMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "signatures must be deterministic (RFC6979)")
}

func TestRecoverSignerRejectsGarbage(t *testing.T) {
	if _, err := RecoverSigner([]byte("x"), make([]byte, 10)); err == nil {
		t.Fatal("expected length error")
	}
	sig := make([]byte, 65)
	sig[64] = 40
	if _, err := RecoverSigner([]byte("x"), sig); err == nil {
		t.Fatal("expected recovery id error")
	}
}

func TestSignPayloadCanonical(t *testing.T) {
	id := newTestIdentity(t, ledgertest.NewBackend(), nil)

	a := map[string]interface{}{"b": 2, "a": 1, "nested": map[string]interface{}{"z": true, "y": "<tag>"}}
	b := map[string]interface{}{"nested": map[string]interface{}{"y": "<tag>", "z": true}, "a": 1, "b": 2}

	canonA, sigA, err := id.SignPayload(a)
	require.NoError(t, err)
	canonB, sigB, err := id.SignPayload(b)
	require.NoError(t, err)

	assert.Equal(t, `{"a":1,"b":2,"nested":{"y":"<tag>","z":true}}`, string(canonA))
	assert.Equal(t, canonA, canonB)
	assert.Equal(t, sigA, sigB)

	signer, err := RecoverSigner(canonA, sigA)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), signer)

	_, sigC, err := id.SignPayload(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, sigA, sigC)
}

func TestCanonicalJSONIdempotent(t *testing.T) {
	type inner struct {
		Zeta  float64 `json:"zeta"`
		Alpha uint64  `json:"alpha"`
	}
	first, err := CanonicalJSON(inner{Zeta: 100.25, Alpha: 7})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":7,"zeta":100.25}`, string(first))

	second, err := CanonicalJSON(jsonRaw(first))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first, second))
}

type jsonRaw []byte

func (r jsonRaw) MarshalJSON() ([]byte, error) { return r, nil }

func TestSignTx(t *testing.T) {
	id := newTestIdentity(t, ledgertest.NewBackend(), nil)
	to := ledger.HeartbeatAddress
	tx := types.NewTx(&types.LegacyTx{Nonce: 3, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: new(big.Int)})

	signed, err := id.SignTx(tx)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(testChainID), signed)
	require.NoError(t, err)
	assert.Equal(t, id.Address(), sender)
	assert.Zero(t, testChainID.Cmp(signed.ChainId()))
}

func TestCloseWipesKey(t *testing.T) {
	id := newTestIdentity(t, ledgertest.NewBackend(), nil)
	key := id.key
	id.Close()

	assert.Zero(t, key.D.Sign(), "key scalar not zeroed")
	_, err := id.SignMessage([]byte("x"))
	assert.ErrorIs(t, err, ErrKeyClosed)
	_, _, err = id.SignPayload(map[string]int{"a": 1})
	assert.ErrorIs(t, err, ErrKeyClosed)

	id.Close() // second close is a no-op
}

func TestRegistryUnconfiguredIsOptimistic(t *testing.T) {
	backend := ledgertest.NewBackend()
	id := newTestIdentity(t, backend, nil)
	ctx := context.Background()

	assert.True(t, id.VerifyRegistration(ctx))
	assert.True(t, id.IsActive(ctx))
	assert.Nil(t, id.AgentRecord(ctx))
	assert.Zero(t, backend.RPCCalls(), "unconfigured registry must not touch the ledger")
}

func TestRegistryQueries(t *testing.T) {
	backend := ledgertest.NewBackend()
	registry := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	id := newTestIdentity(t, backend, &registry)
	ctx := context.Background()

	require.NoError(t, backend.Handle(ledger.AgentRegistryABI, "isRegistered", true))
	require.NoError(t, backend.Handle(ledger.AgentRegistryABI, "isActive", false))
	require.NoError(t, backend.Handle(ledger.AgentRegistryABI, "getAgent",
		id.Address(), "bloom-560m-deadbeef", "{}", uint8(StatusActive),
		big.NewInt(1000), big.NewInt(2000), big.NewInt(42)))

	assert.True(t, id.VerifyRegistration(ctx))
	assert.False(t, id.IsActive(ctx))

	rec := id.AgentRecord(ctx)
	require.NotNil(t, rec)
	assert.Equal(t, id.Address(), rec.Address)
	assert.Equal(t, "bloom-560m-deadbeef", rec.Name)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "active", rec.Status.String())
	assert.Equal(t, uint64(1000), rec.RegisteredAt)
	assert.Equal(t, uint64(2000), rec.LastActive)
	assert.Equal(t, uint64(42), rec.TotalTasks)
}

func TestRegistryFailuresDegrade(t *testing.T) {
	backend := ledgertest.NewBackend()
	registry := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	id := newTestIdentity(t, backend, &registry)
	ctx := context.Background()

	// No handlers registered: the registry returns empty data.
	assert.False(t, id.VerifyRegistration(ctx))
	assert.Nil(t, id.AgentRecord(ctx))

	// Malformed return data.
	backend.HandleRaw(ledger.AgentRegistryABI, "isActive", []byte{0x01, 0x02})
	assert.False(t, id.IsActive(ctx))

	backend.SetErr(ledgertest.ErrUnreachable)
	assert.False(t, id.VerifyRegistration(ctx))
	assert.False(t, id.IsActive(ctx))
	assert.Nil(t, id.AgentRecord(ctx))
	assert.Zero(t, id.Balance(ctx).Sign())
}

func TestIsConnected(t *testing.T) {
	backend := ledgertest.NewBackend()
	id := newTestIdentity(t, backend, nil)

	assert.True(t, id.IsConnected(context.Background()))
	backend.SetErr(ledgertest.ErrUnreachable)
	assert.False(t, id.IsConnected(context.Background()))
}

func TestBalance(t *testing.T) {
	backend := ledgertest.NewBackend()
	backend.SetBalance(big.NewInt(5e18))
	id := newTestIdentity(t, backend, nil)

	assert.Equal(t, big.NewInt(5e18), id.Balance(context.Background()))
}
