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

// Package identity holds the agent's account key and everything that needs
// it: message and payload signing, transaction signing and the read-only
// registry queries answered on behalf of the agent address.
package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/probechain/probe-agent/internal/ledger"
)

var (
	// ErrKeyClosed is returned by signing operations after Close.
	ErrKeyClosed = errors.New("identity: private key has been wiped")

	errInvalidSigLength = errors.New("identity: signature must be 65 bytes")
	errInvalidSigV      = errors.New("identity: invalid signature recovery id")
)

// Identity is the agent's account on the ledger.
type Identity struct {
	mu  sync.RWMutex
	key *ecdsa.PrivateKey // nil after Close

	address    common.Address
	chainID    *big.Int
	signer     types.Signer
	backend    ledger.Backend
	transactor *ledger.Transactor
	registry   *common.Address
}

// HexToKey parses a hex encoded secp256k1 private key, with or without a 0x
// prefix. The returned error never contains key material.
func HexToKey(hexkey string) (*ecdsa.PrivateKey, error) {
	hexkey = strings.TrimSpace(hexkey)
	hexkey = strings.TrimPrefix(strings.TrimPrefix(hexkey, "0x"), "0X")
	if hexkey == "" {
		return nil, errors.New("private key is empty")
	}
	return crypto.HexToECDSA(hexkey)
}

// New creates the agent identity. registry may be nil while the agent
// registry contract is not yet deployed.
func New(backend ledger.Backend, key *ecdsa.PrivateKey, chainID *big.Int, registry *common.Address) *Identity {
	id := &Identity{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
		signer:  types.LatestSignerForChainID(chainID),
		backend: backend,
	}
	id.transactor = ledger.NewTransactor(backend, id.address, id.SignTx)
	if registry != nil {
		addr := *registry
		id.registry = &addr
	}
	log.Info("Agent identity loaded", "address", id.address, "chainid", id.chainID)
	return id
}

// Address returns the agent's account address.
func (id *Identity) Address() common.Address { return id.address }

// ChainID returns a copy of the configured chain id.
func (id *Identity) ChainID() *big.Int { return new(big.Int).Set(id.chainID) }

// Backend returns the ledger client the identity queries.
func (id *Identity) Backend() ledger.Backend { return id.backend }

// String implements fmt.Stringer. It never includes key material.
func (id *Identity) String() string {
	return fmt.Sprintf("Identity{address: %s, chain: %v}", id.address.Hex(), id.chainID)
}

// SignTx signs a transaction for the configured chain.
func (id *Identity) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()

	if id.key == nil {
		return nil, ErrKeyClosed
	}
	return types.SignTx(tx, id.signer, id.key)
}

// Transactor returns the transaction pipeline of the agent account. Every
// component sending transactions must share it so nonces are handed out in
// order.
func (id *Identity) Transactor() *ledger.Transactor { return id.transactor }

// SignMessage signs text the way personal_sign does: the message is wrapped
// in the EIP-191 prefix, hashed and signed. The returned 65-byte signature
// carries V in {27, 28}.
func (id *Identity) SignMessage(text []byte) ([]byte, error) {
	id.mu.RLock()
	defer id.mu.RUnlock()

	if id.key == nil {
		return nil, ErrKeyClosed
	}
	sig, err := crypto.Sign(accounts.TextHash(text), id.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignPayload canonicalizes v and signs the canonical bytes. Both are
// returned so the caller can transmit exactly what was signed.
func (id *Identity) SignPayload(v interface{}) (canonical []byte, sig []byte, err error) {
	canonical, err = CanonicalJSON(v)
	if err != nil {
		return nil, nil, err
	}
	sig, err = id.SignMessage(canonical)
	if err != nil {
		return nil, nil, err
	}
	return canonical, sig, nil
}

// RecoverSigner returns the address that produced a personal_sign signature
// over text. Both V encodings (0/1 and 27/28) are accepted.
func RecoverSigner(text, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errInvalidSigLength
	}
	cpy := common.CopyBytes(sig)
	if cpy[crypto.RecoveryIDOffset] >= 27 {
		cpy[crypto.RecoveryIDOffset] -= 27
	}
	if cpy[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, errInvalidSigV
	}
	pub, err := crypto.SigToPub(accounts.TextHash(text), cpy)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Close wipes the private key from memory. Signing fails afterwards.
func (id *Identity) Close() {
	id.mu.Lock()
	defer id.mu.Unlock()

	if id.key != nil {
		zeroKey(id.key)
		id.key = nil
	}
}

// zeroKey zeroes a private key in memory.
func zeroKey(k *ecdsa.PrivateKey) {
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
	k.D.SetInt64(0)
}
