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
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrTxFailed is returned by Execute when the transaction was mined but
// reverted.
var ErrTxFailed = errors.New("transaction reverted")

// SignerFn signs a fully populated transaction on behalf of the sender.
type SignerFn func(tx *types.Transaction) (*types.Transaction, error)

// Transactor builds, signs and submits zero-value transactions for a single
// sender account. Submissions are serialized so that concurrent callers never
// reuse a pending nonce.
type Transactor struct {
	backend Backend
	from    common.Address
	sign    SignerFn

	mu sync.Mutex // held from nonce retrieval until the node accepted the tx
}

// NewTransactor creates a transactor sending from the given account.
func NewTransactor(backend Backend, from common.Address, sign SignerFn) *Transactor {
	return &Transactor{backend: backend, from: from, sign: sign}
}

// From returns the sender address.
func (t *Transactor) From() common.Address { return t.from }

// Transact fetches a fresh nonce and the current gas price, then signs and
// submits a legacy transaction to the given destination. It returns as soon
// as the node accepted the transaction. The whole round trip is capped by
// RequestTimeout.
func (t *Transactor) Transact(ctx context.Context, to common.Address, gas uint64, data []byte) (*types.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := RequestContext(ctx)
	defer cancel()

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve account nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     common.CopyBytes(data),
	})
	signed, err := t.sign(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

// Execute submits a transaction and blocks until its receipt is available or
// ReceiptTimeout elapses. A mined but reverted transaction yields ErrTxFailed
// together with its receipt.
func (t *Transactor) Execute(ctx context.Context, to common.Address, gas uint64, data []byte) (*types.Transaction, *types.Receipt, error) {
	tx, err := t.Transact(ctx, to, gas, data)
	if err != nil {
		return nil, nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, t.backend, tx)
	if err != nil {
		return tx, nil, fmt.Errorf("failed waiting for receipt of %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return tx, receipt, ErrTxFailed
	}
	return tx, receipt, nil
}
