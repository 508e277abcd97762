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

// Package ledgertest provides an in-memory ledger.Backend for tests.
package ledgertest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnreachable is a canned transport error.
var ErrUnreachable = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

// Backend records every call made against it and answers from canned data.
// All fields may be adjusted between calls; access is serialized.
type Backend struct {
	mu sync.Mutex

	nonces   []uint64
	nonceIdx int
	gasPrice *big.Int
	balance  *big.Int
	head     uint64

	err           error         // returned by every RPC when set
	stall         chan struct{} // every RPC blocks on it when set
	sendErr       error
	receiptStatus uint64
	withhold      bool // never produce receipts

	responses map[[4]byte][]byte
	callErr   error

	sent     []*types.Transaction
	rpcCalls int
}

// NewBackend creates a backend that mines every transaction successfully.
func NewBackend() *Backend {
	return &Backend{
		gasPrice:      big.NewInt(1_000_000_000),
		balance:       new(big.Int),
		head:          1,
		receiptStatus: types.ReceiptStatusSuccessful,
		responses:     make(map[[4]byte][]byte),
	}
}

// SetNonces makes PendingNonceAt return the given sequence. Once exhausted,
// the number of submitted transactions is returned instead.
func (b *Backend) SetNonces(nonces ...uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces, b.nonceIdx = nonces, 0
}

// SetErr makes every RPC fail with err, or succeed again if err is nil.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Stall makes every subsequent RPC block until Resume is called or the
// call's context ends, in which case the context error is returned.
func (b *Backend) Stall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stall == nil {
		b.stall = make(chan struct{})
	}
}

// Resume releases stalled RPCs.
func (b *Backend) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stall != nil {
		close(b.stall)
		b.stall = nil
	}
}

// SetSendErr makes SendTransaction fail with err.
func (b *Backend) SetSendErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// SetCallErr makes CallContract fail with err.
func (b *Backend) SetCallErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callErr = err
}

// SetReceiptStatus sets the status of every subsequently produced receipt.
func (b *Backend) SetReceiptStatus(status uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptStatus = status
}

// WithholdReceipts stops the backend from ever mining transactions.
func (b *Backend) WithholdReceipts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.withhold = true
}

// SetBalance sets the balance reported for any account.
func (b *Backend) SetBalance(balance *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = new(big.Int).Set(balance)
}

// Handle registers the return values of a contract method. The values are
// ABI encoded according to the method's outputs.
func (b *Backend) Handle(contract *abi.ABI, method string, values ...interface{}) error {
	m, ok := contract.Methods[method]
	if !ok {
		return errors.New("unknown method " + method)
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		return err
	}
	b.HandleRaw(contract, method, out)
	return nil
}

// HandleRaw registers raw return data for a contract method.
func (b *Backend) HandleRaw(contract *abi.ABI, method string, data []byte) {
	var sel [4]byte
	copy(sel[:], contract.Methods[method].ID)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[sel] = data
}

// Sent returns the transactions submitted so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// RPCCalls returns the total number of RPC calls served.
func (b *Backend) RPCCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rpcCalls
}

// wait blocks while the backend is stalled.
func (b *Backend) wait(ctx context.Context) error {
	b.mu.Lock()
	stall := b.stall
	b.mu.Unlock()

	if stall == nil {
		return nil
	}
	select {
	case <-stall:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enter accounts for an RPC call. The caller must hold b.mu.
func (b *Backend) enter() error {
	b.rpcCalls++
	return b.err
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return 0, err
	}
	return b.head, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return 0, err
	}
	if b.nonceIdx < len(b.nonces) {
		n := b.nonces[b.nonceIdx]
		b.nonceIdx++
		return n, nil
	}
	return uint64(len(b.sent)), nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(b.gasPrice), nil
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(b.balance), nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return nil, err
	}
	if b.callErr != nil {
		return nil, b.callErr
	}
	if len(call.Data) < 4 {
		return nil, nil
	}
	var sel [4]byte
	copy(sel[:], call.Data[:4])
	return common.CopyBytes(b.responses[sel]), nil
}

func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return err
	}
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(); err != nil {
		return nil, err
	}
	if b.withhold {
		return nil, ethereum.NotFound
	}
	for _, tx := range b.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{
				Status:      b.receiptStatus,
				TxHash:      txHash,
				GasUsed:     21000,
				BlockNumber: new(big.Int).SetUint64(b.head),
			}, nil
		}
	}
	return nil, ethereum.NotFound
}
