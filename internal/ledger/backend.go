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

// Package ledger contains the client side plumbing shared by every component
// that talks to the chain: the RPC backend contract, the reserved precompile
// addresses, the registry and reward pool ABIs and the transaction pipeline.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Reserved precompile addresses. These are chain conventions and are not
// configurable.
var (
	VerifyInferenceAddress = common.HexToAddress("0x0000000000000000000000000000000000000020")
	RegisterAddress        = common.HexToAddress("0x0000000000000000000000000000000000000021")
	HeartbeatAddress       = common.HexToAddress("0x0000000000000000000000000000000000000022")
)

// Gas limits per operation kind.
const (
	RegisterGas        = uint64(300_000)
	HeartbeatGas       = uint64(100_000)
	VerifyInferenceGas = uint64(200_000)
	ClaimGas           = uint64(200_000)
)

const (
	// ReceiptTimeout bounds how long a transaction is waited on before it is
	// considered failed.
	ReceiptTimeout = 30 * time.Second

	// RequestTimeout bounds a single call to the ledger node.
	RequestTimeout = 10 * time.Second
)

// requestTimeout is RequestTimeout, shortened by tests.
var requestTimeout = RequestTimeout

// RequestContext derives a context for one ledger request. It is cancelled
// with the parent or after RequestTimeout, whichever comes first.
func RequestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, requestTimeout)
}

// Backend is the subset of the JSON-RPC client used by the agent. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to the ledger RPC endpoint. The connection is established
// lazily for HTTP endpoints, so an unreachable node is reported by the first
// call rather than here.
func Dial(ctx context.Context, rawurl string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, rawurl)
}
