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

// Package lifecycle submits the agent's fixed-interface transactions to the
// register, heartbeat and verify-inference precompiles.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/internal/ledger"
	"github.com/probechain/probe-agent/proof"
)

// NameLength is the fixed width of the on-chain agent name.
const NameLength = 32

// ErrInvalidCapability is returned by Register when a capability is not
// exactly 32 bytes long.
var ErrInvalidCapability = errors.New("capability must be exactly 32 bytes")

// Lifecycle sends registration, heartbeat and verification transactions on
// behalf of one agent.
type Lifecycle struct {
	id         *identity.Identity
	transactor *ledger.Transactor
	log        log.Logger

	regLock    sync.Mutex
	attempted  bool
	registered bool

	heartbeatOK   metrics.Counter
	heartbeatFail metrics.Counter
	verifyOK      metrics.Counter
	verifyFail    metrics.Counter
}

// New creates a lifecycle manager sending through the identity's
// transactor.
func New(id *identity.Identity) *Lifecycle {
	l := &Lifecycle{
		id:            id,
		transactor:    id.Transactor(),
		log:           log.New("agent", id.Address()),
		heartbeatOK:   metrics.GetOrRegisterCounter("agent/heartbeat/success", nil),
		heartbeatFail: metrics.GetOrRegisterCounter("agent/heartbeat/failure", nil),
		verifyOK:      metrics.GetOrRegisterCounter("agent/verify/success", nil),
		verifyFail:    metrics.GetOrRegisterCounter("agent/verify/failure", nil),
	}
	return l
}

// EncodeRegistration builds the register precompile input: the name
// truncated or zero padded to 32 bytes, the model hash, the capability count
// as a 32 byte big-endian integer and every capability.
func EncodeRegistration(name string, modelHash common.Hash, caps [][]byte) ([]byte, error) {
	for i, c := range caps {
		if len(c) != 32 {
			return nil, fmt.Errorf("%w: capability %d has %d bytes", ErrInvalidCapability, i, len(c))
		}
	}
	count := uint256.NewInt(uint64(len(caps))).Bytes32()

	data := make([]byte, 0, 3*common.HashLength+len(caps)*common.HashLength)
	data = append(data, common.RightPadBytes(truncate([]byte(name), NameLength), NameLength)...)
	data = append(data, modelHash[:]...)
	data = append(data, count[:]...)
	for _, c := range caps {
		data = append(data, c...)
	}
	return data, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// Register submits the registration transaction. Malformed capabilities are
// rejected before anything is sent. Only the first call that gets past
// validation reaches the ledger; its outcome is cached and returned by every
// later call.
func (l *Lifecycle) Register(ctx context.Context, name string, modelHash common.Hash, caps [][]byte) (bool, error) {
	data, err := EncodeRegistration(name, modelHash, caps)
	if err != nil {
		return false, err
	}
	l.regLock.Lock()
	defer l.regLock.Unlock()

	if l.attempted {
		l.log.Warn("Agent registration already attempted", "registered", l.registered)
		return l.registered, nil
	}
	l.attempted = true

	tx, receipt, err := l.transactor.Execute(ctx, ledger.RegisterAddress, ledger.RegisterGas, data)
	switch {
	case errors.Is(err, ledger.ErrTxFailed):
		l.log.Error("Agent registration reverted", "tx", tx.Hash(), "block", receipt.BlockNumber)
		return false, nil
	case err != nil:
		l.log.Error("Failed to register agent", "err", err)
		return false, nil
	}
	l.registered = true
	l.log.Info("Agent registered", "name", string(truncate([]byte(name), NameLength)), "model", modelHash, "tx", tx.Hash(), "block", receipt.BlockNumber)
	return true, nil
}

// Registered reports whether the registration transaction succeeded.
func (l *Lifecycle) Registered() bool {
	l.regLock.Lock()
	defer l.regLock.Unlock()
	return l.registered
}

// Heartbeat sends an empty transaction to the heartbeat precompile. The
// ledger identifies the agent by the sender.
func (l *Lifecycle) Heartbeat(ctx context.Context) bool {
	tx, _, err := l.transactor.Execute(ctx, ledger.HeartbeatAddress, ledger.HeartbeatGas, nil)
	if err != nil {
		l.heartbeatFail.Inc(1)
		l.log.Warn("Heartbeat failed", "err", err)
		return false
	}
	l.heartbeatOK.Inc(1)
	l.log.Debug("Heartbeat mined", "tx", tx.Hash(), "nonce", tx.Nonce())
	return true
}

// VerifyInference submits a proof to the verification precompile. The
// returned hash is zero if the transaction was never accepted.
func (l *Lifecycle) VerifyInference(ctx context.Context, rec *proof.Record) (common.Hash, bool) {
	tx, _, err := l.transactor.Execute(ctx, ledger.VerifyInferenceAddress, ledger.VerifyInferenceGas, rec.Encode())
	var hash common.Hash
	if tx != nil {
		hash = tx.Hash()
	}
	if err != nil {
		l.verifyFail.Inc(1)
		l.log.Warn("Inference verification failed", "proof", rec.ProofHash, "tx", hash, "err", err)
		return hash, false
	}
	l.verifyOK.Inc(1)
	l.log.Debug("Inference verified on chain", "proof", rec.ProofHash, "tx", hash)
	return hash, true
}
