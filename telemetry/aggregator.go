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

// Package telemetry aggregates inference counters and buffers the proofs
// awaiting report.
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"

	"github.com/probechain/probe-agent/proof"
)

// Snapshot is a detached copy of the aggregator counters.
type Snapshot struct {
	TotalTokensProcessed uint64
	TotalRequests        uint64
	TotalLatencyMs       float64
	StartTime            time.Time
	TakenAt              time.Time
}

// AvgLatencyMs returns the mean latency per request, or 0 without requests.
func (s Snapshot) AvgLatencyMs() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.TotalLatencyMs / float64(s.TotalRequests)
}

// UptimeSeconds returns the whole seconds between aggregator creation and the
// moment the snapshot was taken.
func (s Snapshot) UptimeSeconds() uint64 {
	d := s.TakenAt.Sub(s.StartTime)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Second)
}

// TokensPerSecond returns the throughput since start, or 0 if less than a
// second has passed.
func (s Snapshot) TokensPerSecond() float64 {
	up := s.UptimeSeconds()
	if up == 0 {
		return 0
	}
	return float64(s.TotalTokensProcessed) / float64(up)
}

// Map renders the snapshot for logging, rounding floats to 2 decimals.
func (s Snapshot) Map() map[string]interface{} {
	return map[string]interface{}{
		"total_tokens_processed": s.TotalTokensProcessed,
		"total_requests":         s.TotalRequests,
		"total_latency_ms":       Round2(s.TotalLatencyMs),
		"avg_latency_ms":         Round2(s.AvgLatencyMs()),
		"uptime_seconds":         s.UptimeSeconds(),
		"tokens_per_second":      Round2(s.TokensPerSecond()),
	}
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Aggregator is safe for concurrent use. Every operation, including the
// proof buffer, is guarded by the same lock so a drain can never observe a
// partially applied record.
type Aggregator struct {
	mu sync.Mutex

	tokens    uint64
	requests  uint64
	latencyMs float64
	start     time.Time

	proofs     []*proof.Record
	proofLimit int // 0 means unbounded

	tokenMeter    metrics.Meter
	requestMeter  metrics.Meter
	latencyTimer  metrics.Timer
	droppedProofs metrics.Counter
	now           func() time.Time
}

// NewAggregator creates an empty aggregator whose start time is now.
func NewAggregator() *Aggregator {
	return newAggregator(time.Now)
}

func newAggregator(now func() time.Time) *Aggregator {
	return &Aggregator{
		start:         now(),
		now:           now,
		tokenMeter:    metrics.GetOrRegisterMeter("agent/inference/tokens", nil),
		requestMeter:  metrics.GetOrRegisterMeter("agent/inference/requests", nil),
		latencyTimer:  metrics.GetOrRegisterTimer("agent/inference/latency", nil),
		droppedProofs: metrics.GetOrRegisterCounter("agent/proofs/dropped", nil),
	}
}

// SetProofLimit caps the proof buffer. Once full, the oldest proof is
// discarded for every new one. Zero removes the cap.
func (a *Aggregator) SetProofLimit(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n < 0 {
		n = 0
	}
	a.proofLimit = n
	a.trimProofs()
}

// Record adds one completed request.
func (a *Aggregator) Record(tokens uint64, latencyMs float64) {
	a.mu.Lock()
	a.tokens += tokens
	a.requests++
	a.latencyMs += latencyMs
	a.mu.Unlock()

	a.tokenMeter.Mark(int64(tokens))
	a.requestMeter.Mark(1)
	a.latencyTimer.Update(time.Duration(latencyMs * float64(time.Millisecond)))
}

// Snapshot returns the current totals without resetting them.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// DrainAndReset returns the current totals and zeroes the counters. The
// start time is kept.
func (a *Aggregator) DrainAndReset() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.snapshotLocked()
	a.tokens, a.requests, a.latencyMs = 0, 0, 0
	return snap
}

func (a *Aggregator) snapshotLocked() Snapshot {
	return Snapshot{
		TotalTokensProcessed: a.tokens,
		TotalRequests:        a.requests,
		TotalLatencyMs:       a.latencyMs,
		StartTime:            a.start,
		TakenAt:              a.now(),
	}
}

// PushProof appends a proof to the pending buffer.
func (a *Aggregator) PushProof(p *proof.Record) {
	if p == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.proofs = append(a.proofs, p)
	a.trimProofs()
}

// DrainProofs empties the pending buffer and returns its contents in
// insertion order.
func (a *Aggregator) DrainProofs() []*proof.Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	drained := a.proofs
	a.proofs = nil
	return drained
}

// RequeueProofs puts proofs back at the head of the buffer, ahead of any
// pushed since they were drained.
func (a *Aggregator) RequeueProofs(ps []*proof.Record) {
	if len(ps) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	merged := make([]*proof.Record, 0, len(ps)+len(a.proofs))
	merged = append(merged, ps...)
	a.proofs = append(merged, a.proofs...)
	a.trimProofs()
}

// PendingProofs returns the number of buffered proofs.
func (a *Aggregator) PendingProofs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.proofs)
}

func (a *Aggregator) trimProofs() {
	if a.proofLimit == 0 || len(a.proofs) <= a.proofLimit {
		return
	}
	excess := len(a.proofs) - a.proofLimit
	a.droppedProofs.Inc(int64(excess))

	// Release the dropped records and slide the window. append reallocates
	// once the tail capacity is used up, copying only the live entries.
	for i := 0; i < excess; i++ {
		a.proofs[i] = nil
	}
	a.proofs = a.proofs[excess:]
}
