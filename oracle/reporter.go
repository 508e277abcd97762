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

// Package oracle periodically reports signed inference metrics and proofs
// to the off-chain oracle.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/go-stack/stack"
	"github.com/google/uuid"

	"github.com/probechain/probe-agent/proof"
	"github.com/probechain/probe-agent/telemetry"
)

const (
	// ReportPath is appended to the oracle base URL.
	ReportPath = "/api/v1/report"

	// MaxConsecutiveFailures is the failure streak after which every further
	// failure is logged at error level. Reporting continues regardless.
	MaxConsecutiveFailures = 10

	// DefaultTimeout caps a single report request.
	DefaultTimeout = 30 * time.Second

	maxResponseSize = 64 * 1024
	maxLoggedBody   = 200
)

// ErrRejected is returned when the oracle answered 2xx but refused the
// report.
var ErrRejected = errors.New("oracle rejected report")

// Signer produces the canonical payload bytes and their signature.
type Signer interface {
	Address() common.Address
	SignPayload(v interface{}) (canonical []byte, sig []byte, err error)
}

// Source is where reports draw their numbers and proofs from.
type Source interface {
	Snapshot() telemetry.Snapshot
	DrainProofs() []*proof.Record
	RequeueProofs([]*proof.Record)
}

// State is the reporter's run state.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Payload is the signed body of a report.
type Payload struct {
	Agent           string          `json:"agent"`
	ProcessedTokens uint64          `json:"processed_tokens"`
	AvgLatencyMs    float64         `json:"avg_latency_ms"`
	UptimeSeconds   uint64          `json:"uptime_seconds"`
	TasksCompleted  uint64          `json:"tasks_completed"`
	Timestamp       int64           `json:"timestamp"`
	Proofs          []*proof.Record `json:"proofs,omitempty"`
}

// envelope is what goes over the wire. Payload carries the exact canonical
// bytes that were signed.
type envelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHTTPClient replaces the HTTP client used for reports.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reporter) { r.client = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reporter) { r.timeout = d }
}

// Reporter posts a signed report every interval until stopped.
type Reporter struct {
	signer   Signer
	baseURL  string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      log.Logger
	now      func() time.Time

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	failures atomic.Int64

	sentMeter   metrics.Meter
	failedMeter metrics.Meter
}

// New creates an idle reporter. A trailing slash on baseURL is ignored.
func New(signer Signer, baseURL string, interval time.Duration, opts ...Option) *Reporter {
	r := &Reporter{
		signer:      signer,
		baseURL:     strings.TrimRight(baseURL, "/"),
		interval:    interval,
		timeout:     DefaultTimeout,
		client:      http.DefaultClient,
		now:         time.Now,
		sentMeter:   metrics.GetOrRegisterMeter("agent/oracle/reports", nil),
		failedMeter: metrics.GetOrRegisterMeter("agent/oracle/failures", nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = log.New("oracle", r.baseURL)
	r.log.Info("Oracle reporter configured", "interval", common.PrettyDuration(interval))
	return r
}

// Endpoint returns the full report URL.
func (r *Reporter) Endpoint() string { return r.baseURL + ReportPath }

// State returns the current run state.
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ConsecutiveFailures returns the length of the current failure streak.
func (r *Reporter) ConsecutiveFailures() int {
	return int(r.failures.Load())
}

// Start launches the report loop. It does nothing but warn if the loop is
// already running.
func (r *Reporter) Start(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		r.log.Warn("Oracle reporter already running", "state", r.state)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = Running

	go r.loop(ctx, src, r.done)
	r.log.Info("Oracle reporter started")
}

// Stop cancels a pending wait or in-flight report and blocks until the loop
// has exited. Concurrent callers all wait for the same exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	switch r.state {
	case Idle:
		r.mu.Unlock()
		return
	case Stopping:
		done := r.done
		r.mu.Unlock()
		<-done
		return
	}
	r.state = Stopping
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done

	r.mu.Lock()
	r.state = Idle
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	r.log.Info("Oracle reporter stopped")
}

func (r *Reporter) loop(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		r.tick(ctx, src)
		timer.Reset(r.interval)
	}
}

// tick runs one report cycle and updates the failure streak. A panic is
// contained and counted as a failure.
func (r *Reporter) tick(ctx context.Context, src Source) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Report cycle panicked", "err", p, "stack", stack.Trace().TrimRuntime())
			r.recordFailure()
			ok = false
		}
	}()
	snap := src.Snapshot()
	proofs := src.DrainProofs()

	err := r.send(ctx, snap, proofs)
	if err != nil {
		if !errors.Is(err, ErrRejected) {
			src.RequeueProofs(proofs)
		}
		r.log.Warn("Oracle report failed", "proofs", len(proofs), "err", err)
		r.recordFailure()
		return false
	}
	if n := r.failures.Swap(0); n > 0 {
		r.log.Info("Oracle reachable again", "failures", n)
	}
	return true
}

func (r *Reporter) recordFailure() {
	r.failedMeter.Mark(1)
	if n := r.failures.Add(1); n >= MaxConsecutiveFailures {
		r.log.Error("Oracle unreachable, still retrying", "failures", n)
	}
}

// SendFinal sends one report outside the loop, meant for shutdown after
// Stop. It does not touch the failure streak.
func (r *Reporter) SendFinal(ctx context.Context, src Source) error {
	snap := src.Snapshot()
	proofs := src.DrainProofs()
	if err := r.send(ctx, snap, proofs); err != nil {
		r.log.Warn("Final oracle report failed", "proofs", len(proofs), "err", err)
		return err
	}
	r.log.Info("Final report sent", "tokens", snap.TotalTokensProcessed, "proofs", len(proofs))
	return nil
}

// BuildPayload assembles the report body from a snapshot.
func (r *Reporter) BuildPayload(snap telemetry.Snapshot, proofs []*proof.Record) *Payload {
	return &Payload{
		Agent:           r.signer.Address().Hex(),
		ProcessedTokens: snap.TotalTokensProcessed,
		AvgLatencyMs:    telemetry.Round2(snap.AvgLatencyMs()),
		UptimeSeconds:   snap.UptimeSeconds(),
		TasksCompleted:  snap.TotalRequests,
		Timestamp:       r.now().Unix(),
		Proofs:          proofs,
	}
}

func (r *Reporter) send(ctx context.Context, snap telemetry.Snapshot, proofs []*proof.Record) error {
	payload := r.BuildPayload(snap, proofs)
	canonical, sig, err := r.signer.SignPayload(payload)
	if err != nil {
		return fmt.Errorf("failed to sign report: %w", err)
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelope{Payload: canonical, Signature: hexutil.Encode(sig)}); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint(), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read oracle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("oracle returned HTTP %d: %s", resp.StatusCode, clip(data))
	}
	if err := checkResponse(data); err != nil {
		return err
	}
	r.sentMeter.Mark(1)
	r.log.Debug("Report sent", "id", reqID, "tokens", payload.ProcessedTokens, "uptime", payload.UptimeSeconds,
		"proofs", len(proofs), "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

// checkResponse inspects a 2xx body. Non-JSON bodies are accepted; JSON must
// be an object without "status": "error".
func checkResponse(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: non-object response %s", ErrRejected, clip(data))
	}
	if status, _ := obj["status"].(string); status == "error" {
		msg, _ := obj["message"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("%w: %s", ErrRejected, clip([]byte(msg)))
	}
	return nil
}

func clip(b []byte) string {
	if len(b) > maxLoggedBody {
		b = b[:maxLoggedBody]
	}
	return string(b)
}
