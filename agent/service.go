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

// Package agent wires the identity, proof, telemetry, lifecycle, rewards and
// oracle components into one long running agent process.
package agent

import (
	"context"
	"errors"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/go-stack/stack"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/probechain/probe-agent/identity"
	"github.com/probechain/probe-agent/internal/ledger"
	"github.com/probechain/probe-agent/lifecycle"
	"github.com/probechain/probe-agent/oracle"
	"github.com/probechain/probe-agent/proof"
	"github.com/probechain/probe-agent/rewards"
	"github.com/probechain/probe-agent/telemetry"
)

const (
	// shutdownTimeout caps each network step of the shutdown sequence.
	shutdownTimeout = oracle.DefaultTimeout

	// forcedExitSignals is the number of extra interrupts after which the
	// process panics instead of waiting for a clean shutdown.
	forcedExitSignals = 10
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("agent already started")

// Service is the agent process. It owns the identity, lends it to every
// component that signs or queries the ledger and runs the heartbeat, reward
// and verification loops next to the oracle reporter.
type Service struct {
	config Config
	caps   [][]byte
	name   string

	id        *identity.Identity
	metrics   *telemetry.Aggregator
	generator *proof.Generator
	lifecycle *lifecycle.Lifecycle
	rewards   *rewards.Client
	reporter  *oracle.Reporter

	verifyCh      chan *proof.Record
	verified      *lru.Cache // proof hashes already submitted
	limiter       *rate.Limiter
	verifyDropped metrics.Counter

	lock     sync.Mutex
	started  bool
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{} // closed once shutdown completed

	log log.Logger
}

// New validates the configuration and assembles the agent on top of the
// given ledger backend. Reporter options are passed to the oracle reporter.
func New(config *Config, backend ledger.Backend, opts ...oracle.Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	key, err := identity.HexToKey(config.PrivateKey)
	if err != nil {
		return nil, err
	}
	caps, err := config.ParseCapabilities()
	if err != nil {
		return nil, err
	}
	s := &Service{
		config:        *config,
		caps:          caps,
		metrics:       telemetry.NewAggregator(),
		verifyDropped: metrics.GetOrRegisterCounter("agent/verify/dropped", nil),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	// The key lives in the identity only.
	s.config.PrivateKey = ""

	s.id = identity.New(backend, key, new(big.Int).SetUint64(config.ChainID), config.AgentRegistry)
	s.log = log.New("agent", s.id.Address())
	s.name = s.config.Name(s.id.Address())
	s.metrics.SetProofLimit(config.ProofBufferLimit)
	s.generator = proof.NewGenerator(config.ModelName, s.id.Address())
	s.lifecycle = lifecycle.New(s.id)
	s.rewards = rewards.New(s.id, config.RewardPool, config.ClaimThreshold)
	s.reporter = oracle.New(s.id, config.OracleURL, config.ReportInterval, opts...)

	if config.VerifyOnChain {
		if s.verified, err = lru.New(config.VerifyCacheSize); err != nil {
			return nil, err
		}
		limit := rate.Inf
		if config.VerifyRate > 0 {
			limit = rate.Limit(config.VerifyRate)
		}
		s.limiter = rate.NewLimiter(limit, config.VerifyWorkers)
		s.verifyCh = make(chan *proof.Record, config.VerifyQueue)
	}
	return s, nil
}

// Config returns a copy of the active configuration. The private key is
// never part of it.
func (s *Service) Config() Config { return s.config }

// Identity returns the agent identity.
func (s *Service) Identity() *identity.Identity { return s.id }

// Metrics returns the shared metrics aggregator.
func (s *Service) Metrics() *telemetry.Aggregator { return s.metrics }

// Generator returns the proof generator.
func (s *Service) Generator() *proof.Generator { return s.generator }

// Lifecycle returns the transaction manager of the agent.
func (s *Service) Lifecycle() *lifecycle.Lifecycle { return s.lifecycle }

// Rewards returns the reward pool client.
func (s *Service) Rewards() *rewards.Client { return s.rewards }

// Reporter returns the oracle reporter.
func (s *Service) Reporter() *oracle.Reporter { return s.reporter }

// Name returns the on-chain agent name.
func (s *Service) Name() string { return s.name }

// Start runs the agent until ctx is cancelled or RequestShutdown is called,
// then performs the shutdown sequence. It can only be called once.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	if s.started {
		s.lock.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.lock.Unlock()

	// Everything below stops on either the caller's context or a shutdown
	// request, including the ledger calls made before the loops run.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-runCtx.Done():
		}
	}()

	s.banner()
	s.reporter.Start(s.metrics)
	s.preflight(runCtx)
	s.register(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.loop(gctx, "heartbeat", s.config.HeartbeatInterval, s.heartbeat)
	})
	g.Go(func() error {
		return s.loop(gctx, "rewards", s.config.RewardInterval(), s.claimRewards)
	})
	if s.verifyCh != nil {
		for i := 0; i < s.config.VerifyWorkers; i++ {
			g.Go(func() error {
				return s.verifyWorker(gctx)
			})
		}
	}
	s.log.Info("Agent running", "name", s.name, "heartbeat", common.PrettyDuration(s.config.HeartbeatInterval),
		"rewards", common.PrettyDuration(s.config.RewardInterval()))

	<-runCtx.Done()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("Agent loops exited", "err", err)
	}
	s.shutdown()
	return nil
}

// RequestShutdown asks a running Start to return. It is safe to call from
// any goroutine, any number of times.
func (s *Service) RequestShutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Done is closed once the shutdown sequence has finished.
func (s *Service) Done() <-chan struct{} { return s.done }

// InstallSignalHandlers requests a shutdown on SIGINT or SIGTERM. Further
// signals during shutdown are counted and the process panics after
// forcedExitSignals of them.
func (s *Service) InstallSignalHandlers() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigc)
		select {
		case sig := <-sigc:
			s.log.Info("Got interrupt, shutting down...", "signal", sig)
			s.RequestShutdown()
		case <-s.done:
			return
		}
		for i := forcedExitSignals; i > 0; i-- {
			select {
			case <-sigc:
			case <-s.done:
				return
			}
			if i > 1 {
				s.log.Warn("Already shutting down, interrupt more to panic.", "times", i-1)
			}
		}
		panic("forced exit after repeated interrupts")
	}()
}

// RecordInference accounts a finished inference request. Metrics are always
// updated and the proof is buffered for the next oracle report. When on-chain
// verification is enabled the proof is also queued for submission; a full
// queue drops the submission with a warning. It never blocks on the network.
func (s *Service) RecordInference(input, output []byte, tokens uint64, latencyMs float64) *proof.Record {
	s.metrics.Record(tokens, latencyMs)

	rec := s.generator.Generate(input, output, tokens)
	s.metrics.PushProof(rec)

	if s.verifyCh != nil {
		select {
		case s.verifyCh <- rec:
		default:
			s.verifyDropped.Inc(1)
			s.log.Warn("Verification queue full, dropping on-chain submission", "proof", rec.ProofHash.TerminalString())
		}
	}
	return rec
}

func (s *Service) banner() {
	s.log.Info("Starting probe agent", "address", s.id.Address(), "name", s.name)
	s.log.Info("Ledger", "url", s.config.RPCURL, "chainid", s.config.ChainID)
	s.log.Info("Oracle", "url", s.reporter.Endpoint(), "interval", common.PrettyDuration(s.config.ReportInterval))
	s.log.Info("Model", "name", s.config.ModelName, "hash", s.generator.ModelHash().TerminalString())
	s.log.Info("On-chain verification", "enabled", s.config.VerifyOnChain)
}

func (s *Service) preflight(ctx context.Context) {
	if s.id.IsConnected(ctx) {
		balance := s.id.Balance(ctx)
		s.log.Info("Ledger connection OK", "balance", rewards.WeiToTokens(balance))
	} else {
		s.log.Warn("Cannot reach ledger, continuing in offline mode", "url", s.config.RPCURL)
	}
	if s.id.Registry() == nil {
		s.log.Info("Agent registry not deployed, using precompile-only mode")
		return
	}
	if s.id.VerifyRegistration(ctx) {
		s.log.Info("Agent registration verified", "registry", *s.id.Registry())
	} else {
		s.log.Warn("Agent not registered in registry, attempting precompile registration", "registry", *s.id.Registry())
	}
	if s.id.IsActive(ctx) {
		s.log.Info("Agent is active")
	} else {
		s.log.Warn("Agent is not in active status")
	}
}

func (s *Service) register(ctx context.Context) {
	s.log.Info("Registering agent on chain", "name", s.name, "capabilities", len(s.caps))
	ok, err := s.lifecycle.Register(ctx, s.name, s.generator.ModelHash(), s.caps)
	switch {
	case err != nil:
		s.log.Error("Agent registration rejected", "err", err)
	case ok:
		s.log.Info("Agent registration complete")
	default:
		s.log.Warn("Agent registration failed, will retry on next start")
	}
}

// loop calls fn every interval until ctx is cancelled and returns the
// context's error. The first call happens one interval after start.
func (s *Service) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.guard(ctx, name, fn)
		}
	}
}

// guard runs fn, recovering and logging any panic so the calling loop
// carries on with its next iteration.
func (s *Service) guard(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic", "loop", name, "err", r, "stack", stack.Trace().TrimRuntime())
		}
	}()
	fn(ctx)
}

func (s *Service) heartbeat(ctx context.Context) {
	if s.lifecycle.Heartbeat(ctx) {
		s.log.Debug("Heartbeat sent")
	}
}

func (s *Service) claimRewards(ctx context.Context) {
	if tx, ok := s.rewards.ClaimIfReady(ctx); ok {
		s.log.Info("Reward claimed", "tx", tx)
	}
}

func (s *Service) verifyWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-s.verifyCh:
			s.guard(ctx, "verify", func(ctx context.Context) { s.verify(ctx, rec) })
		}
	}
}

// verify submits one proof. Proofs already submitted successfully, or
// currently in flight, are skipped.
func (s *Service) verify(ctx context.Context, rec *proof.Record) {
	if seen, _ := s.verified.ContainsOrAdd(rec.ProofHash, struct{}{}); seen {
		s.log.Debug("Proof already submitted", "proof", rec.ProofHash.TerminalString())
		return
	}
	if err := s.limiter.Wait(ctx); err != nil {
		s.verified.Remove(rec.ProofHash)
		return
	}
	tx, ok := s.lifecycle.VerifyInference(ctx, rec)
	if !ok {
		s.verified.Remove(rec.ProofHash)
		return
	}
	s.log.Info("On-chain verification complete", "tx", tx, "proof", rec.ProofHash.TerminalString())
}

// shutdown stops the reporter, sends the final report, logs the final state
// and wipes the key.
func (s *Service) shutdown() {
	s.log.Info("Shutting down")
	defer close(s.done)

	s.reporter.Stop()
	if n := len(s.verifyCh); n > 0 {
		s.log.Warn("Discarding queued on-chain verifications", "count", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	s.reporter.SendFinal(ctx, s.metrics)
	cancel()

	s.log.Info("Final metrics", "metrics", s.metrics.Snapshot().Map())

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	summary := s.rewards.Summary(ctx)
	cancel()
	s.log.Info("Reward summary", "pending", summary.PendingTokens, "epoch", summary.CurrentEpoch)

	s.id.Close()
	s.log.Info("Shutdown complete")
}
