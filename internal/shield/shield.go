// Package shield wires the collector, attestation client, evaluator,
// gate, ledger, and syncer into evaluation cycles.
package shield

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"shieldd/internal/attest"
	"shieldd/internal/config"
	"shieldd/internal/evaluate"
	"shieldd/internal/gate"
	"shieldd/internal/ledger"
	"shieldd/internal/logging"
	"shieldd/internal/probe"
	syncer "shieldd/internal/sync"
	"shieldd/internal/watch"
)

// Ledger log categories written by the orchestrator.
const (
	CategoryInfo    = "Info"
	CategoryAnomaly = "Anomaly"
	CategoryError   = "Error"
)

// ErrNotAuthenticated guards history access behind a fresh authentication.
var ErrNotAuthenticated = errors.New("shield: authentication required")

// syncTimeout bounds the background delivery of one report.
const syncTimeout = 30 * time.Second

// Shield owns one evaluation pipeline and the authentication gate in
// front of its history.
type Shield struct {
	cfg       *config.Config
	collector *probe.Collector
	client    *attest.Client
	led       *ledger.Ledger
	syn       *syncer.Syncer
	gate      *gate.Gate
	verifier  gate.Verifier
	log       *logging.Logger

	lockoutMu     sync.Mutex
	lockoutCancel context.CancelFunc
}

// New assembles a shield from already constructed components.
func New(cfg *config.Config, collector *probe.Collector, client *attest.Client,
	led *ledger.Ledger, syn *syncer.Syncer, g *gate.Gate, verifier gate.Verifier,
	log *logging.Logger) *Shield {
	return &Shield{
		cfg:       cfg,
		collector: collector,
		client:    client,
		led:       led,
		syn:       syn,
		gate:      g,
		verifier:  verifier,
		log:       log.WithComponent("shield"),
	}
}

// Cycle runs one full evaluation: evidence collection and the token
// request fan out concurrently, the evaluator composes the report once
// both are in, the ledger persists it, and anomalous verdicts are
// handed to the syncer in the background. A cancelled context abandons
// the cycle before anything is persisted.
func (s *Shield) Cycle(ctx context.Context) (evaluate.Report, error) {
	evCh := make(chan *probe.Evidence, 1)
	tokCh := make(chan attest.TokenResult, 1)

	go func() { evCh <- s.collector.Collect(ctx) }()
	go func() { tokCh <- s.client.RequestToken(ctx) }()

	var ev *probe.Evidence
	var tok attest.TokenResult
	for i := 0; i < 2; i++ {
		select {
		case ev = <-evCh:
		case tok = <-tokCh:
		case <-ctx.Done():
			return evaluate.Report{}, ctx.Err()
		}
	}

	report := evaluate.Evaluate(ev, tok, time.Now(), s.cfg.Risk)

	if _, err := s.led.InsertReport(report); err != nil {
		// No silent data loss: persistence failure is surfaced,
		// the verdict still reaches the caller.
		s.log.Error("report not persisted", "error", err)
		return report, err
	}

	if report.Verdict == evaluate.Genuine {
		s.appendLog(CategoryInfo, "integrity check passed")
	} else {
		s.appendLog(CategoryAnomaly, strings.Join(report.Details, "; "))
		go func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), syncTimeout)
			defer cancel()
			s.syn.Sync(syncCtx, report)
		}()
	}

	s.log.Info("evaluation cycle complete",
		"verdict", report.Verdict.String(),
		"risk_score", report.RiskScore,
		"findings", len(report.Details))

	return report, nil
}

func (s *Shield) appendLog(category, message string) {
	if _, err := s.led.InsertLog(category, message, time.Now()); err != nil {
		s.log.Warn("log entry not persisted", "category", category, "error", err)
	}
}

// Authenticate runs the credential backend and feeds the outcome into
// the gate. Entering Lockout starts the countdown for that episode.
func (s *Shield) Authenticate(ctx context.Context, credential string) gate.State {
	outcome := s.verifier.Verify(ctx, credential)
	state := s.gate.Submit(outcome, time.Now())

	if outcome == gate.OutcomeFailure {
		s.appendLog(CategoryError, "authentication failed")
	}
	if state == gate.Lockout {
		s.startLockoutCountdown()
	}
	return state
}

// startLockoutCountdown polls the gate at 1s until the episode ends.
// A previous episode's countdown is cancelled first.
func (s *Shield) startLockoutCountdown() {
	s.lockoutMu.Lock()
	if s.lockoutCancel != nil {
		s.lockoutCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.lockoutCancel = cancel
	s.lockoutMu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if s.gate.Poll(now) != gate.Lockout {
					return
				}
			}
		}
	}()
}

// Gate exposes the authentication state machine.
func (s *Shield) Gate() *gate.Gate {
	return s.gate
}

// History returns ledger entries, gated behind authentication freshness.
func (s *Shield) History(f ledger.Filter, now time.Time) ([]ledger.HistoryEntry, error) {
	if !s.gate.AuthValid(now) {
		return nil, ErrNotAuthenticated
	}
	return s.led.QueryHistory(f)
}

// ClearLogs removes log entries, gated behind authentication freshness.
func (s *Shield) ClearLogs(now time.Time) error {
	if !s.gate.AuthValid(now) {
		return ErrNotAuthenticated
	}
	return s.led.ClearLogs()
}

// Export renders history entries, plain or encrypted, gated behind
// authentication freshness.
func (s *Shield) Export(f ledger.Filter, encrypted bool, now time.Time) ([]byte, error) {
	if !s.gate.AuthValid(now) {
		return nil, ErrNotAuthenticated
	}

	entries, err := s.led.QueryHistory(f)
	if err != nil {
		return nil, err
	}
	if encrypted {
		blob, err := s.led.ExportEncrypted(entries)
		if err != nil {
			return nil, err
		}
		return []byte(blob), nil
	}
	return ledger.ExportPlain(entries)
}

// Run drives the daemon loop: periodic cycles, watcher triggers, and
// graceful shutdown. The watcher may be nil.
func (s *Shield) Run(ctx context.Context, w *watch.Watcher) error {
	var tick <-chan time.Time
	if s.cfg.Check.IntervalSec > 0 {
		ticker := time.NewTicker(time.Duration(s.cfg.Check.IntervalSec) * time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}

	var triggers <-chan struct{}
	if w != nil {
		triggers = w.Triggers()
		go w.Run(ctx)
	}

	// One cycle up front so the daemon always has a current verdict.
	if _, err := s.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("initial cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.lockoutMu.Lock()
			if s.lockoutCancel != nil {
				s.lockoutCancel()
			}
			s.lockoutMu.Unlock()
			return ctx.Err()
		case <-tick:
		case <-triggers:
			s.log.Info("probe path changed, re-evaluating")
		}

		if _, err := s.Cycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("evaluation cycle failed", "error", err)
		}
	}
}
