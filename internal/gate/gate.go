// Package gate implements the authentication state machine that guards
// the secure ledger. Every transition is caller-driven; the gate never
// retries authentication on its own.
package gate

import (
	"sync"
	"time"

	"shieldd/internal/config"
	"shieldd/internal/logging"
)

// State is the gate's position in the authentication flow.
type State int

const (
	// AwaitingAuth accepts a credential submission.
	AwaitingAuth State = iota

	// Retry follows a recoverable failure below the lockout threshold.
	Retry

	// Authenticated is terminal for the session; full capability is open.
	Authenticated

	// Lockout refuses submissions until the cooldown expires.
	Lockout

	// LimitedMode allows live checks only, no ledger history.
	LimitedMode
)

func (s State) String() string {
	switch s {
	case AwaitingAuth:
		return "awaiting_auth"
	case Retry:
		return "retry"
	case Authenticated:
		return "authenticated"
	case Lockout:
		return "lockout"
	case LimitedMode:
		return "limited_mode"
	default:
		return "unknown"
	}
}

// Outcome is the result of one credential verification attempt.
type Outcome int

const (
	// OutcomeSuccess is a verified credential.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure is a wrong credential; it consumes retry budget.
	OutcomeFailure

	// OutcomeUnavailable means no enrolled credential or no usable
	// hardware; it routes to LimitedMode without consuming budget.
	OutcomeUnavailable
)

// Gate is the authentication state machine.
type Gate struct {
	mu  sync.Mutex
	cfg config.AuthConfig
	log *logging.Logger

	state           State
	failedAttempts  int
	lockoutUntil    time.Time
	authenticatedAt time.Time
}

// New returns a gate in AwaitingAuth.
func New(cfg config.AuthConfig, log *logging.Logger) *Gate {
	return &Gate{
		cfg:   cfg,
		log:   log.WithComponent("gate"),
		state: AwaitingAuth,
	}
}

// State returns the current state without side effects.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// FailedAttempts returns the current failure counter.
func (g *Gate) FailedAttempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failedAttempts
}

// LockoutUntil returns the cooldown deadline; zero when not locked out.
func (g *Gate) LockoutUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockoutUntil
}

// Submit feeds one verification outcome into the machine. It is only
// meaningful in AwaitingAuth or Retry; in any other state it leaves the
// machine untouched and returns the current state.
func (g *Gate) Submit(outcome Outcome, now time.Time) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != AwaitingAuth && g.state != Retry {
		g.log.Warn("submission ignored", "state", g.state.String())
		return g.state
	}

	switch outcome {
	case OutcomeSuccess:
		g.state = Authenticated
		g.failedAttempts = 0
		g.authenticatedAt = now
		g.log.Info("authentication succeeded")

	case OutcomeUnavailable:
		g.state = LimitedMode
		g.log.Warn("credential backend unavailable, entering limited mode")

	case OutcomeFailure:
		g.failedAttempts++
		if g.failedAttempts >= g.cfg.MaxAttempts {
			tier := g.cfg.LockoutDuration(g.failedAttempts)
			until := now.Add(tier.Duration())
			// The deadline never moves backwards across episodes.
			if until.After(g.lockoutUntil) {
				g.lockoutUntil = until
			}
			g.state = Lockout
			g.log.Warn("lockout engaged",
				"failed_attempts", g.failedAttempts,
				"until", g.lockoutUntil)
		} else {
			g.state = Retry
			g.log.Info("authentication failed",
				"failed_attempts", g.failedAttempts,
				"remaining", g.cfg.MaxAttempts-g.failedAttempts)
		}
	}

	return g.state
}

// Cancel abandons the retry flow into LimitedMode.
func (g *Gate) Cancel() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Retry || g.state == AwaitingAuth {
		g.state = LimitedMode
		g.log.Info("authentication cancelled, entering limited mode")
	}
	return g.state
}

// ReturnToAuth moves from LimitedMode back to AwaitingAuth with a
// fresh attempt counter.
func (g *Gate) ReturnToAuth() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == LimitedMode {
		g.state = AwaitingAuth
		g.failedAttempts = 0
	}
	return g.state
}

// Poll applies clock-based transitions. An expired lockout returns the
// gate to AwaitingAuth and resets the counter. Safe to call at any
// frequency; repeated expiry checks are idempotent.
func (g *Gate) Poll(now time.Time) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Lockout && !now.Before(g.lockoutUntil) {
		g.state = AwaitingAuth
		g.failedAttempts = 0
		g.log.Info("lockout expired")
	}
	return g.state
}

// AuthValid reports whether the session authenticated within the
// configured freshness window.
func (g *Gate) AuthValid(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Authenticated {
		return false
	}
	validity := time.Duration(g.cfg.ValiditySec) * time.Second
	if validity <= 0 {
		validity = 30 * time.Second
	}
	return now.Sub(g.authenticatedAt) <= validity
}
