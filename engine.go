package authcore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/metrics"
	"github.com/veridine/authcore/mfa"
	"github.com/veridine/authcore/refresh"
	"github.com/veridine/authcore/revoke"
	"github.com/veridine/authcore/session"
	"github.com/veridine/authcore/token"
)

// Engine is the facade over the token, refresh, revocation, session, and
// MFA engines. Construct it with a Builder; it is immutable and safe for
// concurrent use.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	pump    *bus.Pump
	metrics *metrics.Metrics

	tokens      *token.Engine
	revocations *revoke.Engine
	refresh     *refresh.Engine
	sessions    *session.Engine
	mfa         *mfa.Engine

	janitorMu sync.Mutex
	janitor   *janitor
	closeOnce sync.Once
}

// Tokens exposes the token engine for callers that need raw issue or
// validate access outside the facade flows.
func (e *Engine) Tokens() *token.Engine { return e.tokens }

// Revocations exposes the revocation engine.
func (e *Engine) Revocations() *revoke.Engine { return e.revocations }

// Sessions exposes the session engine.
func (e *Engine) Sessions() *session.Engine { return e.sessions }

// MFA exposes the MFA engine.
func (e *Engine) MFA() *mfa.Engine { return e.mfa }

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	return e.metrics.TakeSnapshot()
}

// EventsDropped reports how many bus events the pump shed under
// backpressure.
func (e *Engine) EventsDropped() uint64 {
	return e.pump.Dropped()
}

// Close stops the janitor if running and drains the event pump. Safe to
// call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.janitorMu.Lock()
		if e.janitor != nil {
			e.janitor.stop()
			e.janitor = nil
		}
		e.janitorMu.Unlock()
		e.pump.Close()
	})
}

// sessionTokenRevoker adapts the revocation engine to the session
// engine's termination hook.
type sessionTokenRevoker struct {
	revocations *revoke.Engine
	ttl         time.Duration
}

func (r *sessionTokenRevoker) RevokeSessionTokens(ctx context.Context, sessionID, reason string) error {
	return r.revocations.RevokeSessionTokens(ctx, sessionID, r.ttl, reason)
}
