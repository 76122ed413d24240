// Package revoke records and checks revocation facts at token, user,
// session, and tenant granularity. State lives in the shared keyed store
// because engine instances are stateless; every write additionally emits a
// typed event so peer instances learn about the revocation without polling.
package revoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/metrics"
)

// Revocation scopes, reported by IsRevoked and carried on events.
const (
	ScopeToken   = "token"
	ScopeUser    = "user"
	ScopeSession = "session"
	ScopeTenant  = "tenant"
)

// ErrBackend wraps store connectivity failures. Callers must fail closed.
var ErrBackend = errors.New("revocation backend unavailable")

const minEntryTTL = time.Second

// Cutoffs only move forward. Clearing is DEL, never a rewind.
const advanceCutoffScript = `
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local new = tonumber(ARGV[1])
if new > cur then
  redis.call("SET", KEYS[1], new)
  return new
end
return cur
`

var advanceCutoffLua = redis.NewScript(advanceCutoffScript)

// Config controls key layout.
type Config struct {
	KeyPrefix string
}

// Engine is the revocation engine. Immutable after construction.
type Engine struct {
	redis   redis.UniversalClient
	prefix  string
	pump    *bus.Pump
	metrics *metrics.Metrics
}

func NewEngine(cfg Config, client redis.UniversalClient, pump *bus.Pump, m *metrics.Metrics) (*Engine, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rvk"
	}
	return &Engine{redis: client, prefix: cfg.KeyPrefix, pump: pump, metrics: m}, nil
}

func (e *Engine) tokenKey(jti string) string { return e.prefix + ":t:" + jti }

func (e *Engine) userKey(tenantID, userID string) string {
	return e.prefix + ":u:" + normalizeTenant(tenantID) + ":" + userID
}

func (e *Engine) sessionKey(sessionID string) string { return e.prefix + ":s:" + sessionID }

func (e *Engine) tenantKey(tenantID string) string {
	return e.prefix + ":n:" + normalizeTenant(tenantID)
}

func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// RevokeToken deny-lists a single jti for the remainder of its lifetime.
// The TTL lets the entry be garbage-collected instead of growing the
// deny-list forever.
func (e *Engine) RevokeToken(ctx context.Context, jti string, remaining time.Duration, reason string) error {
	if jti == "" {
		return errors.New("jti is required")
	}
	if remaining <= 0 {
		// Already past expiry; the temporal claims reject it without us.
		return nil
	}
	if remaining < minEntryTTL {
		remaining = minEntryTTL
	}

	if err := e.redis.Set(ctx, e.tokenKey(jti), reason, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	e.metrics.Inc(metrics.RevokeToken)
	e.emit(bus.SubjectTokenRevoked, bus.Event{
		Type:     "token_revoked",
		EntityID: jti,
		Reason:   reason,
	})
	return nil
}

// RevokeUserTokens sets the user's cutoff: tokens issued at or before it
// are revoked. Cutoffs are monotonic; concurrent writers cannot rewind
// each other.
func (e *Engine) RevokeUserTokens(ctx context.Context, tenantID, userID string, cutoff time.Time, reason string) error {
	if userID == "" {
		return errors.New("user id is required")
	}

	err := advanceCutoffLua.Run(ctx, e.redis, []string{e.userKey(tenantID, userID)}, cutoff.Unix()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	e.metrics.Inc(metrics.RevokeUser)
	e.emit(bus.SubjectUserTokensRevoked, bus.Event{
		Type:     "user_tokens_revoked",
		EntityID: userID,
		UserID:   userID,
		TenantID: tenantID,
		Reason:   reason,
	})
	return nil
}

// ClearUserRevocation resets the user's cutoff to "no cutoff", restoring
// access for previously issued tokens that are otherwise valid.
func (e *Engine) ClearUserRevocation(ctx context.Context, tenantID, userID string) error {
	if err := e.redis.Del(ctx, e.userKey(tenantID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// RevokeSessionTokens flags every token bound to the session. The entry
// carries a TTL equal to the remaining session lifetime.
func (e *Engine) RevokeSessionTokens(ctx context.Context, sessionID string, remaining time.Duration, reason string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if remaining < minEntryTTL {
		remaining = minEntryTTL
	}

	if err := e.redis.Set(ctx, e.sessionKey(sessionID), reason, remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	e.metrics.Inc(metrics.RevokeSession)
	e.emit(bus.SubjectSessionTerminated, bus.Event{
		Type:      "session_terminated",
		EntityID:  sessionID,
		SessionID: sessionID,
		Reason:    reason,
	})
	return nil
}

// RevokeTenantTokens sets the tenant-wide cutoff.
func (e *Engine) RevokeTenantTokens(ctx context.Context, tenantID string, cutoff time.Time, reason string) error {
	err := advanceCutoffLua.Run(ctx, e.redis, []string{e.tenantKey(tenantID)}, cutoff.Unix()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	e.metrics.Inc(metrics.RevokeTenant)
	e.emit(bus.SubjectTenantTokensRevoked, bus.Event{
		Type:     "tenant_tokens_revoked",
		EntityID: tenantID,
		TenantID: tenantID,
		Reason:   reason,
	})
	return nil
}

// ClearTenantRevocation resets the tenant cutoff.
func (e *Engine) ClearTenantRevocation(ctx context.Context, tenantID string) error {
	if err := e.redis.Del(ctx, e.tenantKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// IsRevoked is the combined check: a logical OR across all four scopes.
// It returns the first matching scope for diagnostics. A backend error is
// returned as ErrBackend so validation can fail closed.
func (e *Engine) IsRevoked(ctx context.Context, jti, userID, sessionID, tenantID string, issuedAt time.Time) (bool, string, error) {
	pipe := e.redis.Pipeline()
	tokenCmd := pipe.Exists(ctx, e.tokenKey(jti))
	userCmd := pipe.Get(ctx, e.userKey(tenantID, userID))
	var sessionCmd *redis.IntCmd
	if sessionID != "" {
		sessionCmd = pipe.Exists(ctx, e.sessionKey(sessionID))
	}
	tenantCmd := pipe.Get(ctx, e.tenantKey(tenantID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, "", fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if n, err := tokenCmd.Result(); err == nil && n > 0 {
		return true, ScopeToken, nil
	}
	if hit, err := cutoffMatches(userCmd, issuedAt); err != nil {
		return false, "", err
	} else if hit {
		return true, ScopeUser, nil
	}
	if sessionCmd != nil {
		if n, err := sessionCmd.Result(); err == nil && n > 0 {
			return true, ScopeSession, nil
		}
	}
	if hit, err := cutoffMatches(tenantCmd, issuedAt); err != nil {
		return false, "", err
	} else if hit {
		return true, ScopeTenant, nil
	}

	return false, "", nil
}

func cutoffMatches(cmd *redis.StringCmd, issuedAt time.Time) (bool, error) {
	cutoff, err := cmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return issuedAt.Unix() <= cutoff, nil
}

func (e *Engine) emit(subject string, event bus.Event) {
	event.Timestamp = time.Now().UTC()
	e.pump.Emit(subject, event)
}
