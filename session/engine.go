// Package session manages authenticated sessions: creation under a
// concurrency policy, device/network binding, renewal with a cooldown,
// anomaly and hijack detection, and termination that revokes the
// session's tokens before the record disappears.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/internal"
	"github.com/veridine/authcore/metrics"
)

var (
	// ErrInactive is returned when validating a session that was marked
	// inactive but not yet removed.
	ErrInactive = errors.New("session inactive")
	// ErrExpired is returned when validating a session past its expiry.
	ErrExpired = errors.New("session expired")
	// ErrBindingRejected is returned when the request context fails the
	// configured binding level.
	ErrBindingRejected = errors.New("session binding rejected")
	// ErrLimitReached is returned when the concurrency policy rejects a
	// new session instead of evicting an old one.
	ErrLimitReached = errors.New("session limit reached")
	// ErrRenewThrottled is returned when a renewal arrives inside the
	// cooldown window of the previous one.
	ErrRenewThrottled = errors.New("session renewal throttled")
)

// TokenRevoker invalidates all tokens bound to a session. Session
// termination calls it before deleting the session record, so no window
// exists where tokens outlive their session.
type TokenRevoker interface {
	RevokeSessionTokens(ctx context.Context, sessionID, reason string) error
}

// Config for the session engine.
type Config struct {
	// TTL is the absolute session lifetime. Default 24h.
	TTL time.Duration
	// RenewWindow is the minimum gap between renewals. Default 5m.
	RenewWindow time.Duration
	// IdleTimeout terminates sessions with no validated activity for this
	// long. Zero disables idle termination.
	IdleTimeout time.Duration
	// Binding is the device/network binding strictness.
	Binding BindingLevel
	// Policy caps concurrent sessions per user.
	Policy Policy
	// AnomalyDetection enables login anomaly analysis on Create.
	AnomalyDetection bool
	// HijackDetection enables mid-session activity checks.
	HijackDetection bool
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.RenewWindow <= 0 {
		c.RenewWindow = 5 * time.Minute
	}
}

func (c Config) validate() error {
	if !c.Binding.Valid() {
		return errors.New("session config: unknown binding level")
	}
	return c.Policy.Validate()
}

// Engine manages session lifecycle on top of the Redis store.
type Engine struct {
	cfg     Config
	store   *Store
	revoker TokenRevoker
	pump    *bus.Pump
	metrics *metrics.Metrics
}

func NewEngine(cfg Config, store *Store, revoker TokenRevoker, pump *bus.Pump, m *metrics.Metrics) (*Engine, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, store: store, revoker: revoker, pump: pump, metrics: m}, nil
}

// CreateRequest carries the client attributes for a new session.
type CreateRequest struct {
	UserID      string
	TenantID    string
	Device      Device
	IP          string
	Location    *GeoLocation
	MFAVerified bool
}

// CreateResult is the created session plus any anomaly findings. The
// findings are advisory; the session is created regardless.
type CreateResult struct {
	Session   *Session
	Events    []SecurityEvent
	RiskScore int
}

// Create builds a new session, enforcing the concurrency policy and
// running anomaly analysis against the user's existing sessions.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	existing, err := e.sessionsForUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           sid.String(),
		UserID:       req.UserID,
		TenantID:     req.TenantID,
		Device:       req.Device,
		IP:           req.IP,
		Location:     req.Location,
		CreatedAt:    now.Unix(),
		LastActivity: now.Unix(),
		ExpiresAt:    now.Add(e.cfg.TTL).Unix(),
		Active:       true,
		MFAVerified:  req.MFAVerified,
	}

	evict, rejected := e.cfg.Policy.Evictees(existing, sess)
	if rejected {
		return nil, ErrLimitReached
	}
	for _, old := range evict {
		if err := e.terminate(ctx, old, "evicted by session policy"); err != nil {
			return nil, err
		}
		e.metrics.Inc(metrics.SessionEvicted)
	}

	if err := e.store.Save(ctx, sess, e.cfg.TTL); err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.SessionCreated)

	res := &CreateResult{Session: sess}
	if e.cfg.AnomalyDetection {
		res.Events, res.RiskScore = AnalyzeNewSession(sess, existing)
		for _, ev := range res.Events {
			e.emitSecurityEvent(ev)
			e.metrics.Inc(metrics.AnomalyDetected)
		}
	}
	return res, nil
}

// Get fetches a session by id.
func (e *Engine) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	return e.store.Get(ctx, tenantID, sessionID)
}

// Update rewrites a session's mutable fields preserving its TTL.
func (e *Engine) Update(ctx context.Context, sess *Session) error {
	return e.store.Update(ctx, sess)
}

// Validate checks that a session exists, is active, is unexpired, and
// that the request context satisfies the configured binding level. On
// success the session's last-activity timestamp is advanced.
func (e *Engine) Validate(ctx context.Context, tenantID, sessionID string, reqCtx BindingContext) (*Session, error) {
	sess, err := e.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if sess.Expired(now) {
		return nil, ErrExpired
	}
	if !sess.Active {
		return nil, ErrInactive
	}
	if e.cfg.IdleTimeout > 0 && now.Sub(time.Unix(sess.LastActivity, 0)) > e.cfg.IdleTimeout {
		if err := e.terminate(ctx, sess, "idle timeout"); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if res := CheckBinding(e.cfg.Binding, sess, reqCtx); !res.OK {
		e.metrics.Inc(metrics.BindingRejected)
		return nil, fmt.Errorf("%w: %s", ErrBindingRejected, res.Reason)
	}

	sess.LastActivity = now.Unix()
	if err := e.store.Update(ctx, sess); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return sess, nil
}

// Renew extends a session's expiry, subject to the cooldown window.
// Renewals inside the window return ErrRenewThrottled.
func (e *Engine) Renew(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	ok, err := e.store.TryRenewCooldown(ctx, sessionID, e.cfg.RenewWindow)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metrics.Inc(metrics.SessionRenewThrottled)
		return nil, ErrRenewThrottled
	}
	return e.renew(ctx, tenantID, sessionID)
}

// ForceRenew extends a session's expiry ignoring the cooldown. Admin
// path.
func (e *Engine) ForceRenew(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	return e.renew(ctx, tenantID, sessionID)
}

func (e *Engine) renew(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	sess, err := e.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if sess.Expired(now) {
		return nil, ErrExpired
	}
	if !sess.Active {
		return nil, ErrInactive
	}

	sess.ExpiresAt = now.Add(e.cfg.TTL).Unix()
	sess.LastRenewedAt = now.Unix()
	sess.LastActivity = now.Unix()
	if err := e.store.UpdateWithTTL(ctx, sess, e.cfg.TTL); err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.SessionRenewed)
	return sess, nil
}

// Terminate ends a session: tokens bound to it are revoked first, then
// the record is removed and its id tombstoned.
func (e *Engine) Terminate(ctx context.Context, tenantID, sessionID, reason string) error {
	sess, err := e.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	return e.terminate(ctx, sess, reason)
}

// TerminateAll ends every session of a user. Used by logout-all and
// account compromise response.
func (e *Engine) TerminateAll(ctx context.Context, tenantID, userID, reason string) (int, error) {
	sessions, err := e.sessionsForUser(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}
	terminated := 0
	for _, sess := range sessions {
		if err := e.terminate(ctx, sess, reason); err != nil {
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}

// TerminateDevice ends every session of a user bound to one device id.
// Called when a device is removed or its trust is revoked.
func (e *Engine) TerminateDevice(ctx context.Context, tenantID, userID, deviceID, reason string) (int, error) {
	sessions, err := e.sessionsForUser(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}
	terminated := 0
	for _, sess := range sessions {
		if sess.Device.ID != deviceID {
			continue
		}
		if err := e.terminate(ctx, sess, reason); err != nil {
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}

func (e *Engine) terminate(ctx context.Context, sess *Session, reason string) error {
	if e.revoker != nil {
		if err := e.revoker.RevokeSessionTokens(ctx, sess.ID, reason); err != nil {
			return err
		}
	}
	if err := e.store.Delete(ctx, sess.TenantID, sess.UserID, sess.ID); err != nil {
		return err
	}

	e.metrics.Inc(metrics.SessionTerminated)
	e.pump.Emit(bus.SubjectSessionTerminated, bus.Event{
		Type:      "session_terminated",
		EntityID:  sess.ID,
		UserID:    sess.UserID,
		TenantID:  sess.TenantID,
		SessionID: sess.ID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// CheckActivity runs hijack detection on an in-flight request and applies
// the verdict: terminate ends the session before returning. The finding
// is returned either way so the caller can surface a challenge.
func (e *Engine) CheckActivity(ctx context.Context, tenantID, sessionID string, act ActivityContext) (ActivityFinding, error) {
	if !e.cfg.HijackDetection {
		return ActivityFinding{Action: ActionAllow}, nil
	}

	sess, err := e.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return ActivityFinding{}, err
	}

	finding := CheckActivity(sess, act)
	if finding.Event != nil {
		e.emitSecurityEvent(*finding.Event)
	}

	switch finding.Action {
	case ActionTerminate:
		e.metrics.Inc(metrics.HijackTerminate)
		if err := e.terminate(ctx, sess, "suspected session hijack"); err != nil {
			return finding, err
		}
	case ActionChallenge:
		e.metrics.Inc(metrics.HijackChallenge)
	}
	return finding, nil
}

// Sessions lists a user's live sessions.
func (e *Engine) Sessions(ctx context.Context, tenantID, userID string) ([]*Session, error) {
	return e.sessionsForUser(ctx, tenantID, userID)
}

// SweepExpired removes sessions past expiry for a tenant. Janitor path.
func (e *Engine) SweepExpired(ctx context.Context, tenantID string) (int, error) {
	n, err := e.store.SweepExpired(ctx, tenantID)
	for i := 0; i < n; i++ {
		e.metrics.Inc(metrics.SessionExpiredSwept)
	}
	return n, err
}

func (e *Engine) sessionsForUser(ctx context.Context, tenantID, userID string) ([]*Session, error) {
	ids, err := e.store.IDsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return e.store.GetMany(ctx, tenantID, ids)
}

func (e *Engine) emitSecurityEvent(ev SecurityEvent) {
	e.pump.Emit(bus.SubjectSecurityEvent, bus.Event{
		Type:      ev.Type,
		EntityID:  ev.SessionID,
		UserID:    ev.UserID,
		TenantID:  ev.TenantID,
		SessionID: ev.SessionID,
		Severity:  string(ev.Severity),
		Timestamp: ev.Timestamp,
		Details:   ev.Details,
	})
}
