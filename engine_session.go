package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/veridine/authcore/session"
	"github.com/veridine/authcore/token"
)

// LoginRequest describes an already-authenticated principal asking for a
// session and token pair. Password or federation checks happen before
// this point.
type LoginRequest struct {
	UserID      string
	TenantID    string
	Scopes      []string
	Permissions []string
	Device      session.Device
	IP          string
	Location    *session.GeoLocation
	MFAVerified bool
}

// LoginResult is the session plus its first token pair. SecurityEvents
// and RiskScore carry the anomaly findings for the new login; the session
// is created regardless, the caller decides whether to step up.
type LoginResult struct {
	AccessToken    string
	RefreshToken   string
	Claims         *token.Claims
	Session        *session.Session
	SecurityEvents []session.SecurityEvent
	RiskScore      int
}

// IssueSession creates a session and mints its first access/refresh pair,
// registering the refresh token as the root of a new family.
func (e *Engine) IssueSession(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	created, err := e.sessions.Create(ctx, session.CreateRequest{
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Device:      req.Device,
		IP:          req.IP,
		Location:    req.Location,
		MFAVerified: req.MFAVerified,
	})
	if err != nil {
		return nil, err
	}
	sess := created.Session

	access, accessClaims, err := e.tokens.Issue(token.IssueRequest{
		Kind:        token.KindAccess,
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		SessionID:   sess.ID,
		DeviceID:    req.Device.ID,
		Scopes:      req.Scopes,
		Permissions: req.Permissions,
	})
	if err != nil {
		e.cleanupSession(ctx, sess)
		return nil, err
	}

	// Scopes ride along on the refresh token so rotation can re-mint the
	// access token without a scope lookup.
	refreshTok, refreshClaims, err := e.tokens.Issue(token.IssueRequest{
		Kind:        token.KindRefresh,
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		SessionID:   sess.ID,
		DeviceID:    req.Device.ID,
		Scopes:      req.Scopes,
		Permissions: req.Permissions,
	})
	if err != nil {
		e.cleanupSession(ctx, sess)
		return nil, err
	}

	if _, err := e.refresh.CreateFamily(ctx, refreshTok, refreshClaims); err != nil {
		e.cleanupSession(ctx, sess)
		return nil, err
	}

	return &LoginResult{
		AccessToken:    access,
		RefreshToken:   refreshTok,
		Claims:         accessClaims,
		Session:        sess,
		SecurityEvents: created.Events,
		RiskScore:      created.RiskScore,
	}, nil
}

func (e *Engine) cleanupSession(ctx context.Context, sess *session.Session) {
	if err := e.sessions.Terminate(ctx, sess.TenantID, sess.ID, "login aborted"); err != nil &&
		!errors.Is(err, session.ErrNotFound) {
		e.log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to clean up aborted login session")
	}
}

// AccessContext is the result of a fully validated request: verified
// claims plus the live session they belong to.
type AccessContext struct {
	Claims  *token.Claims
	Session *session.Session
}

// ValidateAccess runs the token pipeline with revocation, then validates
// the bound session including binding checks. Tokens without a session id
// (service tokens) skip the session half.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string, bind session.BindingContext) (*AccessContext, error) {
	claims, err := e.tokens.Validate(ctx, accessToken,
		token.WithExpectKind(token.KindAccess),
		token.WithRevocationCheck(true),
	)
	if err != nil {
		return nil, err
	}

	ac := &AccessContext{Claims: claims}
	if claims.SessionID == "" {
		return ac, nil
	}

	sess, err := e.sessions.Validate(ctx, claims.TenantID, claims.SessionID, bind)
	if err != nil {
		return nil, err
	}
	ac.Session = sess
	return ac, nil
}

// Logout terminates one session. Its tokens are revoked before the
// session record disappears.
func (e *Engine) Logout(ctx context.Context, tenantID, sessionID string) error {
	return e.sessions.Terminate(ctx, tenantID, sessionID, "logout")
}

// LogoutAll terminates every session of a user and sets the user token
// cutoff to now, killing tokens that were not bound to any session.
func (e *Engine) LogoutAll(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := e.sessions.TerminateAll(ctx, tenantID, userID, "logout all")
	if err != nil {
		return n, err
	}
	if err := e.revocations.RevokeUserTokens(ctx, tenantID, userID, time.Now(), "logout all"); err != nil {
		return n, err
	}
	return n, nil
}

// RenewSession extends a session's lifetime, subject to the cooldown.
func (e *Engine) RenewSession(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	return e.sessions.Renew(ctx, tenantID, sessionID)
}

// ForceRenewSession extends a session's lifetime ignoring the cooldown.
func (e *Engine) ForceRenewSession(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	return e.sessions.ForceRenew(ctx, tenantID, sessionID)
}

// CheckSessionActivity runs hijack detection against an in-flight
// request and applies the verdict.
func (e *Engine) CheckSessionActivity(ctx context.Context, tenantID, sessionID string, act session.ActivityContext) (session.ActivityFinding, error) {
	return e.sessions.CheckActivity(ctx, tenantID, sessionID, act)
}

// UserSessions lists a user's live sessions.
func (e *Engine) UserSessions(ctx context.Context, tenantID, userID string) ([]*session.Session, error) {
	return e.sessions.Sessions(ctx, tenantID, userID)
}
