package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/veridine/authcore/refresh"
	"github.com/veridine/authcore/session"
	"github.com/veridine/authcore/token"
)

// RefreshResult is the rotated token pair.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	Claims       *token.Claims
}

// Refresh validates and consumes a refresh token, then mints the next
// access/refresh pair as a new member of the same family. A reuse signal
// terminates the bound session before the error surfaces: the credential
// is treated as stolen, not merely invalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := e.tokens.Validate(ctx, refreshToken,
		token.WithExpectKind(token.KindRefresh),
		token.WithRevocationCheck(true),
	)
	if err != nil {
		return nil, err
	}

	if claims.SessionID != "" {
		sess, err := e.sessions.Get(ctx, claims.TenantID, claims.SessionID)
		if err != nil {
			return nil, err
		}
		if sess.Expired(time.Now()) {
			return nil, session.ErrExpired
		}
		if !sess.Active {
			return nil, session.ErrInactive
		}
	}

	consumed, err := e.refresh.Consume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, refresh.ErrReuseDetected) {
			e.terminateOnReuse(ctx, claims)
		}
		return nil, err
	}

	access, accessClaims, err := e.tokens.Issue(token.IssueRequest{
		Kind:        token.KindAccess,
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		Scopes:      claims.Scopes,
		Permissions: claims.Permissions,
	})
	if err != nil {
		return nil, err
	}

	newRefresh, newRefreshClaims, err := e.tokens.Issue(token.IssueRequest{
		Kind:        token.KindRefresh,
		UserID:      claims.UserID,
		TenantID:    claims.TenantID,
		SessionID:   claims.SessionID,
		DeviceID:    claims.DeviceID,
		Scopes:      claims.Scopes,
		Permissions: claims.Permissions,
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.refresh.Rotate(ctx, consumed, newRefresh, newRefreshClaims); err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken:  access,
		RefreshToken: newRefresh,
		Claims:       accessClaims,
	}, nil
}

func (e *Engine) terminateOnReuse(ctx context.Context, claims *token.Claims) {
	if claims.SessionID == "" {
		return
	}
	if err := e.sessions.Terminate(ctx, claims.TenantID, claims.SessionID, "refresh token reuse"); err != nil &&
		!errors.Is(err, session.ErrNotFound) {
		e.log.Warn().Err(err).
			Str("session_id", claims.SessionID).
			Msg("failed to terminate session after refresh reuse")
	}
}

// RevokeAccessToken deny-lists a single presented token for the rest of
// its lifetime. The token is introspected only for its jti and expiry;
// a malformed token is rejected, not ignored.
func (e *Engine) RevokeAccessToken(ctx context.Context, tokenStr, reason string) error {
	claims, err := e.tokens.Introspect(tokenStr)
	if err != nil {
		return err
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return token.ErrMalformed
	}
	return e.revocations.RevokeToken(ctx, claims.ID, time.Until(claims.ExpiresAt.Time), reason)
}

// RevokeUserTokens invalidates every user token issued at or before now.
func (e *Engine) RevokeUserTokens(ctx context.Context, tenantID, userID, reason string) error {
	return e.revocations.RevokeUserTokens(ctx, tenantID, userID, time.Now(), reason)
}

// ClearUserRevocation lifts a user cutoff, restoring tokens that were
// only dead because of it.
func (e *Engine) ClearUserRevocation(ctx context.Context, tenantID, userID string) error {
	return e.revocations.ClearUserRevocation(ctx, tenantID, userID)
}

// RevokeTenantTokens invalidates every tenant token issued at or before
// now. Emergency lever.
func (e *Engine) RevokeTenantTokens(ctx context.Context, tenantID, reason string) error {
	return e.revocations.RevokeTenantTokens(ctx, tenantID, time.Now(), reason)
}

// ClearTenantRevocation lifts a tenant cutoff.
func (e *Engine) ClearTenantRevocation(ctx context.Context, tenantID string) error {
	return e.revocations.ClearTenantRevocation(ctx, tenantID)
}

// RevokeFamily burns a refresh token family by id.
func (e *Engine) RevokeFamily(ctx context.Context, familyID, reason string) error {
	return e.refresh.RevokeFamily(ctx, familyID, reason)
}
