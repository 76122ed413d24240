package authcore

import (
	"context"
	"errors"

	"github.com/veridine/authcore/mfa"
	"github.com/veridine/authcore/session"
)

// CreateMFAChallenge opens a challenge offering every method the user can
// answer. Returns ErrNoMFAMethodsAvailable when nothing is enrolled.
func (e *Engine) CreateMFAChallenge(ctx context.Context, req mfa.ChallengeRequest) (*mfa.Challenge, error) {
	return e.mfa.CreateChallenge(ctx, req)
}

// SelectMFAMethod switches a pending challenge to another offered method.
func (e *Engine) SelectMFAMethod(ctx context.Context, challengeID string, m mfa.Method) (*mfa.Challenge, error) {
	return e.mfa.SelectMethod(ctx, challengeID, m)
}

// VerifyMFA answers a challenge. Success marks the bound session as MFA
// verified so later policy checks see the elevated state.
func (e *Engine) VerifyMFA(ctx context.Context, req mfa.VerifyRequest) (*mfa.VerifyResult, error) {
	res, err := e.mfa.Verify(ctx, req)
	if err != nil {
		return nil, err
	}

	if res.SessionID != "" {
		if err := e.markSessionMFAVerified(ctx, res.TenantID, res.SessionID); err != nil {
			e.log.Warn().Err(err).
				Str("session_id", res.SessionID).
				Msg("failed to mark session mfa verified")
		}
	}
	return res, nil
}

func (e *Engine) markSessionMFAVerified(ctx context.Context, tenantID, sessionID string) error {
	sess, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.MFAVerified {
		return nil
	}
	sess.MFAVerified = true
	return e.sessions.Update(ctx, sess)
}

// EnrollTOTP generates and stores a TOTP secret, returning the secret and
// provisioning URI exactly once.
func (e *Engine) EnrollTOTP(ctx context.Context, tenantID, userID, account string) (secret, uri string, err error) {
	return e.mfa.EnrollTOTP(ctx, tenantID, userID, account)
}

// DisableTOTP removes the user's TOTP enrollment.
func (e *Engine) DisableTOTP(ctx context.Context, tenantID, userID string) error {
	return e.mfa.DisableTOTP(ctx, tenantID, userID)
}

// GenerateBackupCodes replaces the user's recovery codes, returning the
// plaintext set exactly once.
func (e *Engine) GenerateBackupCodes(ctx context.Context, tenantID, userID string) ([]string, error) {
	return e.mfa.GenerateBackupCodes(ctx, tenantID, userID)
}

// IsDeviceTrusted reports whether the fingerprint matches an unexpired
// trusted device.
func (e *Engine) IsDeviceTrusted(ctx context.Context, tenantID, userID, fingerprint string) (bool, error) {
	return e.mfa.IsDeviceTrusted(ctx, tenantID, userID, fingerprint)
}

// TrustedDevices lists the user's unexpired trusted devices.
func (e *Engine) TrustedDevices(ctx context.Context, tenantID, userID string) ([]mfa.TrustedDevice, error) {
	return e.mfa.TrustedDevices(ctx, tenantID, userID)
}

// RevokeTrustedDevice drops a device from the trust set and terminates
// any of the user's sessions still bound to it.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, tenantID, userID, deviceID string) error {
	if err := e.mfa.RevokeTrustedDevice(ctx, tenantID, userID, deviceID); err != nil {
		return err
	}
	if _, err := e.sessions.TerminateDevice(ctx, tenantID, userID, deviceID, "trusted device removed"); err != nil {
		e.log.Warn().Err(err).
			Str("device_id", deviceID).
			Msg("failed to terminate sessions for removed device")
	}
	return nil
}
