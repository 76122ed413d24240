// Package mfa issues and verifies second-factor challenges. A challenge
// is short-lived and attempt-limited; verifiers are pluggable per method
// (TOTP, backup codes, trusted-device bypass). Enrollment and trust state
// live in a durable document store, challenge state in Redis.
package mfa

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/internal"
	"github.com/veridine/authcore/metrics"
)

var (
	// ErrVerificationFailed is returned for a wrong code on a still-live
	// challenge. The attempt counter has already been charged.
	ErrVerificationFailed = errors.New("mfa verification failed")
	// ErrMethodUnavailable is returned when the requested method was not
	// offered on the challenge.
	ErrMethodUnavailable = errors.New("mfa method unavailable")
	// ErrNoMethodsAvailable is returned when a user has nothing enrolled.
	ErrNoMethodsAvailable = errors.New("no mfa methods available")
)

// Config for the MFA engine.
type Config struct {
	// ChallengeTTL bounds how long a challenge stays answerable.
	// Default 5m.
	ChallengeTTL time.Duration
	// MaxAttempts is the per-challenge attempt budget. Default 5.
	MaxAttempts int
	// TOTP tunes code verification.
	TOTP TOTPConfig
	// TrustTTL is how long a trusted device keeps its bypass.
	// Default 30 days.
	TrustTTL time.Duration
	// MaxTrustedDevices bounds the per-user trust set; the oldest entry
	// is evicted on overflow. Default 5.
	MaxTrustedDevices int
	// BackupCodeCount is how many codes a generation produces. Default 10.
	BackupCodeCount int
	// BackupCodeLength is the character count per code. Default 8.
	BackupCodeLength int
}

func (c *Config) setDefaults() {
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.TrustTTL <= 0 {
		c.TrustTTL = 30 * 24 * time.Hour
	}
	if c.MaxTrustedDevices <= 0 {
		c.MaxTrustedDevices = 5
	}
	if c.BackupCodeCount <= 0 {
		c.BackupCodeCount = 10
	}
	if c.BackupCodeLength <= 0 {
		c.BackupCodeLength = 8
	}
}

// Engine coordinates challenges, verifiers, and trust state.
type Engine struct {
	cfg        Config
	totp       *totpManager
	challenges *ChallengeStore
	configs    ConfigStore
	backups    BackupCodeStore
	trust      TrustStore
	pump       *bus.Pump
	metrics    *metrics.Metrics
}

func NewEngine(
	cfg Config,
	challenges *ChallengeStore,
	configs ConfigStore,
	backups BackupCodeStore,
	trust TrustStore,
	pump *bus.Pump,
	m *metrics.Metrics,
) (*Engine, error) {
	if challenges == nil {
		return nil, errors.New("mfa challenge store is required")
	}
	if configs == nil {
		return nil, errors.New("mfa config store is required")
	}

	cfg.setDefaults()
	totp, err := newTOTPManager(cfg.TOTP)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		totp:       totp,
		challenges: challenges,
		configs:    configs,
		backups:    backups,
		trust:      trust,
		pump:       pump,
		metrics:    m,
	}, nil
}

// EnrollTOTP generates and stores a fresh TOTP secret. The base32 secret
// and provisioning URI are returned exactly once; they are never
// re-displayable afterwards.
func (e *Engine) EnrollTOTP(ctx context.Context, tenantID, userID, account string) (secret, uri string, err error) {
	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return "", "", err
	}
	if err := e.configs.SaveTOTP(ctx, tenantID, userID, raw); err != nil {
		return "", "", err
	}
	return encoded, e.totp.ProvisionURI(encoded, account), nil
}

// DisableTOTP removes the user's TOTP enrollment.
func (e *Engine) DisableTOTP(ctx context.Context, tenantID, userID string) error {
	return e.configs.DisableTOTP(ctx, tenantID, userID)
}

// GenerateBackupCodes replaces the user's recovery codes with a fresh
// set. The plaintext codes are returned exactly once; only their hashes
// are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, tenantID, userID string) ([]string, error) {
	if e.backups == nil {
		return nil, ErrMethodUnavailable
	}

	codes := make([]string, 0, e.cfg.BackupCodeCount)
	hashes := make([]string, 0, e.cfg.BackupCodeCount)
	for i := 0; i < e.cfg.BackupCodeCount; i++ {
		code, err := internal.NewBackupCode(e.cfg.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hash := internal.HashBackupCode(userID, internal.CanonicalizeBackupCode(code))
		hashes = append(hashes, hex.EncodeToString(hash[:]))
	}

	if err := e.backups.Replace(ctx, tenantID, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// IsDeviceTrusted reports whether the fingerprint matches an unexpired
// trusted device for the user.
func (e *Engine) IsDeviceTrusted(ctx context.Context, tenantID, userID, fingerprint string) (bool, error) {
	dev, err := e.trustedDeviceFor(ctx, tenantID, userID, fingerprint)
	if err != nil {
		return false, err
	}
	return dev != nil, nil
}

// ChallengeRequest identifies who must prove a second factor.
type ChallengeRequest struct {
	UserID            string
	TenantID          string
	SessionID         string
	DeviceFingerprint string
}

// CreateChallenge stores a new pending challenge offering every method
// the user can actually answer: TOTP if enrolled, backup codes if any
// remain, trusted-device bypass if the presenting device is trusted.
func (e *Engine) CreateChallenge(ctx context.Context, req ChallengeRequest) (*Challenge, error) {
	if req.UserID == "" {
		return nil, errors.New("user id is required")
	}

	available, err := e.availableMethods(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, ErrNoMethodsAvailable
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ch := &Challenge{
		ID:          id.String(),
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		SessionID:   req.SessionID,
		Method:      available[0],
		Available:   available,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.cfg.ChallengeTTL).Unix(),
		MaxAttempts: e.cfg.MaxAttempts,
	}
	if err := e.challenges.Save(ctx, ch, e.cfg.ChallengeTTL); err != nil {
		return nil, err
	}

	e.metrics.Inc(metrics.ChallengeCreated)
	return ch, nil
}

// SelectMethod switches a pending challenge to another offered method.
func (e *Engine) SelectMethod(ctx context.Context, challengeID string, m Method) (*Challenge, error) {
	ch, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !ch.Allows(m) {
		return nil, ErrMethodUnavailable
	}
	return e.challenges.SetMethod(ctx, challengeID, m)
}

// VerifyRequest answers a challenge. Method defaults to the challenge's
// currently selected one. TrustDevice asks to mark the presenting device
// trusted after a success.
type VerifyRequest struct {
	ChallengeID       string
	Method            Method
	Code              string
	DeviceFingerprint string
	TrustDevice       bool
	DeviceID          string
	DeviceName        string
}

// VerifyResult reports a successful verification.
type VerifyResult struct {
	UserID        string
	TenantID      string
	SessionID     string
	Method        Method
	DeviceTrusted bool
}

// Verify routes to the method verifier. A wrong answer charges the
// attempt budget; spending the last attempt is terminal and removes the
// challenge. Success removes the challenge and optionally trusts the
// presenting device.
func (e *Engine) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	ch, err := e.challenges.Get(ctx, req.ChallengeID)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = ch.Method
	}
	if !ch.Allows(method) {
		return nil, ErrMethodUnavailable
	}

	ok, err := e.verifyMethod(ctx, ch, method, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.chargeFailure(ctx, ch)
	}

	if _, err := e.challenges.Delete(ctx, ch.ID); err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.ChallengeVerified)

	res := &VerifyResult{
		UserID:    ch.UserID,
		TenantID:  ch.TenantID,
		SessionID: ch.SessionID,
		Method:    method,
	}
	if req.TrustDevice && req.DeviceFingerprint != "" {
		if err := e.TrustDevice(ctx, ch.TenantID, ch.UserID, req.DeviceID, req.DeviceName, req.DeviceFingerprint); err != nil {
			return nil, err
		}
		res.DeviceTrusted = true
	}
	return res, nil
}

func (e *Engine) verifyMethod(ctx context.Context, ch *Challenge, method Method, req VerifyRequest) (bool, error) {
	switch method {
	case MethodTOTP:
		return e.verifyTOTP(ctx, ch, req.Code)
	case MethodBackupCode:
		return e.verifyBackupCode(ctx, ch, req.Code)
	case MethodTrustedDevice:
		dev, err := e.trustedDeviceFor(ctx, ch.TenantID, ch.UserID, req.DeviceFingerprint)
		if err != nil {
			return false, err
		}
		if dev == nil {
			return false, nil
		}
		_ = e.trust.Touch(ctx, ch.TenantID, ch.UserID, dev.DeviceID, time.Now().Unix())
		return true, nil
	default:
		return false, ErrMethodUnavailable
	}
}

func (e *Engine) verifyTOTP(ctx context.Context, ch *Challenge, code string) (bool, error) {
	cfg, err := e.configs.Get(ctx, ch.TenantID, ch.UserID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return false, ErrNotEnrolled
		}
		return false, err
	}
	if !cfg.TOTPEnabled || len(cfg.TOTPSecret) == 0 {
		return false, ErrNotEnrolled
	}

	ok, counter, err := e.totp.VerifyCode(cfg.TOTPSecret, code, time.Now())
	if err != nil || !ok {
		return false, err
	}

	// Replay guard: a code is single-use within its time step. Only one
	// of two concurrent presentations of the same code claims the
	// counter.
	claimed, err := e.configs.ClaimTOTPCounter(ctx, ch.TenantID, ch.UserID, counter)
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, ch *Challenge, code string) (bool, error) {
	if e.backups == nil {
		return false, ErrMethodUnavailable
	}

	hash := internal.HashBackupCode(ch.UserID, internal.CanonicalizeBackupCode(code))
	consumed, err := e.backups.Consume(ctx, ch.TenantID, ch.UserID, hex.EncodeToString(hash[:]))
	if err != nil {
		return false, err
	}
	if consumed {
		e.metrics.Inc(metrics.BackupCodeUsed)
	}
	return consumed, nil
}

func (e *Engine) chargeFailure(ctx context.Context, ch *Challenge) error {
	e.metrics.Inc(metrics.ChallengeFailed)

	exhausted, err := e.challenges.RecordFailure(ctx, ch.ID)
	if err != nil {
		return err
	}
	if exhausted {
		e.metrics.Inc(metrics.ChallengeExhausted)
		e.pump.Emit(bus.SubjectSecurityEvent, bus.Event{
			Type:      "mfa_challenge_exhausted",
			EntityID:  ch.ID,
			UserID:    ch.UserID,
			TenantID:  ch.TenantID,
			SessionID: ch.SessionID,
			Severity:  "high",
			Timestamp: time.Now().UTC(),
		})
		return ErrChallengeExhausted
	}
	return ErrVerificationFailed
}

// TrustDevice adds the device to the user's trust set, evicting the
// oldest entry when the set is full.
func (e *Engine) TrustDevice(ctx context.Context, tenantID, userID, deviceID, name, fingerprint string) error {
	if e.trust == nil {
		return ErrMethodUnavailable
	}
	if deviceID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		deviceID = id.String()
	}

	devices, err := e.trust.List(ctx, tenantID, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	live := devices[:0]
	for _, d := range devices {
		if !d.Expired(now) {
			live = append(live, d)
		}
	}
	for len(live) >= e.cfg.MaxTrustedDevices {
		oldest := 0
		for i, d := range live {
			if d.TrustedAt < live[oldest].TrustedAt {
				oldest = i
			}
		}
		if err := e.trust.Remove(ctx, tenantID, userID, live[oldest].DeviceID); err != nil {
			return err
		}
		e.metrics.Inc(metrics.TrustedDeviceEvicted)
		live = append(live[:oldest], live[oldest+1:]...)
	}

	fp := internal.HashFingerprint(fingerprint)
	if err := e.trust.Put(ctx, tenantID, userID, TrustedDevice{
		DeviceID:        deviceID,
		Name:            name,
		FingerprintHash: hex.EncodeToString(fp[:]),
		TrustedAt:       now.Unix(),
		ExpiresAt:       now.Add(e.cfg.TrustTTL).Unix(),
		LastUsed:        now.Unix(),
	}); err != nil {
		return err
	}

	e.metrics.Inc(metrics.DeviceTrusted)
	return nil
}

// TrustedDevices lists the user's unexpired trusted devices.
func (e *Engine) TrustedDevices(ctx context.Context, tenantID, userID string) ([]TrustedDevice, error) {
	if e.trust == nil {
		return nil, nil
	}
	devices, err := e.trust.List(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	live := devices[:0]
	for _, d := range devices {
		if !d.Expired(now) {
			live = append(live, d)
		}
	}
	return live, nil
}

// RevokeTrustedDevice removes a device from the trust set.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, tenantID, userID, deviceID string) error {
	if e.trust == nil {
		return nil
	}
	return e.trust.Remove(ctx, tenantID, userID, deviceID)
}

func (e *Engine) availableMethods(ctx context.Context, req ChallengeRequest) ([]Method, error) {
	var available []Method

	if req.DeviceFingerprint != "" && e.trust != nil {
		dev, err := e.trustedDeviceFor(ctx, req.TenantID, req.UserID, req.DeviceFingerprint)
		if err != nil {
			return nil, err
		}
		if dev != nil {
			available = append(available, MethodTrustedDevice)
		}
	}

	cfg, err := e.configs.Get(ctx, req.TenantID, req.UserID)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}
	if cfg != nil && cfg.TOTPEnabled && len(cfg.TOTPSecret) > 0 {
		available = append(available, MethodTOTP)
	}

	if e.backups != nil {
		remaining, err := e.backups.Remaining(ctx, req.TenantID, req.UserID)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			available = append(available, MethodBackupCode)
		}
	}

	return available, nil
}

func (e *Engine) trustedDeviceFor(ctx context.Context, tenantID, userID, fingerprint string) (*TrustedDevice, error) {
	if e.trust == nil || fingerprint == "" {
		return nil, nil
	}

	devices, err := e.trust.List(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	fp := internal.HashFingerprint(fingerprint)
	want := hex.EncodeToString(fp[:])
	now := time.Now()
	for i, d := range devices {
		if d.FingerprintHash == want && !d.Expired(now) {
			return &devices[i], nil
		}
	}
	return nil, nil
}
