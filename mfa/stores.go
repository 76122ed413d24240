package mfa

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotEnrolled is returned when a user has no MFA configuration for
	// the requested method.
	ErrNotEnrolled = errors.New("mfa method not enrolled")
	// ErrConfigNotFound is returned when a user has no MFA document at all.
	ErrConfigNotFound = errors.New("mfa config not found")
)

// UserConfig is the durable per-user MFA enrollment document.
type UserConfig struct {
	UserID          string `bson:"user_id" json:"user_id"`
	TenantID        string `bson:"tenant_id" json:"tenant_id"`
	TOTPEnabled     bool   `bson:"totp_enabled" json:"totp_enabled"`
	TOTPSecret      []byte `bson:"totp_secret" json:"totp_secret"`
	TOTPLastCounter int64  `bson:"totp_last_counter" json:"totp_last_counter"`
	UpdatedAt       int64  `bson:"updated_at" json:"updated_at"`
}

// TrustedDevice grants MFA bypass for a bounded period after a prior
// successful verification from the same device.
type TrustedDevice struct {
	DeviceID        string `bson:"device_id" json:"device_id"`
	Name            string `bson:"name" json:"name"`
	FingerprintHash string `bson:"fingerprint_hash" json:"fingerprint_hash"`
	TrustedAt       int64  `bson:"trusted_at" json:"trusted_at"`
	ExpiresAt       int64  `bson:"expires_at" json:"expires_at"`
	LastUsed        int64  `bson:"last_used" json:"last_used"`
}

func (d TrustedDevice) Expired(now time.Time) bool {
	return now.Unix() >= d.ExpiresAt
}

// ConfigStore holds per-user MFA enrollment.
//
// ClaimTOTPCounter is the TOTP replay guard: it records the highest
// accepted time-step counter and must only ever advance it, returning
// false when the presented counter is not strictly greater than the
// stored one. Two concurrent verifications of the same code yield exactly
// one claim.
type ConfigStore interface {
	Get(ctx context.Context, tenantID, userID string) (*UserConfig, error)
	SaveTOTP(ctx context.Context, tenantID, userID string, secret []byte) error
	DisableTOTP(ctx context.Context, tenantID, userID string) error
	ClaimTOTPCounter(ctx context.Context, tenantID, userID string, counter int64) (bool, error)
}

// BackupCodeStore holds one-way hashes of recovery codes. Consume must be
// check-and-mark atomic per code: concurrent consumption of the same code
// yields exactly one success.
type BackupCodeStore interface {
	Replace(ctx context.Context, tenantID, userID string, hashes []string) error
	Consume(ctx context.Context, tenantID, userID, hash string) (bool, error)
	Remaining(ctx context.Context, tenantID, userID string) (int, error)
}

// TrustStore holds the per-user trusted device set. Bounding and eviction
// are the engine's job; the store only lists, puts, and removes.
type TrustStore interface {
	List(ctx context.Context, tenantID, userID string) ([]TrustedDevice, error)
	Put(ctx context.Context, tenantID, userID string, device TrustedDevice) error
	Remove(ctx context.Context, tenantID, userID, deviceID string) error
	Touch(ctx context.Context, tenantID, userID, deviceID string, lastUsed int64) error
}
