package authcore

import (
	"time"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/metrics"
	"github.com/veridine/authcore/mfa"
	"github.com/veridine/authcore/refresh"
	"github.com/veridine/authcore/revoke"
	"github.com/veridine/authcore/session"
	"github.com/veridine/authcore/token"
)

// JanitorConfig schedules background cleanup of expired sessions and
// refresh families. The janitor is started explicitly and stopped by
// Engine.Close; its failures are logged, never surfaced to requests.
type JanitorConfig struct {
	// Interval between sweeps. Default 10m.
	Interval time.Duration
	// Tenants whose session keyspaces are swept. The empty-string entry
	// covers sessions created without a tenant.
	Tenants []string
}

// Config aggregates the per-engine configurations. Zero values are filled
// with defaults at Build; invalid combinations are rejected there.
type Config struct {
	Token      token.Config
	Refresh    refresh.Policy
	Revocation revoke.Config
	Session    session.Config
	MFA        mfa.Config
	Metrics    metrics.Config
	Events     bus.Config
	Janitor    JanitorConfig

	// SessionKeyPrefix, RefreshKeyPrefix, and ChallengeKeyPrefix override
	// the Redis key prefixes of the respective stores.
	SessionKeyPrefix   string
	RefreshKeyPrefix   string
	ChallengeKeyPrefix string

	// SessionTombstoneTTL is how long a terminated session id stays
	// unusable. Default 24h.
	SessionTombstoneTTL time.Duration
}

// DefaultConfig returns a working baseline: 15m access tokens, 7d refresh
// tokens with rotation and family revocation on reuse, 24h sessions with
// device binding, anomaly and hijack detection on.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			Issuer:     "authcore",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Leeway:     30 * time.Second,
		},
		Refresh: refresh.Policy{
			RotationEnabled:       true,
			ReuseDetectionEnabled: true,
			RevokeFamilyOnReuse:   true,
		},
		Session: session.Config{
			TTL:              24 * time.Hour,
			RenewWindow:      5 * time.Minute,
			Binding:          session.BindingDevice,
			AnomalyDetection: true,
			HijackDetection:  true,
			Policy: session.Policy{
				MaxPerUser: 10,
				Overflow:   session.EvictOldest,
			},
		},
		MFA: mfa.Config{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
			TOTP:         mfa.TOTPConfig{Issuer: "authcore"},
		},
		Metrics: metrics.Config{Enabled: true},
		Janitor: JanitorConfig{
			Interval: 10 * time.Minute,
			Tenants:  []string{""},
		},
	}
}
