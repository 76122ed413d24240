package internaldefs

import (
	"github.com/veridine/authcore/metrics"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   metrics.ID
	Name string
	Help string
}

// CounterDefs maps every engine counter to its stable exported name.
var CounterDefs = []CounterDef{
	{ID: metrics.TokenIssued, Name: "authcore_token_issued_total", Help: "Issued tokens across all kinds."},
	{ID: metrics.TokenValidateSuccess, Name: "authcore_token_validate_success_total", Help: "Token validations that passed the full pipeline."},
	{ID: metrics.TokenValidateFailure, Name: "authcore_token_validate_failure_total", Help: "Token validations rejected by any pipeline stage."},
	{ID: metrics.TokenRevokedHit, Name: "authcore_token_revoked_hit_total", Help: "Validations rejected by the revocation gate."},
	{ID: metrics.RefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token consumptions."},
	{ID: metrics.RefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: metrics.RefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: metrics.FamilyRevoked, Name: "authcore_family_revoked_total", Help: "Refresh token families burned."},
	{ID: metrics.RevokeToken, Name: "authcore_revoke_token_total", Help: "Single-token revocations."},
	{ID: metrics.RevokeUser, Name: "authcore_revoke_user_total", Help: "User cutoff revocations."},
	{ID: metrics.RevokeSession, Name: "authcore_revoke_session_total", Help: "Session-scope revocations."},
	{ID: metrics.RevokeTenant, Name: "authcore_revoke_tenant_total", Help: "Tenant cutoff revocations."},
	{ID: metrics.SessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: metrics.SessionEvicted, Name: "authcore_session_evicted_total", Help: "Sessions evicted by concurrency policy."},
	{ID: metrics.SessionTerminated, Name: "authcore_session_terminated_total", Help: "Explicitly terminated sessions."},
	{ID: metrics.SessionExpiredSwept, Name: "authcore_session_expired_swept_total", Help: "Expired sessions removed by the janitor."},
	{ID: metrics.SessionRenewed, Name: "authcore_session_renewed_total", Help: "Session renewals."},
	{ID: metrics.SessionRenewThrottled, Name: "authcore_session_renew_throttled_total", Help: "Renewals rejected by the cooldown."},
	{ID: metrics.BindingRejected, Name: "authcore_binding_rejected_total", Help: "Requests rejected by session binding."},
	{ID: metrics.AnomalyDetected, Name: "authcore_anomaly_detected_total", Help: "Login anomaly findings."},
	{ID: metrics.HijackChallenge, Name: "authcore_hijack_challenge_total", Help: "Mid-session checks escalated to a challenge."},
	{ID: metrics.HijackTerminate, Name: "authcore_hijack_terminate_total", Help: "Mid-session checks that terminated the session."},
	{ID: metrics.ChallengeCreated, Name: "authcore_mfa_challenge_created_total", Help: "Created MFA challenges."},
	{ID: metrics.ChallengeVerified, Name: "authcore_mfa_challenge_verified_total", Help: "Successfully verified MFA challenges."},
	{ID: metrics.ChallengeFailed, Name: "authcore_mfa_challenge_failed_total", Help: "Failed MFA verification attempts."},
	{ID: metrics.ChallengeExhausted, Name: "authcore_mfa_challenge_exhausted_total", Help: "MFA challenges that spent their attempt budget."},
	{ID: metrics.BackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: metrics.DeviceTrusted, Name: "authcore_device_trusted_total", Help: "Devices added to a trust set."},
	{ID: metrics.TrustedDeviceEvicted, Name: "authcore_trusted_device_evicted_total", Help: "Trusted devices evicted on overflow."},
}

// HistogramDefs maps the engine histograms to exported names.
var HistogramDefs = []HistogramDef{
	{ID: metrics.ValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Token validate latency histogram."},
}

// HistogramBounds are the upper bounds of the validate-latency buckets in
// seconds, matching the engine's internal bucketing.
var HistogramBounds = []string{
	"0.0001",
	"0.00025",
	"0.0005",
	"0.001",
	"0.0025",
	"0.005",
	"0.01",
	"+Inf",
}

// HistogramBoundSuffix holds name-safe forms of HistogramBounds for
// backends that cannot carry an le label.
var HistogramBoundSuffix = []string{
	"0_0001",
	"0_00025",
	"0_0005",
	"0_001",
	"0_0025",
	"0_005",
	"0_01",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// width exporters expect.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// Prometheus-style histograms require.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
