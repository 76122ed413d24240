package authcore

import (
	"errors"

	"github.com/veridine/authcore/mfa"
	"github.com/veridine/authcore/refresh"
	"github.com/veridine/authcore/revoke"
	"github.com/veridine/authcore/session"
	"github.com/veridine/authcore/token"
)

// Re-exported failure kinds so callers can switch on everything the
// facade returns without importing every subpackage.
var (
	// ErrTokenMalformed is returned for structurally invalid token input.
	ErrTokenMalformed = token.ErrMalformed
	// ErrTokenTooLarge is returned for oversized token input.
	ErrTokenTooLarge = token.ErrTooLarge
	// ErrAlgorithmNotAllowed is returned when the token header claims an
	// algorithm outside the configured allow-list, including "none".
	ErrAlgorithmNotAllowed = token.ErrAlgorithmNotAllowed
	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = token.ErrSignatureInvalid
	// ErrUnknownKeyID is returned when no public key matches the header kid.
	ErrUnknownKeyID = token.ErrUnknownKeyID
	// ErrTokenExpired is returned for tokens past expiry beyond leeway.
	ErrTokenExpired = token.ErrExpired
	// ErrTokenIssuedInFuture is returned for iat beyond the skew bound.
	ErrTokenIssuedInFuture = token.ErrIssuedInFuture
	// ErrClaimInvalid is returned for missing or inconsistent claims.
	ErrClaimInvalid = token.ErrClaimInvalid
	// ErrTokenRevoked is returned when any revocation scope matches.
	ErrTokenRevoked = token.ErrRevoked
	// ErrRevocationUnavailable is returned when the revocation store could
	// not be consulted; validation fails closed.
	ErrRevocationUnavailable = token.ErrRevocationUnavailable

	// ErrRefreshTokenNotFound is returned when the presented refresh token
	// has no record.
	ErrRefreshTokenNotFound = refresh.ErrTokenNotFound
	// ErrReuseDetected is the credential-theft signal: an already-consumed
	// or revoked refresh token was presented again.
	ErrReuseDetected = refresh.ErrReuseDetected
	// ErrFamilyRevoked is returned when the token's family was burned.
	ErrFamilyRevoked = refresh.ErrFamilyRevoked

	// ErrSessionNotFound is returned when no session exists under the id.
	ErrSessionNotFound = session.ErrNotFound
	// ErrSessionInactive is returned for sessions marked inactive.
	ErrSessionInactive = session.ErrInactive
	// ErrSessionExpired is returned for sessions past expiry.
	ErrSessionExpired = session.ErrExpired
	// ErrSessionBindingRejected is returned when the request context fails
	// the binding level; the wrapped message carries the typed reason.
	ErrSessionBindingRejected = session.ErrBindingRejected
	// ErrSessionLimitReached is returned when the concurrency policy
	// rejects a new session.
	ErrSessionLimitReached = session.ErrLimitReached
	// ErrSessionRenewThrottled is returned inside the renewal cooldown.
	ErrSessionRenewThrottled = session.ErrRenewThrottled

	// ErrChallengeNotFound is returned when no MFA challenge exists.
	ErrChallengeNotFound = mfa.ErrChallengeNotFound
	// ErrChallengeExpired is returned for challenges past TTL. Terminal.
	ErrChallengeExpired = mfa.ErrChallengeExpired
	// ErrChallengeExhausted is returned when the attempt budget is spent.
	// Terminal.
	ErrChallengeExhausted = mfa.ErrChallengeExhausted
	// ErrMFAVerificationFailed is returned for a wrong code on a live
	// challenge.
	ErrMFAVerificationFailed = mfa.ErrVerificationFailed
	// ErrMFAMethodUnavailable is returned for a method the challenge does
	// not offer.
	ErrMFAMethodUnavailable = mfa.ErrMethodUnavailable
	// ErrNoMFAMethodsAvailable is returned when the user has nothing
	// enrolled.
	ErrNoMFAMethodsAvailable = mfa.ErrNoMethodsAvailable
)

// Code maps an error to its stable machine-readable code. Unrecognized
// errors map to "INTERNAL".
func Code(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, token.ErrTooLarge):
		return "SIZE_EXCEEDED"
	case errors.Is(err, token.ErrMalformed):
		return "MALFORMED"
	case errors.Is(err, token.ErrAlgorithmNotAllowed):
		return "ALGORITHM_NOT_ALLOWED"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "SIGNATURE_INVALID"
	case errors.Is(err, token.ErrUnknownKeyID):
		return "UNKNOWN_KEY_ID"
	case errors.Is(err, token.ErrExpired):
		return "EXPIRED"
	case errors.Is(err, token.ErrIssuedInFuture):
		return "ISSUED_IN_FUTURE"
	case errors.Is(err, token.ErrClaimInvalid):
		return "CLAIM_INVALID"
	case errors.Is(err, token.ErrRevocationUnavailable):
		return "REVOCATION_UNAVAILABLE"
	case errors.Is(err, token.ErrRevoked):
		return "REVOKED"
	case errors.Is(err, refresh.ErrReuseDetected):
		return "TOKEN_REUSE_DETECTED"
	case errors.Is(err, refresh.ErrFamilyRevoked):
		return "FAMILY_REVOKED"
	case errors.Is(err, refresh.ErrTokenNotFound):
		return "TOKEN_NOT_FOUND"
	case errors.Is(err, session.ErrNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, session.ErrInactive):
		return "SESSION_INACTIVE"
	case errors.Is(err, session.ErrExpired):
		return "SESSION_EXPIRED"
	case errors.Is(err, session.ErrBindingRejected):
		return "SESSION_BINDING_REJECTED"
	case errors.Is(err, session.ErrLimitReached):
		return "SESSION_LIMIT_REACHED"
	case errors.Is(err, session.ErrRenewThrottled):
		return "SESSION_RENEW_THROTTLED"
	case errors.Is(err, session.ErrIDReused):
		return "SESSION_ID_REUSED"
	case errors.Is(err, mfa.ErrChallengeNotFound):
		return "CHALLENGE_NOT_FOUND"
	case errors.Is(err, mfa.ErrChallengeExpired):
		return "CHALLENGE_EXPIRED"
	case errors.Is(err, mfa.ErrChallengeExhausted):
		return "CHALLENGE_EXHAUSTED"
	case errors.Is(err, mfa.ErrVerificationFailed):
		return "MFA_VERIFICATION_FAILED"
	case errors.Is(err, mfa.ErrMethodUnavailable):
		return "MFA_METHOD_UNAVAILABLE"
	case errors.Is(err, mfa.ErrNoMethodsAvailable):
		return "MFA_NOT_ENROLLED"
	case errors.Is(err, refresh.ErrBackend),
		errors.Is(err, session.ErrBackend),
		errors.Is(err, mfa.ErrBackend),
		errors.Is(err, revoke.ErrBackend):
		return "BACKEND_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
