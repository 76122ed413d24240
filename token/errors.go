package token

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is an exported failure kind: the token is not three
	// base64url segments or its header cannot be decoded.
	ErrMalformed = errors.New("token malformed")
	// ErrTooLarge is an exported failure kind: the token exceeds the
	// configured byte bound.
	ErrTooLarge = errors.New("token size exceeded")
	// ErrAlgorithmNotAllowed is an exported failure kind: the header claims
	// an algorithm outside the allow-list (including "none").
	ErrAlgorithmNotAllowed = errors.New("token algorithm not allowed")
	// ErrSignatureInvalid is an exported failure kind.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrUnknownKeyID is an exported failure kind: no verification key is
	// registered under the header kid.
	ErrUnknownKeyID = errors.New("unknown key id")
	// ErrExpired is an exported failure kind.
	ErrExpired = errors.New("token expired")
	// ErrIssuedInFuture is an exported failure kind: iat is beyond the
	// tolerated clock skew.
	ErrIssuedInFuture = errors.New("token issued in the future")
	// ErrClaimInvalid is the base kind every ClaimError unwraps to.
	ErrClaimInvalid = errors.New("invalid claim")
	// ErrRevoked is the base kind every RevokedError unwraps to.
	ErrRevoked = errors.New("token revoked")
	// ErrRevocationUnavailable marks a revocation lookup that could not
	// complete. Validation fails closed on it.
	ErrRevocationUnavailable = errors.New("revocation check unavailable")
)

// ClaimError reports which claim failed standard or access-specific
// validation, so callers never have to parse error text.
type ClaimError struct {
	Claim  string
	Reason string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("invalid claim %q: %s", e.Claim, e.Reason)
}

func (e *ClaimError) Unwrap() error { return ErrClaimInvalid }

// RevokedError carries the revocation scope (token, user, session, tenant)
// that matched.
type RevokedError struct {
	Scope string
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("token revoked (scope %s)", e.Scope)
}

func (e *RevokedError) Unwrap() error { return ErrRevoked }
