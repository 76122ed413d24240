// Package token issues and validates signed tokens. Validation is a strict
// ordered pipeline; every stage short-circuits with its own failure kind
// and later stages never run on input an earlier stage rejected.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/veridine/authcore/keys"
	"github.com/veridine/authcore/metrics"
)

const (
	defaultMaxTokenBytes = 8192
	defaultMaxFutureIAT  = 10 * time.Minute
)

// RevocationChecker is the revocation engine surface the validator needs.
// A lookup error means "unverifiable" and the pipeline fails closed.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti, userID, sessionID, tenantID string, issuedAt time.Time) (bool, string, error)
}

// Config controls issuance and validation.
type Config struct {
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ServiceTTL   time.Duration
	EphemeralTTL time.Duration
	// Leeway is the clock-skew tolerance applied to exp/iat/nbf.
	Leeway time.Duration
	// MaxFutureIAT bounds how far in the future an iat may claim to be
	// before the token is rejected outright.
	MaxFutureIAT  time.Duration
	MaxTokenBytes int
	// AllowedAlgorithms is the algorithm allow-list checked before any
	// cryptography runs. Defaults to EdDSA only.
	AllowedAlgorithms []string
}

// Engine signs and validates tokens. Immutable after construction.
type Engine struct {
	cfg         Config
	keys        keys.Provider
	revocations RevocationChecker
	metrics     *metrics.Metrics
}

// NewEngine validates the config and builds a token engine. revocations
// may be nil when the caller never requests revocation-checked validation.
func NewEngine(cfg Config, provider keys.Provider, revocations RevocationChecker, m *metrics.Metrics) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("key provider is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid token TTL configuration")
	}
	if cfg.ServiceTTL <= 0 {
		cfg.ServiceTTL = cfg.AccessTTL
	}
	if cfg.EphemeralTTL <= 0 {
		cfg.EphemeralTTL = 5 * time.Minute
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.MaxTokenBytes <= 0 {
		cfg.MaxTokenBytes = defaultMaxTokenBytes
	}
	if len(cfg.AllowedAlgorithms) == 0 {
		cfg.AllowedAlgorithms = []string{keys.AlgorithmEdDSA}
	}
	for _, alg := range cfg.AllowedAlgorithms {
		if strings.EqualFold(alg, "none") {
			return nil, errors.New(`"none" cannot be an allowed algorithm`)
		}
	}

	return &Engine{cfg: cfg, keys: provider, revocations: revocations, metrics: m}, nil
}

// IssueRequest describes one token to mint. TTL overrides the per-kind
// default when positive (negative values are accepted by tests to mint
// already-expired tokens).
type IssueRequest struct {
	Kind        Kind
	UserID      string
	TenantID    string
	SessionID   string
	DeviceID    string
	Scopes      []string
	Permissions []string
	TTL         time.Duration
}

// Issue signs a token of the requested kind. The signing key is selected
// by tenant (platform fallback) and its kid lands in the header so
// verification can resolve the matching public key without guessing.
func (e *Engine) Issue(req IssueRequest) (string, *Claims, error) {
	if req.UserID == "" || req.TenantID == "" {
		return "", nil, errors.New("user id and tenant id are required")
	}

	ttl := req.TTL
	if ttl == 0 {
		switch req.Kind {
		case KindAccess:
			ttl = e.cfg.AccessTTL
		case KindRefresh:
			ttl = e.cfg.RefreshTTL
		case KindService:
			ttl = e.cfg.ServiceTTL
		case KindEphemeral:
			ttl = e.cfg.EphemeralTTL
		default:
			return "", nil, fmt.Errorf("unknown token kind %q", req.Kind)
		}
	}

	jti, err := uuid.NewV7()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	claims := &Claims{
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		SessionID:   req.SessionID,
		DeviceID:    req.DeviceID,
		Kind:        req.Kind,
		Scopes:      req.Scopes,
		Permissions: req.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.cfg.Issuer,
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings{req.TenantID},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti.String(),
		},
	}
	if req.Kind == KindAccess {
		// Access validation requires the arrays to be present, not null.
		if claims.Scopes == nil {
			claims.Scopes = []string{}
		}
		if claims.Permissions == nil {
			claims.Permissions = []string{}
		}
	}

	sk, err := e.keys.SigningKey(req.TenantID)
	if err != nil {
		return "", nil, err
	}

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	t.Header["kid"] = sk.KeyID

	signed, err := t.SignedString(sk.PrivateKey)
	if err != nil {
		return "", nil, err
	}

	e.metrics.Inc(metrics.TokenIssued)
	return signed, claims, nil
}

type validateOptions struct {
	expectKind      Kind
	expectAudience  string
	checkRevocation bool
}

// ValidateOption tunes one Validate call.
type ValidateOption func(*validateOptions)

// WithExpectKind rejects tokens whose knd claim differs.
func WithExpectKind(kind Kind) ValidateOption {
	return func(o *validateOptions) { o.expectKind = kind }
}

// WithExpectAudience requires the token audience to contain the tenant.
func WithExpectAudience(tenantID string) ValidateOption {
	return func(o *validateOptions) { o.expectAudience = tenantID }
}

// WithRevocationCheck gates the final pipeline stage.
func WithRevocationCheck(enabled bool) ValidateOption {
	return func(o *validateOptions) { o.checkRevocation = enabled }
}

// Validate runs the full pipeline: size/structure, algorithm allow-list,
// signature, standard claims, access-specific claims, then the revocation
// gate. The first failing stage aborts with its distinct kind.
func (e *Engine) Validate(ctx context.Context, tokenStr string, opts ...ValidateOption) (*Claims, error) {
	started := time.Now()
	claims, err := e.validate(ctx, tokenStr, opts...)
	e.metrics.Observe(metrics.ValidateLatency, time.Since(started))
	if err != nil {
		e.metrics.Inc(metrics.TokenValidateFailure)
		return nil, err
	}
	e.metrics.Inc(metrics.TokenValidateSuccess)
	return claims, nil
}

func (e *Engine) validate(ctx context.Context, tokenStr string, opts ...ValidateOption) (*Claims, error) {
	var o validateOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Stage 1: size and structure. Nothing else runs on oversized or
	// malformed input.
	if len(tokenStr) > e.cfg.MaxTokenBytes {
		return nil, ErrTooLarge
	}
	segments := strings.Split(tokenStr, ".")
	if len(segments) != 3 || segments[0] == "" || segments[1] == "" {
		return nil, ErrMalformed
	}

	// Stage 2: algorithm allow-list, checked on the raw header before any
	// cryptography. Tokens claiming "none" never reach the verifier.
	alg, err := headerAlgorithm(segments[0])
	if err != nil {
		return nil, err
	}
	if !e.algorithmAllowed(alg) {
		return nil, ErrAlgorithmNotAllowed
	}

	// Stage 3 + 4: signature against the kid-resolved key, then standard
	// temporal and identity claims.
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(e.cfg.AllowedAlgorithms),
		jwt.WithIssuer(e.cfg.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if e.cfg.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(e.cfg.Leeway))
	}
	if o.expectAudience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(o.expectAudience))
	}

	parser := jwt.NewParser(parserOpts...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, e.resolveKey)
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" {
		return nil, &ClaimError{Claim: "sub", Reason: "empty"}
	}
	if claims.ID == "" {
		return nil, &ClaimError{Claim: "jti", Reason: "empty"}
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(time.Now().Add(e.cfg.MaxFutureIAT)) {
		return nil, ErrIssuedInFuture
	}
	if o.expectKind != "" && claims.Kind != o.expectKind {
		return nil, &ClaimError{Claim: "knd", Reason: fmt.Sprintf("expected %q, got %q", o.expectKind, claims.Kind)}
	}

	// Stage 5: access-token cross-checks of the redundant encoding.
	if claims.Kind == KindAccess {
		if claims.Scopes == nil {
			return nil, &ClaimError{Claim: "scopes", Reason: "missing"}
		}
		if claims.Permissions == nil {
			return nil, &ClaimError{Claim: "permissions", Reason: "missing"}
		}
		if claims.UserID != claims.Subject {
			return nil, &ClaimError{Claim: "uid", Reason: "does not match subject"}
		}
		if claims.TenantID != claims.Tenant() {
			return nil, &ClaimError{Claim: "tid", Reason: "does not match audience"}
		}
	}

	// Stage 6: revocation, only on tokens that passed everything above.
	if o.checkRevocation {
		if e.revocations == nil {
			return nil, ErrRevocationUnavailable
		}
		var issuedAt time.Time
		if claims.IssuedAt != nil {
			issuedAt = claims.IssuedAt.Time
		}
		revoked, scope, err := e.revocations.IsRevoked(ctx, claims.ID, claims.UserID, claims.SessionID, claims.TenantID, issuedAt)
		if err != nil {
			// Fail closed: an unverifiable token is an invalid token.
			return nil, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
		}
		if revoked {
			e.metrics.Inc(metrics.TokenRevokedHit)
			return nil, &RevokedError{Scope: scope}
		}
	}

	return claims, nil
}

// Introspect decodes claims WITHOUT verifying the signature or any claim.
// Audit and debug tooling only; never feed its output to an authorization
// decision.
func (e *Engine) Introspect(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (e *Engine) resolveKey(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, ErrUnknownKeyID
	}
	pub, ok := e.keys.PublicKey(kid)
	if !ok {
		return nil, ErrUnknownKeyID
	}
	return pub, nil
}

func (e *Engine) algorithmAllowed(alg string) bool {
	for _, allowed := range e.cfg.AllowedAlgorithms {
		if alg == allowed {
			return true
		}
	}
	return false
}

func headerAlgorithm(segment string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return "", ErrMalformed
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return "", ErrMalformed
	}
	if header.Alg == "" {
		return "", ErrAlgorithmNotAllowed
	}
	return header.Alg, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKeyID):
		return ErrUnknownKeyID
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrIssuedInFuture
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &ClaimError{Claim: "nbf", Reason: "token not valid yet"}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &ClaimError{Claim: "iss", Reason: "issuer mismatch"}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return &ClaimError{Claim: "aud", Reason: "audience mismatch"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}
