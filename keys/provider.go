// Package keys resolves signing and verification key material by key ID
// and tenant. Key provisioning and rotation policy live outside the core;
// this package only models the lookup contract and a static in-memory
// provider built from already-provisioned material.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AlgorithmEdDSA is the only signing algorithm the core issues tokens with.
const AlgorithmEdDSA = "EdDSA"

var (
	// ErrNoSigningKey is returned when neither a tenant key nor a
	// platform-wide fallback key is available.
	ErrNoSigningKey = errors.New("no signing key available")
)

// SigningKey is the resolved private key material for token issuance.
type SigningKey struct {
	KeyID      string
	Algorithm  string
	PrivateKey ed25519.PrivateKey
}

// Provider resolves key material. SigningKey selects by tenant with a
// platform-wide fallback; PublicKey locates verification material by the
// key ID carried in a token header.
type Provider interface {
	SigningKey(tenantID string) (SigningKey, error)
	PublicKey(keyID string) (ed25519.PublicKey, bool)
}

// KeyPair is the construction input for a StaticProvider entry. Private
// accepts a raw ed25519 seed/private key or PEM; Public is derived from
// Private when omitted.
type KeyPair struct {
	KeyID   string
	Private []byte
	Public  []byte
}

// StaticProvider is an immutable Provider over a fixed key set: one
// platform-wide pair plus optional per-tenant pairs. All material is
// validated at construction so lookups cannot fail on malformed keys.
type StaticProvider struct {
	platform SigningKey
	tenants  map[string]SigningKey
	verify   map[string]ed25519.PublicKey
}

// NewStaticProvider builds a StaticProvider from the platform pair and
// per-tenant pairs keyed by tenant ID.
func NewStaticProvider(platform KeyPair, tenantPairs map[string]KeyPair) (*StaticProvider, error) {
	p := &StaticProvider{
		tenants: make(map[string]SigningKey, len(tenantPairs)),
		verify:  make(map[string]ed25519.PublicKey, len(tenantPairs)+1),
	}

	sk, pub, err := parsePair(platform)
	if err != nil {
		return nil, fmt.Errorf("platform key: %w", err)
	}
	p.platform = sk
	p.verify[sk.KeyID] = pub

	for tenantID, pair := range tenantPairs {
		if strings.TrimSpace(tenantID) == "" {
			return nil, errors.New("tenant key map contains empty tenant id")
		}
		tsk, tpub, err := parsePair(pair)
		if err != nil {
			return nil, fmt.Errorf("tenant %q key: %w", tenantID, err)
		}
		if _, dup := p.verify[tsk.KeyID]; dup {
			return nil, fmt.Errorf("duplicate key id %q", tsk.KeyID)
		}
		p.tenants[tenantID] = tsk
		p.verify[tsk.KeyID] = tpub
	}

	return p, nil
}

// SigningKey returns the tenant's key when one is provisioned, otherwise
// the platform-wide key.
func (p *StaticProvider) SigningKey(tenantID string) (SigningKey, error) {
	if sk, ok := p.tenants[tenantID]; ok {
		return sk, nil
	}
	if len(p.platform.PrivateKey) == 0 {
		return SigningKey{}, ErrNoSigningKey
	}
	return p.platform, nil
}

// PublicKey returns the verification key registered under keyID.
func (p *StaticProvider) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	pub, ok := p.verify[keyID]
	return pub, ok
}

func parsePair(pair KeyPair) (SigningKey, ed25519.PublicKey, error) {
	if strings.TrimSpace(pair.KeyID) == "" {
		return SigningKey{}, nil, errors.New("empty key id")
	}

	priv, err := parsePrivate(pair.Private)
	if err != nil {
		return SigningKey{}, nil, err
	}

	var pub ed25519.PublicKey
	if len(pair.Public) > 0 {
		pub, err = parsePublic(pair.Public)
		if err != nil {
			return SigningKey{}, nil, err
		}
	} else {
		pub = priv.Public().(ed25519.PublicKey)
	}

	return SigningKey{
		KeyID:      pair.KeyID,
		Algorithm:  AlgorithmEdDSA,
		PrivateKey: priv,
	}, pub, nil
}

func parsePrivate(key []byte) (ed25519.PrivateKey, error) {
	switch len(key) {
	case 0:
		return nil, errors.New("missing private key")
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	}

	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parsePublic(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

// GenerateKeyPair creates a fresh random Ed25519 pair under the given key
// ID. Intended for tests and local development, not production key
// management.
func GenerateKeyPair(keyID string) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{KeyID: keyID, Private: priv, Public: pub}, nil
}
