package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strings"
)

// SessionID is a 128-bit random identifier. The string form is compact
// base64url without padding.
type SessionID [16]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// HashToken derives the store key for a presented token. Token values are
// never persisted verbatim; only this hash reaches a store.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// HashFingerprint hashes a device fingerprint for binding comparison and
// trusted-device matching.
func HashFingerprint(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

var backupCodeAlphabet = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewBackupCode generates a backup code of the requested length in the
// canonical XXXX-XXXX grouping. length counts code characters, not dashes.
func NewBackupCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	encoded := backupCodeAlphabet.EncodeToString(raw)[:length]

	var b strings.Builder
	b.Grow(length + length/4)
	for i, r := range encoded {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// CanonicalizeBackupCode strips grouping dashes and whitespace and
// upper-cases the code so hashing is presentation-independent.
func CanonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "")
}

// HashBackupCode hashes a canonical backup code salted with the owning
// user ID so identical codes across users never collide in storage.
func HashBackupCode(userID, canonicalCode string) [32]byte {
	return sha256.Sum256([]byte(userID + ":" + canonicalCode))
}
