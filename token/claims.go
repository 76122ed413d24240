package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the token families the engine issues. All kinds share
// the same wire format; jti values are unique across kinds.
type Kind string

const (
	// KindAccess is the short-lived bearer token validated on every request.
	KindAccess Kind = "access"
	// KindRefresh is the rotation-tracked token consumed by the refresh engine.
	KindRefresh Kind = "refresh"
	// KindService is a machine-to-machine token without a session.
	KindService Kind = "service"
	// KindEphemeral is a single-purpose short-lived action token.
	KindEphemeral Kind = "ephemeral"
)

// Claims is the payload of every token the engine signs. Subject duplicates
// UserID and the audience duplicates TenantID; validation cross-checks the
// redundant encoding.
type Claims struct {
	UserID      string   `json:"uid"`
	TenantID    string   `json:"tid"`
	SessionID   string   `json:"sid,omitempty"`
	DeviceID    string   `json:"did,omitempty"`
	Kind        Kind     `json:"knd"`
	Scopes      []string `json:"scopes"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Audience returns the single expected audience (tenant) of the claims, or
// "" when absent.
func (c *Claims) Tenant() string {
	if len(c.Audience) > 0 {
		return c.Audience[0]
	}
	return ""
}
