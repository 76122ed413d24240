package session

import "time"

// Device describes the client a session was created from.
type Device struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	OS          string `json:"os,omitempty"`
	Browser     string `json:"browser,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// GeoLocation is a coarse resolved location for a session's IP.
type GeoLocation struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

const currentSchemaVersion = 1

// Session is the authenticated session record. Timestamps are unix
// seconds. A session id is never reused after termination or expiry.
type Session struct {
	SchemaVersion int          `json:"v"`
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	TenantID      string       `json:"tenant_id"`
	Device        Device       `json:"device"`
	IP            string       `json:"ip,omitempty"`
	Location      *GeoLocation `json:"location,omitempty"`
	CreatedAt     int64        `json:"created_at"`
	LastActivity  int64        `json:"last_activity"`
	ExpiresAt     int64        `json:"expires_at"`
	LastRenewedAt int64        `json:"last_renewed_at,omitempty"`
	Active        bool         `json:"active"`
	MFAVerified   bool         `json:"mfa_verified"`
}

func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}

// Country returns the resolved country or "" when no location is known.
func (s *Session) Country() string {
	if s.Location == nil {
		return ""
	}
	return s.Location.Country
}
