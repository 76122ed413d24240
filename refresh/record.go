package refresh

import "time"

// Record tracks one refresh token. The token value itself is never stored;
// records are keyed by the sha256 of the presented token so a store
// compromise does not leak usable credentials.
type Record struct {
	TokenID   string `json:"token_id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id,omitempty"`
	FamilyID  string `json:"family_id"`
	// ParentID is empty only for the first token of a family.
	ParentID  string `json:"parent_id,omitempty"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Used      bool   `json:"used"`
	Revoked   bool   `json:"revoked"`
}

func (r *Record) Expired(now time.Time) bool {
	return now.Unix() >= r.ExpiresAt
}

// Family is one unbroken chain of rotations starting at login. Once
// revoked, every member is permanently invalid and no member can be added.
type Family struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	TenantID  string   `json:"tenant_id"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at"`
	Members   []string `json:"members"`
	Revoked   bool     `json:"revoked"`
}
