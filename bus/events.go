// Package bus publishes typed revocation and security events to an
// external message transport. The core only writes to the bus; nothing in
// this module consumes from it.
package bus

import "time"

// Subjects for revocation propagation. Stateless engine instances share no
// memory, so peers learn about revocations from these events plus the
// shared store.
const (
	SubjectTokenRevoked       = "authcore.revocation.token"
	SubjectUserTokensRevoked  = "authcore.revocation.user"
	SubjectSessionTerminated  = "authcore.revocation.session"
	SubjectTenantTokensRevoked = "authcore.revocation.tenant"
	SubjectSecurityEvent      = "authcore.security.event"
)

// Event is the wire model for everything the core publishes. EntityID
// holds the revoked entity (jti, user, session, or tenant id) for
// revocation subjects, and the session id for security subjects.
type Event struct {
	Type      string            `json:"type"`
	EntityID  string            `json:"entity_id"`
	UserID    string            `json:"user_id,omitempty"`
	TenantID  string            `json:"tenant_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Severity  string            `json:"severity,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}
