package session

import (
	"time"
)

// Severity grades a security event. Score is the additive contribution to
// the aggregate risk score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Score() int {
	switch s {
	case SeverityLow:
		return 10
	case SeverityMedium:
		return 25
	case SeverityHigh:
		return 50
	case SeverityCritical:
		return 100
	default:
		return 0
	}
}

// Security event types.
const (
	EventNewDevice        = "new_device"
	EventIPChange         = "ip_change"
	EventImpossibleTravel = "impossible_travel"
	EventDeviceChange     = "device_change"
	EventSessionHijack    = "session_hijack"
)

// SecurityEvent is produced by the detectors and consumed by alerting.
// It is ephemeral; nothing in the core persists it.
type SecurityEvent struct {
	Type      string
	Severity  Severity
	UserID    string
	SessionID string
	TenantID  string
	Timestamp time.Time
	Details   map[string]string
}

const maxRiskScore = 100

// impossibleTravelWindow is a deliberate hard threshold: a login from a
// different country within this window of the previous one is flagged.
// No distance or speed computation is attempted.
const impossibleTravelWindow = time.Hour

// AnalyzeNewSession compares a freshly created session against the user's
// recent session history and returns the findings plus an additive risk
// score capped at 100. History may arrive in any order; sessions from
// other devices are expected to interleave.
func AnalyzeNewSession(sess *Session, history []*Session) ([]SecurityEvent, int) {
	var events []SecurityEvent

	if ev, ok := detectImpossibleTravel(sess, history); ok {
		events = append(events, ev)
	}
	if ev, ok := detectNewDevice(sess, history); ok {
		events = append(events, ev)
	}
	if ev, ok := detectIPChange(sess, history); ok {
		events = append(events, ev)
	}

	score := 0
	for _, ev := range events {
		score += ev.Severity.Score()
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return events, score
}

func detectImpossibleTravel(sess *Session, history []*Session) (SecurityEvent, bool) {
	country := sess.Country()
	if country == "" {
		return SecurityEvent{}, false
	}

	// Most recent login from a different country.
	var last *Session
	for _, h := range history {
		if h.ID == sess.ID || h.Country() == "" || h.Country() == country {
			continue
		}
		if last == nil || h.CreatedAt > last.CreatedAt {
			last = h
		}
	}
	if last == nil {
		return SecurityEvent{}, false
	}

	gap := time.Duration(sess.CreatedAt-last.CreatedAt) * time.Second
	if gap < 0 || gap >= impossibleTravelWindow {
		return SecurityEvent{}, false
	}

	return newEvent(sess, EventImpossibleTravel, SeverityCritical, map[string]string{
		"previous_country": last.Country(),
		"current_country":  country,
		"gap_seconds":      itoa(int64(gap / time.Second)),
	}), true
}

func detectNewDevice(sess *Session, history []*Session) (SecurityEvent, bool) {
	fp := sess.Device.Fingerprint
	if fp == "" {
		return SecurityEvent{}, false
	}
	for _, h := range history {
		if h.ID != sess.ID && h.Device.Fingerprint == fp {
			return SecurityEvent{}, false
		}
	}
	if len(history) == 0 || (len(history) == 1 && history[0].ID == sess.ID) {
		// First session ever; nothing to compare against.
		return SecurityEvent{}, false
	}
	return newEvent(sess, EventNewDevice, SeverityMedium, map[string]string{
		"fingerprint": fp,
	}), true
}

func detectIPChange(sess *Session, history []*Session) (SecurityEvent, bool) {
	if sess.IP == "" {
		return SecurityEvent{}, false
	}

	var last *Session
	for _, h := range history {
		if h.ID == sess.ID || h.IP == "" {
			continue
		}
		if last == nil || h.CreatedAt > last.CreatedAt {
			last = h
		}
	}
	if last == nil || last.IP == sess.IP {
		return SecurityEvent{}, false
	}
	return newEvent(sess, EventIPChange, SeverityLow, map[string]string{
		"previous_ip": last.IP,
		"current_ip":  sess.IP,
	}), true
}

func newEvent(sess *Session, eventType string, severity Severity, details map[string]string) SecurityEvent {
	return SecurityEvent{
		Type:      eventType,
		Severity:  severity,
		UserID:    sess.UserID,
		SessionID: sess.ID,
		TenantID:  sess.TenantID,
		Timestamp: time.Now().UTC(),
		Details:   details,
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
