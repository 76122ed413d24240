package session

// HijackAction is what the caller must do with the request that triggered
// a mid-session change.
type HijackAction int

const (
	// ActionAllow lets the request proceed (possibly after updating the
	// session's recorded attributes).
	ActionAllow HijackAction = iota
	// ActionChallenge requires a step-up verification before proceeding.
	ActionChallenge
	// ActionTerminate ends the session immediately.
	ActionTerminate
)

func (a HijackAction) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionChallenge:
		return "challenge"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// ActivityContext carries the attributes of an in-flight request checked
// against a live session.
type ActivityContext struct {
	IP        string
	UserAgent string
}

// ActivityFinding is the outcome of a mid-session consistency check.
type ActivityFinding struct {
	Action HijackAction
	Event  *SecurityEvent
}

// CheckActivity compares a request against the session's recorded IP and
// user agent. A lone IP change is common enough (mobile networks, VPNs)
// to rate only a challenge; a user-agent change mid-session is not
// something a legitimate client does, and both changing together is
// treated as a hijacked session.
func CheckActivity(sess *Session, act ActivityContext) ActivityFinding {
	ipChanged := act.IP != "" && sess.IP != "" && act.IP != sess.IP
	uaChanged := act.UserAgent != "" && sess.Device.UserAgent != "" && act.UserAgent != sess.Device.UserAgent

	switch {
	case ipChanged && uaChanged:
		ev := newEvent(sess, EventSessionHijack, SeverityCritical, map[string]string{
			"previous_ip": sess.IP,
			"current_ip":  act.IP,
			"previous_ua": sess.Device.UserAgent,
			"current_ua":  act.UserAgent,
		})
		return ActivityFinding{Action: ActionTerminate, Event: &ev}
	case uaChanged:
		ev := newEvent(sess, EventDeviceChange, SeverityCritical, map[string]string{
			"previous_ua": sess.Device.UserAgent,
			"current_ua":  act.UserAgent,
		})
		return ActivityFinding{Action: ActionTerminate, Event: &ev}
	case ipChanged:
		ev := newEvent(sess, EventIPChange, SeverityHigh, map[string]string{
			"previous_ip": sess.IP,
			"current_ip":  act.IP,
		})
		return ActivityFinding{Action: ActionChallenge, Event: &ev}
	default:
		return ActivityFinding{Action: ActionAllow}
	}
}
