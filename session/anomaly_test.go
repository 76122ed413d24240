package session

import (
	"testing"
	"time"
)

func histSession(id, fp, ip, country string, createdAt time.Time) *Session {
	s := &Session{
		ID:        id,
		UserID:    "u1",
		TenantID:  "t1",
		IP:        ip,
		Device:    Device{Fingerprint: fp},
		CreatedAt: createdAt.Unix(),
	}
	if country != "" {
		s.Location = &GeoLocation{Country: country}
	}
	return s
}

func findEvent(events []SecurityEvent, eventType string) *SecurityEvent {
	for i := range events {
		if events[i].Type == eventType {
			return &events[i]
		}
	}
	return nil
}

func TestFirstSessionIsClean(t *testing.T) {
	now := time.Now()
	sess := histSession("s1", "fp-1", "203.0.113.10", "DE", now)

	events, score := AnalyzeNewSession(sess, nil)
	if len(events) != 0 || score != 0 {
		t.Fatalf("first session must not trigger anomalies: %v score %d", events, score)
	}
}

func TestKnownDeviceSameIPIsClean(t *testing.T) {
	now := time.Now()
	prev := histSession("s0", "fp-1", "203.0.113.10", "DE", now.Add(-time.Hour))
	sess := histSession("s1", "fp-1", "203.0.113.10", "DE", now)

	events, score := AnalyzeNewSession(sess, []*Session{prev})
	if len(events) != 0 || score != 0 {
		t.Fatalf("unchanged context must be clean: %v score %d", events, score)
	}
}

func TestNewDeviceScoresMedium(t *testing.T) {
	now := time.Now()
	prev := histSession("s0", "fp-1", "203.0.113.10", "DE", now.Add(-24*time.Hour))
	sess := histSession("s1", "fp-2", "203.0.113.10", "DE", now)

	events, score := AnalyzeNewSession(sess, []*Session{prev})
	ev := findEvent(events, EventNewDevice)
	if ev == nil {
		t.Fatalf("expected new_device event, got %v", events)
	}
	if ev.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s", ev.Severity)
	}
	if score != 25 {
		t.Fatalf("expected score 25, got %d", score)
	}
}

func TestIPChangeScoresLow(t *testing.T) {
	now := time.Now()
	prev := histSession("s0", "fp-1", "203.0.113.10", "DE", now.Add(-24*time.Hour))
	sess := histSession("s1", "fp-1", "198.51.100.7", "DE", now)

	events, score := AnalyzeNewSession(sess, []*Session{prev})
	if findEvent(events, EventIPChange) == nil {
		t.Fatalf("expected ip_change event, got %v", events)
	}
	if score != 10 {
		t.Fatalf("expected score 10, got %d", score)
	}
}

func TestImpossibleTravel(t *testing.T) {
	now := time.Now()
	prev := histSession("s0", "fp-1", "203.0.113.10", "DE", now.Add(-30*time.Minute))
	sess := histSession("s1", "fp-1", "198.51.100.7", "JP", now)

	events, score := AnalyzeNewSession(sess, []*Session{prev})
	ev := findEvent(events, EventImpossibleTravel)
	if ev == nil {
		t.Fatalf("expected impossible_travel, got %v", events)
	}
	if ev.Severity != SeverityCritical {
		t.Fatalf("expected critical, got %s", ev.Severity)
	}
	if ev.Details["previous_country"] != "DE" || ev.Details["current_country"] != "JP" {
		t.Fatalf("wrong travel details: %v", ev.Details)
	}
	// ip_change also fires; the aggregate caps at 100.
	if score != 100 {
		t.Fatalf("expected capped score 100, got %d", score)
	}
}

func TestCountryChangeOutsideWindowIsNotTravel(t *testing.T) {
	now := time.Now()
	prev := histSession("s0", "fp-1", "203.0.113.10", "DE", now.Add(-2*time.Hour))
	sess := histSession("s1", "fp-1", "203.0.113.10", "JP", now)

	events, _ := AnalyzeNewSession(sess, []*Session{prev})
	if findEvent(events, EventImpossibleTravel) != nil {
		t.Fatal("country change outside the window must not flag travel")
	}
}

func TestHijackBothChangedTerminates(t *testing.T) {
	sess := boundSession()
	sess.Device.UserAgent = "ua-1"

	finding := CheckActivity(sess, ActivityContext{IP: "198.51.100.7", UserAgent: "ua-2"})
	if finding.Action != ActionTerminate {
		t.Fatalf("expected terminate, got %s", finding.Action)
	}
	if finding.Event == nil || finding.Event.Type != EventSessionHijack {
		t.Fatalf("expected session_hijack event, got %+v", finding.Event)
	}
	if finding.Event.Severity != SeverityCritical {
		t.Fatalf("expected critical, got %s", finding.Event.Severity)
	}
}

func TestHijackUserAgentOnlyTerminates(t *testing.T) {
	sess := boundSession()
	sess.Device.UserAgent = "ua-1"

	finding := CheckActivity(sess, ActivityContext{IP: sess.IP, UserAgent: "ua-2"})
	if finding.Action != ActionTerminate {
		t.Fatalf("expected terminate, got %s", finding.Action)
	}
	if finding.Event == nil || finding.Event.Type != EventDeviceChange {
		t.Fatalf("expected device_change event, got %+v", finding.Event)
	}
}

func TestHijackIPOnlyChallenges(t *testing.T) {
	sess := boundSession()
	sess.Device.UserAgent = "ua-1"

	finding := CheckActivity(sess, ActivityContext{IP: "198.51.100.7", UserAgent: "ua-1"})
	if finding.Action != ActionChallenge {
		t.Fatalf("expected challenge, got %s", finding.Action)
	}
	if finding.Event == nil || finding.Event.Severity != SeverityHigh {
		t.Fatalf("expected high severity ip_change, got %+v", finding.Event)
	}
}

func TestHijackUnchangedAllows(t *testing.T) {
	sess := boundSession()
	sess.Device.UserAgent = "ua-1"

	finding := CheckActivity(sess, ActivityContext{IP: sess.IP, UserAgent: "ua-1"})
	if finding.Action != ActionAllow || finding.Event != nil {
		t.Fatalf("expected clean allow, got %+v", finding)
	}
}
