package session

import (
	"errors"
	"sort"
)

var errInvalidOverflow = errors.New("session policy: unknown overflow strategy")

// OverflowStrategy decides what happens when a user hits the concurrent
// session cap.
type OverflowStrategy int

const (
	// RejectNew refuses the new session outright.
	RejectNew OverflowStrategy = iota
	// EvictOldest terminates the oldest session by creation time.
	EvictOldest
	// EvictLeastActive terminates the session idle the longest.
	EvictLeastActive
)

func (s OverflowStrategy) Valid() bool {
	return s >= RejectNew && s <= EvictLeastActive
}

// Policy caps concurrent sessions per user. MaxPerUser <= 0 means
// unlimited. Exclusive forces a single session per user; DeviceExclusive
// forces a single session per device fingerprint.
type Policy struct {
	MaxPerUser      int
	Overflow        OverflowStrategy
	Exclusive       bool
	DeviceExclusive bool
}

func (p Policy) Validate() error {
	if !p.Overflow.Valid() {
		return errInvalidOverflow
	}
	return nil
}

// Evictees returns the existing sessions that must be terminated before
// the new session may be created, or rejected=true when the policy says
// to refuse the new session instead.
func (p Policy) Evictees(existing []*Session, incoming *Session) (evict []*Session, rejected bool) {
	if p.Exclusive {
		return existing, false
	}

	if p.DeviceExclusive && incoming.Device.Fingerprint != "" {
		for _, s := range existing {
			if s.Device.Fingerprint == incoming.Device.Fingerprint {
				evict = append(evict, s)
			}
		}
	}

	if p.MaxPerUser <= 0 {
		return evict, false
	}

	remaining := make([]*Session, 0, len(existing))
	for _, s := range existing {
		if !contains(evict, s.ID) {
			remaining = append(remaining, s)
		}
	}
	over := len(remaining) + 1 - p.MaxPerUser
	if over <= 0 {
		return evict, false
	}

	switch p.Overflow {
	case RejectNew:
		return nil, true
	case EvictOldest:
		sort.Slice(remaining, func(i, j int) bool {
			return remaining[i].CreatedAt < remaining[j].CreatedAt
		})
	case EvictLeastActive:
		sort.Slice(remaining, func(i, j int) bool {
			return remaining[i].LastActivity < remaining[j].LastActivity
		})
	}
	if over > len(remaining) {
		over = len(remaining)
	}
	return append(evict, remaining[:over]...), false
}

func contains(sessions []*Session, id string) bool {
	for _, s := range sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}
