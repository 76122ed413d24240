// Package refresh issues, rotates, and tracks lineage of refresh tokens.
// Rotations of one login form a family; presenting an already-consumed or
// revoked member is treated as credential theft and burns the whole family.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veridine/authcore/bus"
	"github.com/veridine/authcore/internal"
	"github.com/veridine/authcore/metrics"
	"github.com/veridine/authcore/token"
)

// ErrReuseDetected is the distinct credential-theft signal, deliberately
// separate from a plain invalid-token failure so callers force a full
// re-authentication and alert the user.
var ErrReuseDetected = errors.New("refresh token reuse detected")

// Policy is the rotation decision table. It is data, not free-form logic.
type Policy struct {
	RotationEnabled       bool
	ReuseDetectionEnabled bool
	RevokeFamilyOnReuse   bool
}

// Validate rejects the one inconsistent row: revoking families on reuse
// requires reuse detection to exist. Rotation without detection is legal
// configuration; reuse simply goes unnoticed.
func (p Policy) Validate() error {
	if p.RevokeFamilyOnReuse && !p.ReuseDetectionEnabled {
		return errors.New("refresh policy: family revocation on reuse requires reuse detection")
	}
	return nil
}

// Engine is the refresh rotation engine. Immutable after construction.
type Engine struct {
	store   *Store
	policy  Policy
	pump    *bus.Pump
	metrics *metrics.Metrics
}

func NewEngine(policy Policy, store *Store, pump *bus.Pump, m *metrics.Metrics) (*Engine, error) {
	if store == nil {
		return nil, errors.New("refresh store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{store: store, policy: policy, pump: pump, metrics: m}, nil
}

// Policy returns the active decision table.
func (e *Engine) Policy() Policy { return e.policy }

// CreateFamily registers the first refresh token of a new login. The
// record's ParentID is empty, marking it the family root.
func (e *Engine) CreateFamily(ctx context.Context, tokenStr string, claims *token.Claims) (*Record, error) {
	familyID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	rec := recordFromClaims(claims, familyID.String(), "")
	ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
	if ttl <= 0 {
		return nil, errors.New("refresh token already expired")
	}

	fam := &Family{
		ID:        familyID.String(),
		UserID:    rec.UserID,
		TenantID:  rec.TenantID,
		CreatedAt: time.Now().Unix(),
		ExpiresAt: rec.ExpiresAt,
		Members:   []string{rec.TokenID},
	}
	if err := e.store.SaveFamily(ctx, fam, ttl); err != nil {
		return nil, err
	}
	if err := e.store.SaveRecord(ctx, internal.HashToken(tokenStr), rec, ttl); err != nil {
		return nil, err
	}

	return rec, nil
}

// Consume looks up and atomically consumes a presented refresh token.
// Order is fixed: lookup, reuse detection, then the single conditional
// mark-used write. Reuse burns the family before the error returns.
func (e *Engine) Consume(ctx context.Context, tokenStr string) (*Record, error) {
	hash := internal.HashToken(tokenStr)

	rec, err := e.store.GetRecord(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			e.metrics.Inc(metrics.RefreshFailure)
		}
		return nil, err
	}
	if rec.Expired(time.Now()) {
		e.metrics.Inc(metrics.RefreshFailure)
		return nil, ErrTokenNotFound
	}

	if e.policy.ReuseDetectionEnabled {
		famRevoked, err := e.store.IsFamilyRevoked(ctx, rec.FamilyID)
		if err != nil {
			return nil, err
		}
		if rec.Used || rec.Revoked || famRevoked {
			return nil, e.reuseDetected(ctx, rec)
		}
	}

	if e.policy.RotationEnabled {
		remaining := time.Until(time.Unix(rec.ExpiresAt, 0))
		won, err := e.store.TryMarkUsed(ctx, hash, remaining)
		if err != nil {
			return nil, err
		}
		if !won {
			// Lost the race: someone else consumed this exact token
			// between our lookup and the conditional write.
			if e.policy.ReuseDetectionEnabled {
				return nil, e.reuseDetected(ctx, rec)
			}
			return nil, ErrTokenNotFound
		}

		rec.Used = true
		if err := e.store.UpdateRecord(ctx, hash, rec); err != nil && !errors.Is(err, ErrTokenNotFound) {
			return nil, err
		}
	}

	e.metrics.Inc(metrics.RefreshSuccess)
	return rec, nil
}

// Rotate stores the successor token as a new family member with the
// consumed token as its parent. The consumed record stays in the store,
// marked used, so a later replay is recognized as reuse instead of
// vanishing into not-found.
func (e *Engine) Rotate(ctx context.Context, consumed *Record, newTokenStr string, newClaims *token.Claims) (*Record, error) {
	if !e.policy.RotationEnabled {
		return consumed, nil
	}

	rec := recordFromClaims(newClaims, consumed.FamilyID, consumed.TokenID)
	ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
	if ttl <= 0 {
		return nil, errors.New("rotated refresh token already expired")
	}

	if err := e.store.AppendMember(ctx, consumed.FamilyID, rec.TokenID, rec.ExpiresAt, ttl); err != nil {
		if errors.Is(err, ErrFamilyRevoked) {
			return nil, ErrReuseDetected
		}
		return nil, err
	}
	if err := e.store.SaveRecord(ctx, internal.HashToken(newTokenStr), rec, ttl); err != nil {
		return nil, err
	}

	return rec, nil
}

// RevokeFamily makes every member of a family permanently invalid.
func (e *Engine) RevokeFamily(ctx context.Context, familyID, reason string) error {
	ttl := time.Hour
	if fam, err := e.store.GetFamily(ctx, familyID); err == nil {
		if remaining := time.Until(time.Unix(fam.ExpiresAt, 0)); remaining > ttl {
			ttl = remaining
		}
	}

	if err := e.store.MarkFamilyRevoked(ctx, familyID, ttl); err != nil {
		return err
	}

	e.metrics.Inc(metrics.FamilyRevoked)
	e.pump.Emit(bus.SubjectSecurityEvent, bus.Event{
		Type:      "token_family_revoked",
		EntityID:  familyID,
		Reason:    reason,
		Severity:  "critical",
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// SweepExpiredFamilies removes family docs past expiry. Janitor path.
func (e *Engine) SweepExpiredFamilies(ctx context.Context) (int, error) {
	return e.store.SweepExpiredFamilies(ctx)
}

// Family exposes a family doc for audit surfaces.
func (e *Engine) Family(ctx context.Context, familyID string) (*Family, error) {
	return e.store.GetFamily(ctx, familyID)
}

func (e *Engine) reuseDetected(ctx context.Context, rec *Record) error {
	e.metrics.Inc(metrics.RefreshReuseDetected)

	if e.policy.RevokeFamilyOnReuse {
		if err := e.RevokeFamily(ctx, rec.FamilyID, "refresh token reuse"); err != nil {
			// Fail loud but still surface reuse: the caller must treat the
			// credential as stolen either way.
			return fmt.Errorf("%w (family revocation failed: %v)", ErrReuseDetected, err)
		}
	}

	e.pump.Emit(bus.SubjectSecurityEvent, bus.Event{
		Type:      "refresh_reuse_detected",
		EntityID:  rec.TokenID,
		UserID:    rec.UserID,
		TenantID:  rec.TenantID,
		SessionID: rec.SessionID,
		Severity:  "critical",
		Timestamp: time.Now().UTC(),
	})
	return ErrReuseDetected
}

func recordFromClaims(claims *token.Claims, familyID, parentID string) *Record {
	rec := &Record{
		TokenID:   claims.ID,
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		SessionID: claims.SessionID,
		DeviceID:  claims.DeviceID,
		FamilyID:  familyID,
		ParentID:  parentID,
	}
	if claims.IssuedAt != nil {
		rec.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		rec.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return rec
}
