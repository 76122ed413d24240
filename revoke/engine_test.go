package revoke

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/veridine/authcore/metrics"
)

func testRevokeEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	engine, err := NewEngine(Config{}, client, nil, metrics.New(metrics.Config{Enabled: true}))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, mr
}

func mustNotRevoked(t *testing.T, e *Engine, jti, userID, sessionID, tenantID string, issuedAt time.Time) {
	t.Helper()
	revoked, scope, err := e.IsRevoked(context.Background(), jti, userID, sessionID, tenantID, issuedAt)
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatalf("unexpected revocation, scope %s", scope)
	}
}

func mustRevoked(t *testing.T, e *Engine, jti, userID, sessionID, tenantID string, issuedAt time.Time, wantScope string) {
	t.Helper()
	revoked, scope, err := e.IsRevoked(context.Background(), jti, userID, sessionID, tenantID, issuedAt)
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatalf("expected revocation in scope %s", wantScope)
	}
	if scope != wantScope {
		t.Fatalf("expected scope %s, got %s", wantScope, scope)
	}
}

func TestRevokeTokenDenyList(t *testing.T) {
	engine, mr := testRevokeEngine(t)
	ctx := context.Background()
	issued := time.Now()

	mustNotRevoked(t, engine, "jti-1", "u1", "", "t1", issued)

	if err := engine.RevokeToken(ctx, "jti-1", 10*time.Minute, "logout"); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	mustRevoked(t, engine, "jti-1", "u1", "", "t1", issued, ScopeToken)

	// Other tokens are untouched.
	mustNotRevoked(t, engine, "jti-2", "u1", "", "t1", issued)

	// The deny-list entry expires with the token.
	mr.FastForward(11 * time.Minute)
	mustNotRevoked(t, engine, "jti-1", "u1", "", "t1", issued)
}

func TestRevokeTokenExpiredIsNoOp(t *testing.T) {
	engine, _ := testRevokeEngine(t)

	if err := engine.RevokeToken(context.Background(), "jti-1", -time.Minute, "late"); err != nil {
		t.Fatalf("RevokeToken with no remaining lifetime must be a no-op: %v", err)
	}
	mustNotRevoked(t, engine, "jti-1", "u1", "", "t1", time.Now())
}

func TestUserCutoff(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	cutoff := time.Now()

	if err := engine.RevokeUserTokens(ctx, "t1", "u1", cutoff, "password change"); err != nil {
		t.Fatalf("RevokeUserTokens failed: %v", err)
	}

	// Issued at or before the cutoff: revoked.
	mustRevoked(t, engine, "jti-old", "u1", "", "t1", cutoff.Add(-time.Minute), ScopeUser)
	mustRevoked(t, engine, "jti-edge", "u1", "", "t1", cutoff, ScopeUser)

	// Issued after: passes.
	mustNotRevoked(t, engine, "jti-new", "u1", "", "t1", cutoff.Add(2*time.Second))

	// Other users in the tenant are untouched.
	mustNotRevoked(t, engine, "jti-x", "u2", "", "t1", cutoff.Add(-time.Minute))
}

func TestUserCutoffIsMonotonic(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	newer := time.Now()
	older := newer.Add(-time.Hour)

	if err := engine.RevokeUserTokens(ctx, "t1", "u1", newer, "first"); err != nil {
		t.Fatalf("RevokeUserTokens failed: %v", err)
	}
	// A later write with an older cutoff must not rewind the first one.
	if err := engine.RevokeUserTokens(ctx, "t1", "u1", older, "stale"); err != nil {
		t.Fatalf("RevokeUserTokens failed: %v", err)
	}

	mustRevoked(t, engine, "jti", "u1", "", "t1", older.Add(time.Minute), ScopeUser)
}

func TestClearUserRevocation(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	cutoff := time.Now()

	if err := engine.RevokeUserTokens(ctx, "t1", "u1", cutoff, "lockout"); err != nil {
		t.Fatalf("RevokeUserTokens failed: %v", err)
	}
	mustRevoked(t, engine, "jti", "u1", "", "t1", cutoff.Add(-time.Minute), ScopeUser)

	if err := engine.ClearUserRevocation(ctx, "t1", "u1"); err != nil {
		t.Fatalf("ClearUserRevocation failed: %v", err)
	}
	mustNotRevoked(t, engine, "jti", "u1", "", "t1", cutoff.Add(-time.Minute))
}

func TestSessionFlag(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	issued := time.Now()

	if err := engine.RevokeSessionTokens(ctx, "s1", time.Hour, "hijack"); err != nil {
		t.Fatalf("RevokeSessionTokens failed: %v", err)
	}

	mustRevoked(t, engine, "jti-1", "u1", "s1", "t1", issued, ScopeSession)
	// Tokens without a session binding never match the session scope.
	mustNotRevoked(t, engine, "jti-2", "u1", "", "t1", issued)
	mustNotRevoked(t, engine, "jti-3", "u1", "s2", "t1", issued)
}

func TestTenantCutoff(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	cutoff := time.Now()

	if err := engine.RevokeTenantTokens(ctx, "t1", cutoff, "tenant offboarded"); err != nil {
		t.Fatalf("RevokeTenantTokens failed: %v", err)
	}

	mustRevoked(t, engine, "jti", "u1", "", "t1", cutoff.Add(-time.Minute), ScopeTenant)
	mustRevoked(t, engine, "jti", "u-any", "", "t1", cutoff, ScopeTenant)
	mustNotRevoked(t, engine, "jti", "u1", "", "t1", cutoff.Add(2*time.Second))
	mustNotRevoked(t, engine, "jti", "u1", "", "t2", cutoff.Add(-time.Minute))

	if err := engine.ClearTenantRevocation(ctx, "t1"); err != nil {
		t.Fatalf("ClearTenantRevocation failed: %v", err)
	}
	mustNotRevoked(t, engine, "jti", "u1", "", "t1", cutoff.Add(-time.Minute))
}

func TestScopePrecedence(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	issued := time.Now().Add(-time.Minute)

	if err := engine.RevokeToken(ctx, "jti-1", time.Hour, "x"); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if err := engine.RevokeUserTokens(ctx, "t1", "u1", time.Now(), "x"); err != nil {
		t.Fatalf("RevokeUserTokens failed: %v", err)
	}

	// Token scope reports first when several match.
	mustRevoked(t, engine, "jti-1", "u1", "", "t1", issued, ScopeToken)
	mustRevoked(t, engine, "jti-2", "u1", "", "t1", issued, ScopeUser)
}

func TestEmptyTenantNormalization(t *testing.T) {
	engine, _ := testRevokeEngine(t)
	ctx := context.Background()
	cutoff := time.Now()

	if err := engine.RevokeUserTokens(ctx, "", "u1", cutoff, "single-tenant"); err != nil {
		t.Fatalf("RevokeUserTokens failed: %v", err)
	}
	mustRevoked(t, engine, "jti", "u1", "", "", cutoff.Add(-time.Minute), ScopeUser)
}
