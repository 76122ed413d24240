package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veridine/authcore/metrics"
	"github.com/veridine/authcore/token"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, "rt")
}

func testRefreshEngine(t *testing.T, policy Policy) *Engine {
	t.Helper()

	engine, err := NewEngine(policy, testStore(t), nil, metrics.New(metrics.Config{Enabled: true}))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func fullPolicy() Policy {
	return Policy{RotationEnabled: true, ReuseDetectionEnabled: true, RevokeFamilyOnReuse: true}
}

func refreshClaims(t *testing.T, userID string) *token.Claims {
	t.Helper()

	jti, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid failed: %v", err)
	}
	now := time.Now()
	return &token.Claims{
		UserID:    userID,
		TenantID:  "t1",
		SessionID: "s1",
		Kind:      token.KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestPolicyValidate(t *testing.T) {
	bad := Policy{RotationEnabled: true, RevokeFamilyOnReuse: true}
	if err := bad.Validate(); err == nil {
		t.Fatal("family revocation without reuse detection must be rejected")
	}
	ok := Policy{RotationEnabled: true}
	if err := ok.Validate(); err != nil {
		t.Fatalf("rotation without detection must be legal: %v", err)
	}
}

func TestCreateFamilyRoot(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())
	ctx := context.Background()

	rec, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	if rec.ParentID != "" {
		t.Fatalf("root record must have empty parent, got %q", rec.ParentID)
	}

	fam, err := engine.Family(ctx, rec.FamilyID)
	if err != nil {
		t.Fatalf("Family failed: %v", err)
	}
	if len(fam.Members) != 1 || fam.Members[0] != rec.TokenID {
		t.Fatalf("family members wrong: %v", fam.Members)
	}
}

func TestConsumeRotateChain(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())
	ctx := context.Background()

	r0, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	consumed, err := engine.Consume(ctx, "token-r0")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if consumed.TokenID != r0.TokenID {
		t.Fatalf("consumed wrong record: %s", consumed.TokenID)
	}

	r1, err := engine.Rotate(ctx, consumed, "token-r1", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if r1.ParentID != r0.TokenID {
		t.Fatalf("rotation lineage broken: parent %q, want %q", r1.ParentID, r0.TokenID)
	}
	if r1.FamilyID != r0.FamilyID {
		t.Fatal("rotation must stay inside the family")
	}

	fam, err := engine.Family(ctx, r0.FamilyID)
	if err != nil {
		t.Fatalf("Family failed: %v", err)
	}
	if len(fam.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(fam.Members))
	}
}

func TestReplayBurnsFamily(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())
	ctx := context.Background()

	r0, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	consumed, err := engine.Consume(ctx, "token-r0")
	if err != nil {
		t.Fatalf("first Consume failed: %v", err)
	}
	if _, err := engine.Rotate(ctx, consumed, "token-r1", refreshClaims(t, "u1")); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	// Replay of the consumed token is the theft signal.
	if _, err := engine.Consume(ctx, "token-r0"); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected on replay, got %v", err)
	}

	// The legitimate successor is now burned with the rest of the family.
	if _, err := engine.Consume(ctx, "token-r1"); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected successor to be burned, got %v", err)
	}

	revoked, err := engine.store.IsFamilyRevoked(ctx, r0.FamilyID)
	if err != nil {
		t.Fatalf("IsFamilyRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("family must be revoked after reuse")
	}
}

func TestReuseWithoutFamilyRevocation(t *testing.T) {
	engine := testRefreshEngine(t, Policy{RotationEnabled: true, ReuseDetectionEnabled: true})
	ctx := context.Background()

	r0, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	consumed, err := engine.Consume(ctx, "token-r0")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if _, err := engine.Rotate(ctx, consumed, "token-r1", refreshClaims(t, "u1")); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	if _, err := engine.Consume(ctx, "token-r0"); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	// Detection without family revocation: the successor stays usable.
	if _, err := engine.Consume(ctx, "token-r1"); err != nil {
		t.Fatalf("successor must survive when family revocation is off: %v", err)
	}
	revoked, _ := engine.store.IsFamilyRevoked(ctx, r0.FamilyID)
	if revoked {
		t.Fatal("family must not be revoked when the policy says so")
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())
	ctx := context.Background()

	if _, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1")); err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		reuses  int
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Consume(ctx, "token-r0")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrReuseDetected):
				reuses++
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d (reuses %d)", winners, reuses)
	}
	if winners+reuses != workers {
		t.Fatalf("lost outcomes: winners %d + reuses %d != %d", winners, reuses, workers)
	}
}

func TestConsumeUnknownToken(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())

	if _, err := engine.Consume(context.Background(), "never-issued"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRotateIntoRevokedFamily(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())
	ctx := context.Background()

	r0, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	consumed, err := engine.Consume(ctx, "token-r0")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if err := engine.RevokeFamily(ctx, r0.FamilyID, "admin action"); err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}

	if _, err := engine.Rotate(ctx, consumed, "token-r1", refreshClaims(t, "u1")); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("rotation into a revoked family must fail as reuse, got %v", err)
	}
}

func TestRevokedFamilyRejectsUnusedMember(t *testing.T) {
	engine := testRefreshEngine(t, fullPolicy())
	ctx := context.Background()

	r0, err := engine.CreateFamily(ctx, "token-r0", refreshClaims(t, "u1"))
	if err != nil {
		t.Fatalf("CreateFamily failed: %v", err)
	}
	if err := engine.RevokeFamily(ctx, r0.FamilyID, "logout all"); err != nil {
		t.Fatalf("RevokeFamily failed: %v", err)
	}

	// Even a never-used member is invalid once the family flag is set.
	if _, err := engine.Consume(ctx, "token-r0"); !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected for revoked family member, got %v", err)
	}
}

func TestSweepExpiredFamilies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewStore(client, "rt")
	ctx := context.Background()

	live := &Family{ID: "f-live", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	dead := &Family{ID: "f-dead", ExpiresAt: time.Now().Add(-time.Hour).Unix()}
	if err := store.SaveFamily(ctx, live, time.Hour); err != nil {
		t.Fatalf("SaveFamily failed: %v", err)
	}
	if err := store.SaveFamily(ctx, dead, time.Hour); err != nil {
		t.Fatalf("SaveFamily failed: %v", err)
	}

	removed, err := store.SweepExpiredFamilies(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredFamilies failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 swept family, got %d", removed)
	}
	if _, err := store.GetFamily(ctx, "f-live"); err != nil {
		t.Fatalf("live family must survive sweep: %v", err)
	}
	if _, err := store.GetFamily(ctx, "f-dead"); !errors.Is(err, ErrFamilyNotFound) {
		t.Fatalf("dead family must be gone, got %v", err)
	}
}
