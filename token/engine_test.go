package token

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/veridine/authcore/keys"
)

type stubRevocations struct {
	revoked bool
	scope   string
	err     error
	calls   int
}

func (s *stubRevocations) IsRevoked(context.Context, string, string, string, string, time.Time) (bool, string, error) {
	s.calls++
	return s.revoked, s.scope, s.err
}

func testEngine(t *testing.T, rev RevocationChecker) *Engine {
	t.Helper()

	pair, err := keys.GenerateKeyPair("test-key-1")
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	provider, err := keys.NewStaticProvider(pair, nil)
	if err != nil {
		t.Fatalf("NewStaticProvider failed: %v", err)
	}

	engine, err := NewEngine(Config{
		Issuer:     "authcore-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Leeway:     5 * time.Second,
	}, provider, rev, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func issueAccess(t *testing.T, e *Engine) (string, *Claims) {
	t.Helper()
	signed, claims, err := e.Issue(IssueRequest{
		Kind:     KindAccess,
		UserID:   "u1",
		TenantID: "t1",
		Scopes:   []string{"read"},
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return signed, claims
}

func TestIssueValidateRoundTrip(t *testing.T) {
	engine := testEngine(t, nil)
	signed, issued := issueAccess(t, engine)

	claims, err := engine.Validate(context.Background(), signed, WithExpectKind(KindAccess))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != issued.UserID || claims.TenantID != issued.TenantID {
		t.Fatalf("claims changed in transit: %+v", claims)
	}
	if claims.ID != issued.ID {
		t.Fatalf("jti changed: %s != %s", claims.ID, issued.ID)
	}
	if claims.Subject != claims.UserID {
		t.Fatal("subject must equal user id")
	}
}

func TestValidateRejectsMalformedInput(t *testing.T) {
	engine := testEngine(t, nil)

	for _, input := range []string{"", "abc", "a.b", "a.b.c.d", "..."} {
		if _, err := engine.Validate(context.Background(), input); !errors.Is(err, ErrMalformed) {
			t.Fatalf("input %q: expected ErrMalformed, got %v", input, err)
		}
	}
}

func TestValidateRejectsOversizedToken(t *testing.T) {
	engine := testEngine(t, nil)

	huge := strings.Repeat("a", 9000) + "." + strings.Repeat("b", 100) + ".c"
	if _, err := engine.Validate(context.Background(), huge); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestValidateRejectsAlgorithmNone(t *testing.T) {
	engine := testEngine(t, nil)
	signed, _ := issueAccess(t, engine)
	parts := strings.Split(signed, ".")

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	forged := header + "." + parts[1] + "."
	if _, err := engine.Validate(context.Background(), forged); !errors.Is(err, ErrAlgorithmNotAllowed) {
		t.Fatalf("expected ErrAlgorithmNotAllowed, got %v", err)
	}

	// Same for any algorithm outside the allow-list.
	header = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	forged = header + "." + parts[1] + "." + parts[2]
	if _, err := engine.Validate(context.Background(), forged); !errors.Is(err, ErrAlgorithmNotAllowed) {
		t.Fatalf("expected ErrAlgorithmNotAllowed, got %v", err)
	}
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	engine := testEngine(t, nil)
	signed, _ := issueAccess(t, engine)

	tampered := signed[:len(signed)-4] + "AAAA"
	if tampered == signed {
		tampered = signed[:len(signed)-4] + "BBBB"
	}
	if _, err := engine.Validate(context.Background(), tampered); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestValidateRejectsUnknownKeyID(t *testing.T) {
	issuer := testEngine(t, nil)
	verifier := testEngine(t, nil) // different key pair, different kid map

	signed, _ := issueAccess(t, issuer)
	if _, err := verifier.Validate(context.Background(), signed); !errors.Is(err, ErrUnknownKeyID) {
		t.Fatalf("expected ErrUnknownKeyID, got %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	engine := testEngine(t, nil)

	signed, _, err := engine.Issue(IssueRequest{
		Kind:     KindAccess,
		UserID:   "u1",
		TenantID: "t1",
		TTL:      -time.Hour,
	})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := engine.Validate(context.Background(), signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateRejectsWrongKind(t *testing.T) {
	engine := testEngine(t, nil)
	signed, _ := issueAccess(t, engine)

	_, err := engine.Validate(context.Background(), signed, WithExpectKind(KindRefresh))
	if !errors.Is(err, ErrClaimInvalid) {
		t.Fatalf("expected ErrClaimInvalid, got %v", err)
	}
	var ce *ClaimError
	if !errors.As(err, &ce) || ce.Claim != "knd" {
		t.Fatalf("expected knd claim error, got %v", err)
	}
}

func TestValidateAudienceMismatch(t *testing.T) {
	engine := testEngine(t, nil)
	signed, _ := issueAccess(t, engine)

	if _, err := engine.Validate(context.Background(), signed, WithExpectAudience("t1")); err != nil {
		t.Fatalf("matching audience failed: %v", err)
	}
	if _, err := engine.Validate(context.Background(), signed, WithExpectAudience("t2")); !errors.Is(err, ErrClaimInvalid) {
		t.Fatalf("expected ErrClaimInvalid, got %v", err)
	}
}

func TestRevocationGate(t *testing.T) {
	rev := &stubRevocations{}
	engine := testEngine(t, rev)
	signed, _ := issueAccess(t, engine)

	// Gate off by default: no revocation call.
	if _, err := engine.Validate(context.Background(), signed); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if rev.calls != 0 {
		t.Fatalf("revocation checked without the option: %d calls", rev.calls)
	}

	if _, err := engine.Validate(context.Background(), signed, WithRevocationCheck(true)); err != nil {
		t.Fatalf("Validate with clean revocations failed: %v", err)
	}
	if rev.calls != 1 {
		t.Fatalf("expected 1 revocation call, got %d", rev.calls)
	}

	rev.revoked = true
	rev.scope = "user"
	_, err := engine.Validate(context.Background(), signed, WithRevocationCheck(true))
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	var re *RevokedError
	if !errors.As(err, &re) || re.Scope != "user" {
		t.Fatalf("expected user scope, got %v", err)
	}
}

func TestRevocationFailsClosed(t *testing.T) {
	rev := &stubRevocations{err: errors.New("redis down")}
	engine := testEngine(t, rev)
	signed, _ := issueAccess(t, engine)

	if _, err := engine.Validate(context.Background(), signed, WithRevocationCheck(true)); !errors.Is(err, ErrRevocationUnavailable) {
		t.Fatalf("expected ErrRevocationUnavailable, got %v", err)
	}
}

func TestRevocationNeverRunsOnInvalidToken(t *testing.T) {
	rev := &stubRevocations{}
	engine := testEngine(t, rev)

	_, _ = engine.Validate(context.Background(), "not.a.token", WithRevocationCheck(true))
	if rev.calls != 0 {
		t.Fatal("revocation check ran on a structurally invalid token")
	}
}

func TestIssueNormalizesAccessArrays(t *testing.T) {
	engine := testEngine(t, nil)

	signed, claims, err := engine.Issue(IssueRequest{Kind: KindAccess, UserID: "u1", TenantID: "t1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if claims.Scopes == nil || claims.Permissions == nil {
		t.Fatal("access token arrays must be present, not null")
	}
	if _, err := engine.Validate(context.Background(), signed, WithExpectKind(KindAccess)); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestJTIsAreTimeOrdered(t *testing.T) {
	engine := testEngine(t, nil)

	_, first, _ := engine.Issue(IssueRequest{Kind: KindAccess, UserID: "u1", TenantID: "t1"})
	time.Sleep(2 * time.Millisecond)
	_, second, _ := engine.Issue(IssueRequest{Kind: KindAccess, UserID: "u1", TenantID: "t1"})

	if !(first.ID < second.ID) {
		t.Fatalf("jtis must be monotonically orderable: %s >= %s", first.ID, second.ID)
	}
}

func TestIntrospectDecodesWithoutVerification(t *testing.T) {
	engine := testEngine(t, nil)
	signed, issued := issueAccess(t, engine)

	tampered := signed[:len(signed)-4] + "AAAA"
	claims, err := engine.Introspect(tampered)
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}
	if claims.ID != issued.ID {
		t.Fatalf("introspected jti mismatch: %s != %s", claims.ID, issued.ID)
	}
}

func TestNewEngineRejectsNoneAlgorithm(t *testing.T) {
	pair, _ := keys.GenerateKeyPair("k1")
	provider, _ := keys.NewStaticProvider(pair, nil)

	_, err := NewEngine(Config{
		Issuer:            "x",
		AccessTTL:         time.Minute,
		RefreshTTL:        time.Hour,
		AllowedAlgorithms: []string{"EdDSA", "none"},
	}, provider, nil, nil)
	if err == nil {
		t.Fatal("expected construction to reject none algorithm")
	}
}

func TestNewEngineRejectsExcessiveLeeway(t *testing.T) {
	pair, _ := keys.GenerateKeyPair("k1")
	provider, _ := keys.NewStaticProvider(pair, nil)

	_, err := NewEngine(Config{
		Issuer:     "x",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Leeway:     time.Hour,
	}, provider, nil, nil)
	if err == nil {
		t.Fatal("expected construction to reject leeway above bound")
	}
}
