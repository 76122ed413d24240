package internal

import (
	"strings"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}

	parsed, err := ParseSessionID(sid.String())
	if err != nil {
		t.Fatalf("ParseSessionID failed: %v", err)
	}
	if parsed != sid {
		t.Fatalf("round trip changed id: %v != %v", parsed, sid)
	}

	if _, err := ParseSessionID("not base64url!!"); err == nil {
		t.Fatal("malformed id must be rejected")
	}
	if _, err := ParseSessionID("c2hvcnQ"); err == nil {
		t.Fatal("wrong-size id must be rejected")
	}
}

func TestBackupCodeFormat(t *testing.T) {
	code, err := NewBackupCode(8)
	if err != nil {
		t.Fatalf("NewBackupCode failed: %v", err)
	}
	if len(strings.ReplaceAll(code, "-", "")) != 8 {
		t.Fatalf("expected 8 code characters, got %q", code)
	}
	if !strings.Contains(code, "-") {
		t.Fatalf("expected grouped code, got %q", code)
	}

	if _, err := NewBackupCode(4); err == nil {
		t.Fatal("too-short length must be rejected")
	}
	if _, err := NewBackupCode(64); err == nil {
		t.Fatal("too-long length must be rejected")
	}
}

func TestBackupCodeHashingIsPresentationIndependent(t *testing.T) {
	canonical := CanonicalizeBackupCode(" abCD-efgh ")
	if canonical != "ABCDEFGH" {
		t.Fatalf("wrong canonical form: %q", canonical)
	}

	a := HashBackupCode("u1", CanonicalizeBackupCode("ABCD-EFGH"))
	b := HashBackupCode("u1", CanonicalizeBackupCode("abcdefgh"))
	if a != b {
		t.Fatal("presentation must not change the hash")
	}

	// Same code for different users stores differently.
	c := HashBackupCode("u2", CanonicalizeBackupCode("abcdefgh"))
	if a == c {
		t.Fatal("hash must be salted with the user id")
	}
}
