package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestIssuer(t *testing.T, ttl time.Duration) (*TokenIssuer, *time.Time) {
	t.Helper()
	iss, err := NewTokenIssuer("test-secret", ttl)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	iss.SetNow(func() time.Time { return *clock })
	return iss, clock
}

func TestSessionTokenRoundTrip(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	tenant := uuid.New()

	token, err := iss.Generate(tenant, "abc-1234-xyz", "u1", "Alice", "host")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.TenantID != tenant {
		t.Fatalf("tenant = %s, want %s", claims.TenantID, tenant)
	}
	if claims.MeetingCode != "abc-1234-xyz" || claims.UserID != "u1" {
		t.Fatalf("binding = (%q, %q)", claims.MeetingCode, claims.UserID)
	}
	if claims.Role != "host" || claims.DisplayName != "Alice" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSessionTokenExpiry(t *testing.T) {
	iss, clock := newTestIssuer(t, time.Hour)
	token, err := iss.Generate(uuid.New(), "abc-1234-xyz", "u1", "", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	*clock = clock.Add(2 * time.Hour)
	if _, err := iss.Verify(token); err == nil {
		t.Fatal("expired token verified")
	}
}

func TestSessionTokenWrongSecret(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	token, err := iss.Generate(uuid.New(), "abc-1234-xyz", "u1", "", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	other, err := NewTokenIssuer("different-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatal("token verified with wrong secret")
	}
}

func TestSessionTokenTamperedAudience(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	token, err := iss.Generate(uuid.New(), "abc-1234-xyz", "u1", "", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// flip a character in the signature
	tampered := token[:len(token)-2] + strings.Map(func(r rune) rune {
		if r == 'a' {
			return 'b'
		}
		return 'a'
	}, token[len(token)-2:])
	if _, err := iss.Verify(tampered); err == nil {
		t.Fatal("tampered token verified")
	}
}

func TestGenerateRequiresBinding(t *testing.T) {
	iss, _ := newTestIssuer(t, time.Hour)
	if _, err := iss.Generate(uuid.New(), "", "u1", "", ""); err == nil {
		t.Fatal("token minted without meeting code")
	}
	if _, err := iss.Generate(uuid.New(), "abc-1234-xyz", "", "", ""); err == nil {
		t.Fatal("token minted without user id")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatal("issuer created with empty secret")
	}
}
