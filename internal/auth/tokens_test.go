package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *TokenService {
	t.Helper()
	svc, err := NewTokenService(testSecret, nil)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.GenerateSessionToken(ctx, "session-42", "s3cr3t-value")
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	if issued.Token == "" {
		t.Fatal("expected a signed token")
	}
	if issued.ExpiresAt.Before(time.Now()) {
		t.Fatal("token already expired at issue time")
	}

	claims, err := svc.ParseSessionToken(ctx, issued.Token)
	if err != nil {
		t.Fatalf("ParseSessionToken: %v", err)
	}
	if claims.SessionID != "session-42" {
		t.Errorf("SessionID = %q, want session-42", claims.SessionID)
	}
	if claims.Secret != "s3cr3t-value" {
		t.Errorf("Secret = %q, want s3cr3t-value", claims.Secret)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.GenerateSessionToken(ctx, "session-42", "secret")
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}

	parts := strings.Split(issued.Token, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if _, err := svc.ParseSessionToken(ctx, tampered); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	issuer := newTestService(t)
	other, err := NewTokenService("ffffffffffffffffffffffffffffffff", nil)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	issued, err := issuer.GenerateSessionToken(ctx, "session-1", "secret")
	if err != nil {
		t.Fatalf("GenerateSessionToken: %v", err)
	}
	if _, err := other.ParseSessionToken(ctx, issued.Token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestNewTokenServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenService("too-short", nil); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}
