package server

import (
	"errors"
	"testing"
	"time"

	"github.com/afterdark/memoryhunt/internal/game"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	raw, err := issuer.Issue("scanner-1", game.DeviceParticipant)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := issuer.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.DeviceID != "scanner-1" {
		t.Errorf("deviceID = %q, want scanner-1", claims.DeviceID)
	}
	if claims.Kind() != game.DeviceParticipant {
		t.Errorf("kind = %q, want participant", claims.DeviceKind)
	}
}

func TestTokenIssuerEmptyToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	_, err := issuer.Verify("")
	if !errors.Is(err, errNoToken) {
		t.Fatalf("err = %v, want errNoToken", err)
	}
}

func TestTokenIssuerRejectsTampered(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	other := NewTokenIssuer("other-secret", time.Hour)

	raw, err := other.Issue("scanner-1", game.DeviceParticipant)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(raw); !errors.Is(err, errInvalidToken) {
		t.Fatalf("err = %v, want errInvalidToken", err)
	}
	if _, err := issuer.Verify("not-a-jwt"); !errors.Is(err, errInvalidToken) {
		t.Fatalf("err = %v, want errInvalidToken", err)
	}
}

func TestTokenIssuerRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)

	raw, err := issuer.Issue("scanner-1", game.DeviceParticipant)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := issuer.Verify(raw); !errors.Is(err, errInvalidToken) {
		t.Fatalf("err = %v, want errInvalidToken", err)
	}
}

func TestTokenIssuerRejectsUnknownRole(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	raw, err := issuer.Issue("scanner-1", game.DeviceKind("admin"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(raw); !errors.Is(err, errUnauthorizedRole) {
		t.Fatalf("err = %v, want errUnauthorizedRole", err)
	}
}
