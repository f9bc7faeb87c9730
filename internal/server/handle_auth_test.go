package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestDeviceAuthFacilitatorPassword(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	issuer := NewTokenIssuer("test-secret", time.Hour)
	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h := handleDeviceAuth(logger, issuer, string(hash))

	post := func(req DeviceAuthRequest) *httptest.ResponseRecorder {
		body, _ := json.Marshal(req)
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/api/auth/device", bytes.NewReader(body)))
		return w
	}

	if w := post(DeviceAuthRequest{DeviceID: "fac-1", DeviceKind: "facilitator", Password: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: got %d, want 401", w.Code)
	}
	if w := post(DeviceAuthRequest{DeviceID: "fac-1", DeviceKind: "facilitator", Password: "open-sesame"}); w.Code != http.StatusOK {
		t.Errorf("correct password: got %d, want 200", w.Code)
	}
	// Participants never need the password.
	if w := post(DeviceAuthRequest{DeviceID: "scanner-1", DeviceKind: "participant"}); w.Code != http.StatusOK {
		t.Errorf("participant: got %d, want 200", w.Code)
	}
}
