package server

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/afterdark/memoryhunt/internal/game"
)

type DeviceAuthRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceKind string `json:"deviceKind"`
	// Password is required for facilitator devices when the server is
	// configured with a facilitator password hash.
	Password string `json:"password,omitempty"`
}

type DeviceAuthResponse struct {
	Token      string `json:"token"`
	DeviceID   string `json:"deviceId"`
	DeviceKind string `json:"deviceKind"`
}

// handleDeviceAuth issues the signed bearer token a station presents on the
// websocket handshake and on every REST call.
func handleDeviceAuth(logger *slog.Logger, issuer *TokenIssuer, facilitatorHash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DeviceAuthRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.DeviceID = strings.TrimSpace(req.DeviceID)
		if req.DeviceID == "" {
			writeError(w, http.StatusBadRequest, "deviceId is required")
			return
		}

		kind := game.DeviceKind(req.DeviceKind)
		switch kind {
		case game.DeviceFacilitator, game.DeviceParticipant:
		default:
			writeError(w, http.StatusBadRequest, "deviceKind must be facilitator or participant")
			return
		}

		if kind == game.DeviceFacilitator && facilitatorHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(facilitatorHash), []byte(req.Password)); err != nil {
				logger.Warn("facilitator auth failed", "device_id", req.DeviceID)
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
		}

		token, err := issuer.Issue(req.DeviceID, kind)
		if err != nil {
			logger.Error("issuing device token", "device_id", req.DeviceID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, DeviceAuthResponse{
			Token:      token,
			DeviceID:   req.DeviceID,
			DeviceKind: string(kind),
		})
	}
}
