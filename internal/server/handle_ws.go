package server

import (
	"errors"
	"log/slog"
	"net/http"

	"nhooyr.io/websocket"
)

// Close codes for handshake rejections. Delivered as connection-level close
// frames, never as in-band messages: an unauthenticated connection must not
// observe session data even transiently.
const (
	closeNoToken          websocket.StatusCode = 4001
	closeInvalidToken     websocket.StatusCode = 4002
	closeUnauthorizedRole websocket.StatusCode = 4003
)

// handleWS upgrades the connection, verifies the presented bearer token, and
// only then hands the connection to the hub for group admission.
func handleWS(logger *slog.Logger, hub *Hub, issuer *TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}

		claims, err := issuer.Verify(r.URL.Query().Get("token"))
		if err != nil {
			code := closeInvalidToken
			switch {
			case errors.Is(err, errNoToken):
				code = closeNoToken
			case errors.Is(err, errUnauthorizedRole):
				code = closeUnauthorizedRole
			}
			logger.Warn("websocket handshake rejected", "reason", err.Error())
			ws.Close(code, err.Error())
			return
		}

		c := hub.Admit(ws, claims.DeviceID, claims.Kind())
		c.readLoop(r.Context())
	}
}
