package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/afterdark/memoryhunt/internal/game"
)

type ctxKey int

const ctxKeyDevice ctxKey = iota

// requireDevice authenticates the Authorization bearer token and stores the
// device claims in the request context. Authorization failures never reach
// domain logic.
func requireDevice(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			claims, err := issuer.Verify(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyDevice, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireFacilitator guards administrative operations: session lifecycle and
// score adjustments belong to facilitator stations.
func requireFacilitator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if deviceFrom(r).Kind() != game.DeviceFacilitator {
			writeError(w, http.StatusForbidden, "facilitator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deviceFrom(r *http.Request) DeviceClaims {
	return r.Context().Value(ctxKeyDevice).(DeviceClaims)
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
