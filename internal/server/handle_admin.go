package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/afterdark/memoryhunt/internal/game"
)

type CreateSessionRequest struct {
	Teams []string `json:"teams"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type AdjustRequest struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func sessionMeta(sess game.Session) SessionMeta {
	return SessionMeta{
		ID:        sess.ID,
		Status:    sess.Status,
		Teams:     sess.Teams,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

func publishStatus(hub *Hub, sess game.Session) {
	hub.Publish(game.Event{
		Name: game.EventSessionStatus,
		Data: game.SessionStatusChange{SessionID: sess.ID, Status: sess.Status},
	})
}

func handleCreateSession(logger *slog.Logger, store *game.Store, hub *Hub, pers *persister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		teams := make([]string, 0, len(req.Teams))
		for _, t := range req.Teams {
			if t = strings.TrimSpace(t); t != "" {
				teams = append(teams, t)
			}
		}
		if len(teams) == 0 {
			writeError(w, http.StatusBadRequest, "at least one team is required")
			return
		}

		sess, err := store.CreateSession(teams)
		if err != nil {
			if errors.Is(err, game.ErrSessionExists) {
				writeError(w, http.StatusConflict, "a session is already in progress")
				return
			}
			logger.Error("creating session", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		logger.Info("session created", "session_id", sess.ID, "teams", teams,
			"device_id", deviceFrom(r).DeviceID)
		hub.SessionCreated()
		pers.persistState(r.Context())
		publishStatus(hub, sess)
		writeJSON(w, http.StatusCreated, sessionMeta(sess))
	}
}

func handleSetSessionStatus(logger *slog.Logger, store *game.Store, hub *Hub, pers *persister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetStatusRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		status := game.Status(req.Status)
		switch status {
		case game.StatusActive, game.StatusPaused, game.StatusEnded, game.StatusArchived:
		default:
			writeError(w, http.StatusBadRequest, "status must be one of active, paused, ended, archived")
			return
		}

		sess, err := store.SetStatus(status)
		if err != nil {
			switch {
			case errors.Is(err, game.ErrNoSession):
				writeError(w, http.StatusNotFound, "no session")
			case errors.Is(err, game.ErrBadTransition):
				writeError(w, http.StatusConflict, err.Error())
			default:
				logger.Error("changing session status", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		logger.Info("session status changed", "session_id", sess.ID,
			"status", sess.Status, "device_id", deviceFrom(r).DeviceID)
		pers.persistState(r.Context())
		publishStatus(hub, sess)
		writeJSON(w, http.StatusOK, sessionMeta(sess))
	}
}

func handleAdjust(logger *slog.Logger, proc *game.Processor, hub *Hub, pers *persister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := deviceFrom(r)

		var req AdjustRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.TeamID = strings.TrimSpace(req.TeamID)
		req.Reason = strings.TrimSpace(req.Reason)
		if req.TeamID == "" || req.Reason == "" {
			writeError(w, http.StatusBadRequest, "teamId and reason are required")
			return
		}
		if req.Delta == 0 {
			writeError(w, http.StatusBadRequest, "delta must be non-zero")
			return
		}

		res, err := proc.Adjust(req.TeamID, req.Delta, req.Reason, claims.DeviceID)
		if err != nil {
			switch {
			case errors.Is(err, game.ErrNoSession):
				writeError(w, http.StatusNotFound, "no session")
			case errors.Is(err, game.ErrUnknownTeam):
				writeError(w, http.StatusBadRequest, "unknown team")
			default:
				logger.Error("adjusting score", "team_id", req.TeamID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		logger.Info("score adjusted", "team_id", req.TeamID, "delta", req.Delta,
			"reason", req.Reason, "device_id", claims.DeviceID)
		finalize(r.Context(), pers, hub, res)
		writeJSON(w, http.StatusOK, ScanResponse{
			Status:        res.Status,
			ScoreDelta:    res.Delta,
			TransactionID: res.Transaction.ID,
		})
	}
}
