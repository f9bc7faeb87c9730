package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afterdark/memoryhunt/internal/game"
)

type ScanRequest struct {
	TokenID string `json:"tokenId"`
	TeamID  string `json:"teamId"`
	// DeviceID and DeviceKind are optional; when present they must match
	// the authenticated claims.
	DeviceID        string `json:"deviceId,omitempty"`
	DeviceKind      string `json:"deviceKind,omitempty"`
	ClientTimestamp string `json:"clientTimestamp,omitempty"`
}

type ScanResponse struct {
	Status         game.TxStatus `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	ScoreDelta     int           `json:"scoreDelta"`
	TransactionID  string        `json:"transactionId,omitempty"`
	GroupCompleted string        `json:"groupCompleted,omitempty"`
	GroupBonus     int           `json:"groupBonus,omitempty"`
	VideoStatus    string        `json:"videoStatus,omitempty"`
}

// submissionFrom validates a scan payload against the authenticated claims.
// A non-empty second return is the rejection message.
func submissionFrom(req ScanRequest, claims DeviceClaims) (game.Submission, string) {
	req.TokenID = strings.TrimSpace(req.TokenID)
	req.TeamID = strings.TrimSpace(req.TeamID)
	if req.TokenID == "" || req.TeamID == "" {
		return game.Submission{}, "tokenId and teamId are required"
	}
	if req.DeviceID != "" && req.DeviceID != claims.DeviceID {
		return game.Submission{}, "deviceId does not match the authenticated device"
	}
	if req.DeviceKind != "" && req.DeviceKind != claims.DeviceKind {
		return game.Submission{}, "deviceKind does not match the authenticated device"
	}

	var clientTime time.Time
	if req.ClientTimestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, req.ClientTimestamp)
		if err != nil {
			return game.Submission{}, "clientTimestamp must be RFC 3339"
		}
		clientTime = t
	}

	return game.Submission{
		TokenID:    req.TokenID,
		TeamID:     req.TeamID,
		DeviceID:   claims.DeviceID,
		DeviceKind: claims.Kind(),
		ClientTime: clientTime,
	}, ""
}

// finalize applies the side effects of a processed submission: durable
// snapshot for accepted transactions and event fan-out for everyone.
func finalize(ctx context.Context, pers *persister, hub *Hub, res game.Result) {
	if res.Status == game.TxAccepted {
		pers.persist(ctx, res.Transaction)
	}
	for _, ev := range res.Events {
		hub.Publish(ev)
	}
}

// relayVideo forwards the token's media signal to the external playback
// collaborator and relays the tri-state outcome to the originating device.
func relayVideo(ctx context.Context, logger *slog.Logger, media MediaController, hub *Hub, res game.Result, deviceID string) string {
	if media == nil || res.Video == "" || res.Status != game.TxAccepted {
		return ""
	}
	status, err := media.Play(ctx, res.Transaction.TokenID, res.Transaction.TeamID)
	if err != nil {
		logger.Error("video playback trigger failed", "token_id", res.Transaction.TokenID, "error", err)
		return ""
	}
	hub.Publish(game.Event{
		Name:     game.EventVideoStatus,
		DeviceID: deviceID,
		Data: map[string]any{
			"tokenId": res.Transaction.TokenID,
			"teamId":  res.Transaction.TeamID,
			"status":  status,
		},
	})
	return string(status)
}

func scanHTTPStatus(status game.TxStatus) int {
	switch status {
	case game.TxAccepted:
		return http.StatusOK
	case game.TxRejectedDuplicate:
		// Distinct from the generic rejection so a consuming UI can show
		// "already scanned" rather than "invalid".
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func handleScan(logger *slog.Logger, proc *game.Processor, hub *Hub, pers *persister, media MediaController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := deviceFrom(r)

		var req ScanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sub, msg := submissionFrom(req, claims)
		if msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		res := proc.Process(sub)
		finalize(r.Context(), pers, hub, res)
		videoStatus := relayVideo(r.Context(), logger, media, hub, res, claims.DeviceID)

		writeJSON(w, scanHTTPStatus(res.Status), ScanResponse{
			Status:         res.Status,
			Reason:         res.Reason,
			ScoreDelta:     res.Delta,
			TransactionID:  res.Transaction.ID,
			GroupCompleted: res.CompletedGroup,
			GroupBonus:     res.GroupBonus,
			VideoStatus:    videoStatus,
		})
	}
}
