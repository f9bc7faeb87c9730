package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/afterdark/memoryhunt/internal/game"
)

type BatchRequest struct {
	BatchID      string        `json:"batchId"`
	Transactions []ScanRequest `json:"transactions"`
}

type BatchItemResult struct {
	TokenID    string        `json:"tokenId"`
	Status     game.TxStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	ScoreDelta int           `json:"scoreDelta"`
}

type BatchResponse struct {
	BatchID string            `json:"batchId"`
	Results []BatchItemResult `json:"perItemResults"`
}

// handleBatch drains a station's offline queue. Items are applied strictly
// in submission order through the same processing path as live scans, so
// duplicates inside a batch resolve exactly as they would have online. A
// replayed batch id short-circuits to the recorded response: reconnect
// retries never double-apply.
func handleBatch(logger *slog.Logger, proc *game.Processor, hub *Hub, pers *persister, cache *batchCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := deviceFrom(r)

		var req BatchRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.BatchID = strings.TrimSpace(req.BatchID)
		if req.BatchID == "" {
			writeError(w, http.StatusBadRequest, "batchId is required")
			return
		}
		if len(req.Transactions) == 0 {
			writeError(w, http.StatusBadRequest, "transactions must not be empty")
			return
		}

		// Validate every item before applying any: a malformed batch is
		// rejected whole, never partially applied.
		subs := make([]game.Submission, len(req.Transactions))
		for i, item := range req.Transactions {
			sub, msg := submissionFrom(item, claims)
			if msg != "" {
				writeError(w, http.StatusBadRequest, msg)
				return
			}
			subs[i] = sub
		}

		ackTo := func(resp BatchResponse) game.Event {
			return game.Event{
				Name:     game.EventBatchAck,
				DeviceID: claims.DeviceID,
				Data:     resp,
			}
		}

		cached, leader, err := cache.Begin(r.Context(), req.BatchID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "batch still processing")
			return
		}
		if !leader {
			logger.Info("batch replayed from idempotency cache",
				"batch_id", req.BatchID, "device_id", claims.DeviceID)
			hub.Publish(ackTo(cached))
			writeJSON(w, http.StatusOK, cached)
			return
		}

		results := make([]BatchItemResult, len(subs))
		for i, sub := range subs {
			res := proc.Process(sub)
			// Deferred scans never trigger media playback; by the time a
			// batch lands the moment has passed.
			finalize(r.Context(), pers, hub, res)
			results[i] = BatchItemResult{
				TokenID:    sub.TokenID,
				Status:     res.Status,
				Reason:     res.Reason,
				ScoreDelta: res.Delta,
			}
		}

		resp := BatchResponse{BatchID: req.BatchID, Results: results}
		cache.Complete(req.BatchID, resp)
		hub.Publish(ackTo(resp))
		writeJSON(w, http.StatusOK, resp)
	}
}
