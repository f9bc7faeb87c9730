package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/afterdark/memoryhunt/internal/game"
)

func decodeBatch(t *testing.T, w *httptest.ResponseRecorder) BatchResponse {
	t.Helper()
	var resp BatchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode batch response: %v", err)
	}
	return resp
}

func TestBatchAppliesInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.startActiveSession(t)
	dev := env.token(t, "station-1", game.DeviceFacilitator)

	w := env.do(t, http.MethodPost, "/api/batch", dev, BatchRequest{
		BatchID: "batch-1",
		Transactions: []ScanRequest{
			{TokenID: "T1", TeamID: "team-red"},
			{TokenID: "T1", TeamID: "team-red"},
			{TokenID: "G1", TeamID: "team-red"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeBatch(t, w)
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}
	if resp.Results[0].Status != game.TxAccepted {
		t.Errorf("first item = %q, want accepted", resp.Results[0].Status)
	}
	// The in-batch duplicate resolves exactly as it would have live.
	if resp.Results[1].Status != game.TxRejectedDuplicate {
		t.Errorf("second item = %q, want rejected-duplicate", resp.Results[1].Status)
	}
	if resp.Results[2].Status != game.TxAccepted {
		t.Errorf("third item = %q, want accepted", resp.Results[2].Status)
	}
	if got := env.store.TeamScore("team-red"); got != 200 {
		t.Errorf("team score = %d, want 200", got)
	}
}

func TestBatchIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.startActiveSession(t)
	dev := env.token(t, "station-1", game.DeviceFacilitator)

	req := BatchRequest{
		BatchID:      "batch-1",
		Transactions: []ScanRequest{{TokenID: "T1", TeamID: "team-red"}},
	}

	first := env.do(t, http.MethodPost, "/api/batch", dev, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first upload: %d: %s", first.Code, first.Body.String())
	}
	scoreAfterFirst := env.store.TeamScore("team-red")

	second := env.do(t, http.MethodPost, "/api/batch", dev, req)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: %d: %s", second.Code, second.Body.String())
	}

	if first.Body.String() != second.Body.String() {
		t.Errorf("replay response differs:\nfirst:  %s\nsecond: %s",
			first.Body.String(), second.Body.String())
	}
	if got := env.store.TeamScore("team-red"); got != scoreAfterFirst {
		t.Errorf("score changed on replay: %d, want %d", got, scoreAfterFirst)
	}

	resp := decodeBatch(t, second)
	if resp.Results[0].Status != game.TxAccepted {
		t.Errorf("replayed result = %q, want the original accepted", resp.Results[0].Status)
	}
}

func TestBatchDistinctIDsProcessIndependently(t *testing.T) {
	env := newTestEnv(t)
	env.startActiveSession(t)
	dev := env.token(t, "station-1", game.DeviceFacilitator)

	env.do(t, http.MethodPost, "/api/batch", dev, BatchRequest{
		BatchID:      "batch-1",
		Transactions: []ScanRequest{{TokenID: "T1", TeamID: "team-red"}},
	})
	w := env.do(t, http.MethodPost, "/api/batch", dev, BatchRequest{
		BatchID:      "batch-2",
		Transactions: []ScanRequest{{TokenID: "G1", TeamID: "team-red"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("second batch: %d", w.Code)
	}
	if got := env.store.TeamScore("team-red"); got != 200 {
		t.Errorf("team score = %d, want 200", got)
	}
}

func TestBatchValidation(t *testing.T) {
	env := newTestEnv(t)
	env.startActiveSession(t)
	dev := env.token(t, "station-1", game.DeviceFacilitator)

	w := env.do(t, http.MethodPost, "/api/batch", dev, BatchRequest{
		Transactions: []ScanRequest{{TokenID: "T1", TeamID: "team-red"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing batchId: got %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/batch", dev, BatchRequest{BatchID: "batch-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty transactions: got %d, want 400", w.Code)
	}
}

func TestBatchMalformedItemRejectsWhole(t *testing.T) {
	env := newTestEnv(t)
	env.startActiveSession(t)
	dev := env.token(t, "station-1", game.DeviceFacilitator)

	w := env.do(t, http.MethodPost, "/api/batch", dev, BatchRequest{
		BatchID: "batch-1",
		Transactions: []ScanRequest{
			{TokenID: "T1", TeamID: "team-red"},
			{TokenID: "", TeamID: "team-red"},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := env.store.TeamScore("team-red"); got != 0 {
		t.Errorf("partial application: score = %d, want 0", got)
	}
}
