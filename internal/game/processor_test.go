package game

import (
	"log/slog"
	"testing"
	"time"

	"github.com/afterdark/memoryhunt/internal/token"
)

func testCatalog() *token.Catalog {
	return token.NewCatalog([]token.Token{
		{ID: "T1", ValueRating: 3, MemoryType: "Technical"},
		{ID: "T2", ValueRating: 3, MemoryType: "Personal", Group: "G (x2)"},
		{ID: "T3", ValueRating: 3, MemoryType: "Personal", Group: "G (x2)"},
		{ID: "T4", ValueRating: 1, MemoryType: "Personal"},
		{ID: "X1", ValueRating: 1, MemoryType: "Personal", Exclusive: true},
		{ID: "V1", ValueRating: 1, MemoryType: "Personal", Video: "v1.mp4"},
	}, token.ScoringConfig{
		RatingValues:    map[int]int{1: 100, 3: 300},
		TypeMultipliers: map[string]float64{"Personal": 1, "Technical": 5},
	})
}

func newTestProcessor(t *testing.T) (*Processor, *Store) {
	t.Helper()
	store := NewStore(slog.Default(), 0)
	store.CreateSession([]string{"001", "002"})
	store.SetStatus(StatusActive)
	p := NewProcessor(store, testCatalog(), slog.Default())
	return p, store
}

func scan(tokenID, teamID, deviceID string, kind DeviceKind) Submission {
	return Submission{
		TokenID:    tokenID,
		TeamID:     teamID,
		DeviceID:   deviceID,
		DeviceKind: kind,
		ClientTime: time.Now(),
	}
}

func TestProcessAcceptThenDuplicate(t *testing.T) {
	p, _ := newTestProcessor(t)

	// Rating 3 (300) × Technical (×5) = 1500.
	res := p.Process(scan("T1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxAccepted {
		t.Fatalf("first scan: status = %s (%s), want accepted", res.Status, res.Reason)
	}
	if res.Delta != 1500 {
		t.Fatalf("first scan: delta = %d, want 1500", res.Delta)
	}

	res = p.Process(scan("T1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxRejectedDuplicate {
		t.Fatalf("second scan: status = %s, want rejected-duplicate", res.Status)
	}
	if res.Delta != 0 {
		t.Fatalf("second scan: delta = %d, want 0", res.Delta)
	}
}

func TestProcessParticipantRescansAllowed(t *testing.T) {
	p, store := newTestProcessor(t)

	for i := 0; i < 2; i++ {
		res := p.Process(scan("T1", "001", "PLAYER_1", DeviceParticipant))
		if res.Status != TxAccepted {
			t.Fatalf("participant scan %d: status = %s, want accepted", i+1, res.Status)
		}
		if res.Delta != 0 {
			t.Fatalf("participant scan %d: delta = %d, want 0", i+1, res.Delta)
		}
	}
	if store.TeamScore("001") != 0 {
		t.Errorf("participant scans moved the score: %d", store.TeamScore("001"))
	}
}

func TestProcessFuzzyTokenLookup(t *testing.T) {
	p, _ := newTestProcessor(t)

	res := p.Process(scan("t-1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxAccepted || res.Delta != 1500 {
		t.Fatalf("fuzzy scan: status=%s delta=%d, want accepted/1500", res.Status, res.Delta)
	}
	// Different spelling of the same token is still a duplicate.
	res = p.Process(scan("T_1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxRejectedDuplicate {
		t.Fatalf("respelled duplicate: status = %s, want rejected-duplicate", res.Status)
	}
}

func TestProcessUnknownTokenRecordedAtZero(t *testing.T) {
	p, store := newTestProcessor(t)

	res := p.Process(scan("mystery", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxAccepted {
		t.Fatalf("unknown token: status = %s, want accepted", res.Status)
	}
	if res.Delta != 0 || res.Reason != "unknown token" {
		t.Fatalf("unknown token: delta=%d reason=%q", res.Delta, res.Reason)
	}
	if len(store.RecentTransactions(10)) != 1 {
		t.Fatal("unknown token scan should be logged")
	}
	// And still subject to the duplicate rule.
	if res := p.Process(scan("mystery", "001", "GM_1", DeviceFacilitator)); res.Status != TxRejectedDuplicate {
		t.Fatalf("repeat unknown token: status = %s, want rejected-duplicate", res.Status)
	}
}

func TestProcessInactiveSession(t *testing.T) {
	p, store := newTestProcessor(t)
	store.SetStatus(StatusPaused)

	res := p.Process(scan("T1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxRejectedInvalid {
		t.Fatalf("paused session: status = %s, want rejected-invalid", res.Status)
	}
}

func TestProcessUnknownTeam(t *testing.T) {
	p, _ := newTestProcessor(t)

	res := p.Process(scan("T1", "999", "GM_1", DeviceFacilitator))
	if res.Status != TxRejectedInvalid || res.Reason != "unknown team" {
		t.Fatalf("unknown team: status=%s reason=%q", res.Status, res.Reason)
	}
}

func TestGroupCompletionBonus(t *testing.T) {
	p, store := newTestProcessor(t)

	// T2 and T3 are each worth 300 (rating 3, Personal).
	res := p.Process(scan("T2", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxAccepted || res.CompletedGroup != "" {
		t.Fatalf("first group scan: status=%s group=%q", res.Status, res.CompletedGroup)
	}

	res = p.Process(scan("T3", "001", "GM_1", DeviceFacilitator))
	if res.CompletedGroup != "G" {
		t.Fatalf("second group scan: completed group = %q, want G", res.CompletedGroup)
	}
	// Bonus = (2−1) × (300+300) = 600; delta = 300 + 600.
	if res.GroupBonus != 600 {
		t.Fatalf("bonus = %d, want 600", res.GroupBonus)
	}
	if res.Delta != 900 {
		t.Fatalf("delta = %d, want 900", res.Delta)
	}
	if store.TeamScore("001") != 1200 {
		t.Fatalf("team total = %d, want 1200", store.TeamScore("001"))
	}

	found := false
	for _, ev := range res.Events {
		if ev.Name == EventGroupCompleted {
			found = true
			gc := ev.Data.(GroupCompletion)
			if gc.Bonus != 600 || gc.Group != "G" || gc.Multiplier != 2 {
				t.Errorf("group:completed payload = %+v", gc)
			}
		}
	}
	if !found {
		t.Error("missing group:completed event")
	}
}

func TestGroupBonusAwardedOncePerTeam(t *testing.T) {
	p, store := newTestProcessor(t)

	p.Process(scan("T2", "001", "GM_1", DeviceFacilitator))
	p.Process(scan("T3", "001", "GM_1", DeviceFacilitator))
	before := store.TeamScore("001")

	// A different device re-completing the group must not re-award.
	res := p.Process(scan("T2", "001", "GM_2", DeviceFacilitator))
	if res.Status != TxAccepted {
		t.Fatalf("other-device scan: status = %s", res.Status)
	}
	if res.GroupBonus != 0 {
		t.Fatalf("bonus re-awarded: %d", res.GroupBonus)
	}
	if got := store.TeamScore("001"); got != before+300 {
		t.Fatalf("total = %d, want %d", got, before+300)
	}

	// The other team earns its own bonus independently.
	p.Process(scan("T2", "002", "GM_3", DeviceFacilitator))
	res = p.Process(scan("T3", "002", "GM_3", DeviceFacilitator))
	if res.GroupBonus != 600 {
		t.Fatalf("team 002 bonus = %d, want 600", res.GroupBonus)
	}
}

func TestExclusiveFirstWriteWins(t *testing.T) {
	p, _ := newTestProcessor(t)

	res := p.Process(scan("X1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxAccepted {
		t.Fatalf("claiming scan: status = %s", res.Status)
	}

	// Different team, different device: still loses.
	res = p.Process(scan("X1", "002", "GM_2", DeviceFacilitator))
	if res.Status != TxRejectedDuplicate || res.Reason != "token already claimed" {
		t.Fatalf("losing scan: status=%s reason=%q", res.Status, res.Reason)
	}

	// Participant scans of a claimed token still succeed.
	res = p.Process(scan("X1", "002", "PLAYER_1", DeviceParticipant))
	if res.Status != TxAccepted {
		t.Fatalf("participant scan of claimed token: status = %s", res.Status)
	}
}

func TestExclusiveClaimHoldsAcrossClockRegression(t *testing.T) {
	p, _ := newTestProcessor(t)

	res := p.Process(scan("X1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxAccepted {
		t.Fatalf("claiming scan: status = %s", res.Status)
	}

	// A restart can restore a snapshot whose claim timestamp is ahead of the
	// local clock. The claim's existence alone must reject.
	p.now = func() time.Time { return time.Now().Add(-time.Hour) }
	res = p.Process(scan("X1", "002", "GM_2", DeviceFacilitator))
	if res.Status != TxRejectedDuplicate || res.Reason != "token already claimed" {
		t.Fatalf("scan behind claim time: status=%s reason=%q", res.Status, res.Reason)
	}
}

func TestScoreAccountingIdentity(t *testing.T) {
	p, store := newTestProcessor(t)

	p.Process(scan("T1", "001", "GM_1", DeviceFacilitator))
	p.Process(scan("T2", "001", "GM_1", DeviceFacilitator))
	p.Process(scan("T3", "001", "GM_1", DeviceFacilitator))
	p.Process(scan("T4", "002", "GM_2", DeviceFacilitator))
	p.Process(scan("T1", "001", "GM_1", DeviceFacilitator)) // duplicate, no-op

	// Recompute independently from the log.
	totals := map[string]int{}
	for _, tx := range store.RecentTransactions(100) {
		totals[tx.TeamID] += tx.Delta
	}
	for team, want := range totals {
		if got := store.TeamScore(team); got != want {
			t.Errorf("team %s: score %d, log sum %d", team, got, want)
		}
	}
	if totals["001"] != 1500+300+300+600 {
		t.Errorf("team 001 log sum = %d", totals["001"])
	}
	if totals["002"] != 100 {
		t.Errorf("team 002 log sum = %d", totals["002"])
	}
}

func TestProcessVideoToken(t *testing.T) {
	p, _ := newTestProcessor(t)

	res := p.Process(scan("V1", "001", "PLAYER_1", DeviceParticipant))
	if res.Video != "v1.mp4" {
		t.Fatalf("video = %q, want v1.mp4", res.Video)
	}
}

func TestSnapshotRestorePreservesProcessing(t *testing.T) {
	p, store := newTestProcessor(t)
	p.Process(scan("T1", "001", "GM_1", DeviceFacilitator))
	p.Process(scan("T2", "001", "GM_1", DeviceFacilitator))

	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	restoredStore := NewStore(slog.Default(), 0)
	if err := restoredStore.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	p2 := NewProcessor(restoredStore, testCatalog(), slog.Default())

	// Identical submissions must yield identical outcomes after restore.
	if res := p2.Process(scan("T1", "001", "GM_1", DeviceFacilitator)); res.Status != TxRejectedDuplicate {
		t.Fatalf("duplicate after restore: status = %s", res.Status)
	}
	res := p2.Process(scan("T3", "001", "GM_1", DeviceFacilitator))
	if res.CompletedGroup != "G" || res.GroupBonus != 600 {
		t.Fatalf("group completion after restore: group=%q bonus=%d", res.CompletedGroup, res.GroupBonus)
	}
}

func TestAdjustmentAuditEntry(t *testing.T) {
	p, store := newTestProcessor(t)
	p.Process(scan("T4", "001", "GM_1", DeviceFacilitator))

	res, err := p.Adjust("001", -50, "mis-scan correction", "GM_1")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if res.Transaction.Kind != TxKindAdjustment {
		t.Fatalf("kind = %s, want adjustment", res.Transaction.Kind)
	}
	if store.TeamScore("001") != 50 {
		t.Fatalf("score after adjustment = %d, want 50", store.TeamScore("001"))
	}
	// The original transaction is untouched; the adjustment is a new entry.
	log := store.RecentTransactions(10)
	if len(log) != 2 {
		t.Fatalf("log length = %d, want 2", len(log))
	}

	if _, err := p.Adjust("999", 10, "", "GM_1"); err != ErrUnknownTeam {
		t.Fatalf("adjust unknown team: err = %v, want ErrUnknownTeam", err)
	}
}

func TestAutoPauseRejectsScan(t *testing.T) {
	store := NewStore(slog.Default(), time.Minute)
	store.CreateSession([]string{"001"})
	store.SetStatus(StatusActive)
	p := NewProcessor(store, testCatalog(), slog.Default())

	// Pin the processor clock far past the idle window.
	p.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	res := p.Process(scan("T1", "001", "GM_1", DeviceFacilitator))
	if res.Status != TxRejectedInvalid {
		t.Fatalf("scan into idle session: status = %s, want rejected-invalid", res.Status)
	}
	hasStatusEvent := false
	for _, ev := range res.Events {
		if ev.Name == EventSessionStatus {
			hasStatusEvent = true
		}
	}
	if !hasStatusEvent {
		t.Error("auto-pause should emit session:status")
	}
	sess, _ := store.Current()
	if sess.Status != StatusPaused {
		t.Fatalf("status = %s, want paused", sess.Status)
	}
}
