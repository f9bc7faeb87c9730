package game

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afterdark/memoryhunt/internal/token"
)

// Submission is one scan as received from a station, already validated for
// shape at the transport boundary.
type Submission struct {
	TokenID    string
	TeamID     string
	DeviceID   string
	DeviceKind DeviceKind
	ClientTime time.Time
}

// Result is the definite outcome of processing a submission. Business-rule
// rejections are statuses here, never errors.
type Result struct {
	Transaction    Transaction
	Status         TxStatus
	Reason         string
	Delta          int
	CompletedGroup string
	GroupBonus     int
	// Video names the media asset implied by the token, for the external
	// playback collaborator. Empty when the token carries none.
	Video  string
	Events []Event
}

// Processor applies the scoring rules against the store. Process is the
// system's single write-serialization boundary: every mutation of session
// state, live or batched, funnels through its mutex.
type Processor struct {
	mu      sync.Mutex
	store   *Store
	catalog *token.Catalog
	logger  *slog.Logger

	now func() time.Time
}

func NewProcessor(store *Store, catalog *token.Catalog, logger *slog.Logger) *Processor {
	return &Processor{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// Process validates and scores one scan. Every branch returns a definite
// status; there is no error path for well-formed input.
func (p *Processor) Process(sub Submission) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var events []Event

	if p.store.AutoPauseIfIdle(now) {
		if sess, ok := p.store.Current(); ok {
			events = append(events, Event{
				Name: EventSessionStatus,
				Data: SessionStatusChange{SessionID: sess.ID, Status: sess.Status},
			})
		}
	}

	sess, ok := p.store.Active()
	if !ok {
		return Result{Status: TxRejectedInvalid, Reason: "no active session", Events: events}
	}
	if !sess.HasTeam(sub.TeamID) {
		return Result{Status: TxRejectedInvalid, Reason: "unknown team", Events: events}
	}

	tok, known := p.catalog.Lookup(sub.TokenID)
	tokenID := token.Normalize(sub.TokenID)
	if known {
		tokenID = token.Normalize(tok.ID)
	}

	// Duplicate rule is per submitting device and facilitator-only:
	// participant stations may re-scan freely.
	if sub.DeviceKind == DeviceFacilitator && p.store.HasDeviceScanned(sub.DeviceID, tokenID) {
		p.logger.Info("duplicate scan rejected",
			"device_id", sub.DeviceID, "token_id", tokenID, "team_id", sub.TeamID)
		return Result{Status: TxRejectedDuplicate, Reason: "token already scanned by this device", Events: events}
	}

	// First-write-wins on session-exclusive tokens: once a claim exists,
	// later submissions lose regardless of device, team, or timestamp — a
	// restored snapshot may carry claim times ahead of the local clock.
	// Participant scans are informational and neither claim nor contest.
	claiming := known && tok.Exclusive && sub.DeviceKind == DeviceFacilitator
	if claiming {
		if claim, claimed := p.store.ClaimFor(tokenID); claimed {
			p.logger.Info("exclusive token already claimed",
				"token_id", tokenID, "claimed_by", claim.TeamID, "team_id", sub.TeamID)
			return Result{Status: TxRejectedDuplicate, Reason: "token already claimed", Events: events}
		}
	}

	delta := 0
	reason := ""
	if !known {
		// Unknown tokens are recorded at zero value instead of rejected, so
		// operator mistakes stay visible in the log.
		reason = "unknown token"
	} else if sub.DeviceKind == DeviceFacilitator {
		delta = p.catalog.BaseValue(tok)
	}

	completedGroup := ""
	bonus := 0
	groupMult := 1
	if known && sub.DeviceKind == DeviceFacilitator {
		completedGroup, bonus, groupMult = p.groupCompletion(sub.TeamID, tok)
	}

	tx := Transaction{
		ID:         uuid.NewString(),
		Kind:       TxKindScan,
		TokenID:    tokenID,
		TeamID:     sub.TeamID,
		DeviceID:   sub.DeviceID,
		DeviceKind: sub.DeviceKind,
		ClientTime: sub.ClientTime,
		AcceptedAt: now,
		Status:     TxAccepted,
		Reason:     reason,
		Delta:      delta + bonus,
		Unknown:    !known,
	}
	if err := p.store.RecordAccepted(tx, claiming, completedGroup); err != nil {
		// Active() above guarantees a session; losing it mid-process is a
		// programming-order bug.
		panic("game: session vanished during Process: " + err.Error())
	}

	events = append(events, Event{Name: EventTransactionAccepted, TeamID: sub.TeamID, Data: tx})
	if tx.Delta != 0 {
		events = append(events, Event{
			Name:   EventScoreChanged,
			TeamID: sub.TeamID,
			Data: ScoreChange{
				TeamID: sub.TeamID,
				Delta:  tx.Delta,
				Total:  p.store.TeamScore(sub.TeamID),
			},
		})
	}
	if completedGroup != "" {
		events = append(events, Event{
			Name:   EventGroupCompleted,
			TeamID: sub.TeamID,
			Data: GroupCompletion{
				TeamID:     sub.TeamID,
				Group:      completedGroup,
				Multiplier: groupMult,
				Bonus:      bonus,
			},
		})
	}

	res := Result{
		Transaction:    tx,
		Status:         TxAccepted,
		Reason:         reason,
		Delta:          tx.Delta,
		CompletedGroup: completedGroup,
		GroupBonus:     bonus,
		Events:         events,
	}
	if known {
		res.Video = tok.Video
	}
	return res
}

// groupCompletion reports whether this scan completes the token's group for
// the team, returning the one-time bonus. Already-complete groups are
// detected and never re-awarded.
func (p *Processor) groupCompletion(teamID string, tok token.Token) (group string, bonus, mult int) {
	group = tok.GroupName()
	if group == "" {
		return "", 0, 1
	}
	if p.store.GroupCompleted(teamID, group) {
		return "", 0, 1
	}

	members := p.catalog.GroupMembers(group)
	sum := 0
	self := token.Normalize(tok.ID)
	for _, m := range members {
		id := token.Normalize(m.ID)
		if id != self && !p.store.TeamHasScanned(teamID, id) {
			return "", 0, 1
		}
		sum += p.catalog.BaseValue(m)
	}

	mult = tok.GroupMultiplier()
	return group, sum * (mult - 1), mult
}

// Adjust records an administrative score correction as an audit transaction.
// It shares the Process mutex so adjustments serialize with scans.
func (p *Processor) Adjust(teamID string, delta int, reason, deviceID string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, ok := p.store.Current()
	if !ok {
		return Result{}, ErrNoSession
	}
	if !sess.HasTeam(teamID) {
		return Result{}, ErrUnknownTeam
	}

	tx := Transaction{
		ID:         uuid.NewString(),
		Kind:       TxKindAdjustment,
		TeamID:     teamID,
		DeviceID:   deviceID,
		DeviceKind: DeviceFacilitator,
		AcceptedAt: p.now(),
		Status:     TxAccepted,
		Reason:     strings.TrimSpace(reason),
		Delta:      delta,
	}
	if err := p.store.RecordAccepted(tx, false, ""); err != nil {
		return Result{}, err
	}

	events := []Event{
		{Name: EventTransactionAccepted, TeamID: teamID, Data: tx},
		{Name: EventScoreChanged, TeamID: teamID, Data: ScoreChange{
			TeamID: teamID,
			Delta:  delta,
			Total:  p.store.TeamScore(teamID),
		}},
	}
	return Result{Transaction: tx, Status: TxAccepted, Delta: delta, Events: events}, nil
}
