// Package game owns the authoritative session state and the transaction
// processing rules: per-device duplicate rejection, group completion
// bonuses, and first-write-wins claims on exclusive tokens.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusEnded    Status = "ended"
	StatusArchived Status = "archived"
)

type DeviceKind string

const (
	// DeviceFacilitator stations are scoring-authoritative and subject to
	// per-device duplicate rejection.
	DeviceFacilitator DeviceKind = "facilitator"
	// DeviceParticipant stations unlock content; their repeat scans always
	// succeed and never move the score.
	DeviceParticipant DeviceKind = "participant"
)

type Device struct {
	ID        string     `json:"id"`
	Kind      DeviceKind `json:"kind"`
	Connected bool       `json:"connected"`
	LastSeen  time.Time  `json:"lastSeen"`
}

type TxStatus string

const (
	TxAccepted          TxStatus = "accepted"
	TxRejectedDuplicate TxStatus = "rejected-duplicate"
	TxRejectedInvalid   TxStatus = "rejected-invalid"
)

type TxKind string

const (
	TxKindScan TxKind = "scan"
	// TxKindAdjustment records an administrative score correction as a
	// distinct audit entry. History is never rewritten.
	TxKindAdjustment TxKind = "adjustment"
)

// Transaction is one accepted scan (or adjustment), immutable once recorded.
type Transaction struct {
	ID         string     `json:"id"`
	Kind       TxKind     `json:"kind"`
	TokenID    string     `json:"tokenId,omitempty"`
	TeamID     string     `json:"teamId"`
	DeviceID   string     `json:"deviceId"`
	DeviceKind DeviceKind `json:"deviceKind"`
	ClientTime time.Time  `json:"clientTimestamp"`
	AcceptedAt time.Time  `json:"acceptedAt"`
	Status     TxStatus   `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Delta      int        `json:"scoreDelta"`
	Unknown    bool       `json:"unknownToken,omitempty"`
}

// Claim records which team first scanned a session-exclusive token.
type Claim struct {
	TeamID     string    `json:"teamId"`
	DeviceID   string    `json:"deviceId"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Session is the full serializable state of one game instance. Every field
// feeds either scoring or duplicate detection, so all of it must survive a
// snapshot/restore round trip.
type Session struct {
	ID     string   `json:"id"`
	Status Status   `json:"status"`
	Teams  []string `json:"teams"`

	Devices map[string]*Device `json:"devices"`
	Log     []Transaction      `json:"log"`

	// DeviceScanned tracks token ids per submitting device; the duplicate
	// rule is enforced for facilitator devices only, but every device's set
	// is kept so a reconnecting station can rebuild its local state.
	DeviceScanned map[string]map[string]bool `json:"deviceScanned"`
	// TeamScanned tracks scoring-authoritative scans per team, which drives
	// group completion.
	TeamScanned     map[string]map[string]bool `json:"teamScanned"`
	Scores          map[string]int             `json:"scores"`
	CompletedGroups map[string]map[string]bool `json:"completedGroups"`
	Claims          map[string]Claim           `json:"claims"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	ErrNoSession     = errors.New("no session")
	ErrSessionExists = errors.New("a session is already in progress")
	ErrBadTransition = errors.New("invalid status transition")
	ErrUnknownTeam   = errors.New("unknown team")
	ErrEmptySnapshot = errors.New("empty snapshot")
)

// Store owns the single session. All mutations run under one mutex; reads
// take the same lock and return copies, so the hub can build snapshots while
// the processor writes.
type Store struct {
	mu          sync.RWMutex
	logger      *slog.Logger
	session     *Session
	idleTimeout time.Duration

	now func() time.Time
}

func NewStore(logger *slog.Logger, idleTimeout time.Duration) *Store {
	return &Store{
		logger:      logger,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// CreateSession starts a new session in the created state. A session that is
// not yet ended blocks creation; archived history is replaced.
func (s *Store) CreateSession(teams []string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.Status != StatusEnded && s.session.Status != StatusArchived {
		return Session{}, ErrSessionExists
	}

	now := s.now()
	sess := &Session{
		ID:              uuid.NewString(),
		Status:          StatusCreated,
		Teams:           append([]string(nil), teams...),
		Devices:         make(map[string]*Device),
		DeviceScanned:   make(map[string]map[string]bool),
		TeamScanned:     make(map[string]map[string]bool),
		Scores:          make(map[string]int),
		CompletedGroups: make(map[string]map[string]bool),
		Claims:          make(map[string]Claim),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, team := range teams {
		sess.Scores[team] = 0
	}
	s.session = sess
	s.logger.Info("session created", "session_id", sess.ID, "teams", teams)
	return sess.copy(), nil
}

var transitions = map[Status][]Status{
	StatusCreated: {StatusActive},
	StatusActive:  {StatusPaused, StatusEnded},
	StatusPaused:  {StatusActive, StatusEnded},
	StatusEnded:   {StatusArchived},
}

// SetStatus moves the session along created→active→paused↔active→ended→archived.
func (s *Store) SetStatus(to Status) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Session{}, ErrNoSession
	}
	from := s.session.Status
	allowed := false
	for _, t := range transitions[from] {
		if t == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return Session{}, fmt.Errorf("%w: %s → %s", ErrBadTransition, from, to)
	}
	s.session.Status = to
	s.session.UpdatedAt = s.now()
	s.logger.Info("session status changed", "session_id", s.session.ID, "from", from, "to", to)
	return s.session.copy(), nil
}

// Current returns a copy of the session regardless of status.
func (s *Store) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Session{}, false
	}
	return s.session.copy(), true
}

// Active returns the session only while it accepts transactions.
func (s *Store) Active() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil || s.session.Status != StatusActive {
		return Session{}, false
	}
	return s.session.copy(), true
}

// AutoPauseIfIdle pauses an active session whose last mutation is older than
// the configured idle timeout. Called opportunistically on each submission
// rather than from a scheduler.
func (s *Store) AutoPauseIfIdle(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimeout <= 0 || s.session == nil || s.session.Status != StatusActive {
		return false
	}
	if now.Sub(s.session.UpdatedAt) < s.idleTimeout {
		return false
	}
	s.session.Status = StatusPaused
	s.session.UpdatedAt = now
	s.logger.Warn("session auto-paused after inactivity", "session_id", s.session.ID, "idle_timeout", s.idleTimeout)
	return true
}

// RegisterDevice creates or refreshes a device record. Devices are never
// deleted so transaction attribution stays valid.
func (s *Store) RegisterDevice(id string, kind DeviceKind) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Device{}, ErrNoSession
	}
	d, ok := s.session.Devices[id]
	if !ok {
		d = &Device{ID: id, Kind: kind}
		s.session.Devices[id] = d
	}
	d.Kind = kind
	d.Connected = true
	d.LastSeen = s.now()
	return *d, nil
}

// MarkDisconnected flags the device offline with a timestamp.
func (s *Store) MarkDisconnected(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return
	}
	if d, ok := s.session.Devices[id]; ok {
		d.Connected = false
		d.LastSeen = s.now()
	}
}

// RecordAccepted is the single mutation path for transactions. It appends to
// the log, updates scanned sets, scores, claims, and group completion. The
// caller (the processor) has already validated the transaction.
func (s *Store) RecordAccepted(tx Transaction, exclusive bool, completedGroup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoSession
	}
	sess := s.session
	sess.Log = append(sess.Log, tx)

	// A station that connected before the session existed has no record yet;
	// its first transaction creates one so attribution and last-seen tracking
	// never depend on reconnect ordering.
	d, ok := sess.Devices[tx.DeviceID]
	if !ok {
		d = &Device{ID: tx.DeviceID, Kind: tx.DeviceKind}
		sess.Devices[tx.DeviceID] = d
	}
	d.LastSeen = tx.AcceptedAt

	if tx.Kind == TxKindScan && tx.TokenID != "" {
		if sess.DeviceScanned[tx.DeviceID] == nil {
			sess.DeviceScanned[tx.DeviceID] = make(map[string]bool)
		}
		sess.DeviceScanned[tx.DeviceID][tx.TokenID] = true

		if tx.DeviceKind == DeviceFacilitator && !tx.Unknown {
			if sess.TeamScanned[tx.TeamID] == nil {
				sess.TeamScanned[tx.TeamID] = make(map[string]bool)
			}
			sess.TeamScanned[tx.TeamID][tx.TokenID] = true
		}
		if exclusive {
			if _, claimed := sess.Claims[tx.TokenID]; !claimed {
				sess.Claims[tx.TokenID] = Claim{TeamID: tx.TeamID, DeviceID: tx.DeviceID, AcceptedAt: tx.AcceptedAt}
			}
		}
	}

	if completedGroup != "" {
		if sess.CompletedGroups[tx.TeamID] == nil {
			sess.CompletedGroups[tx.TeamID] = make(map[string]bool)
		}
		sess.CompletedGroups[tx.TeamID][completedGroup] = true
	}

	sess.Scores[tx.TeamID] += tx.Delta
	sess.UpdatedAt = tx.AcceptedAt
	return nil
}

// HasDeviceScanned reports whether the device already recorded this token in
// the current session.
func (s *Store) HasDeviceScanned(deviceID, tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return false
	}
	return s.session.DeviceScanned[deviceID][tokenID]
}

// DeviceScannedTokens returns the device's scanned-token set, sorted, for
// reconnection state restoration.
func (s *Store) DeviceScannedTokens(deviceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	set := s.session.DeviceScanned[deviceID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TeamHasScanned reports whether any facilitator scan recorded this token
// for the team.
func (s *Store) TeamHasScanned(teamID, tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return false
	}
	return s.session.TeamScanned[teamID][tokenID]
}

func (s *Store) GroupCompleted(teamID, group string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return false
	}
	return s.session.CompletedGroups[teamID][group]
}

// ClaimFor returns the winning claim for an exclusive token, if any.
func (s *Store) ClaimFor(tokenID string) (Claim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return Claim{}, false
	}
	c, ok := s.session.Claims[tokenID]
	return c, ok
}

func (s *Store) TeamScore(teamID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return 0
	}
	return s.session.Scores[teamID]
}

// Scores returns a copy of every team's total.
func (s *Store) Scores() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	if s.session == nil {
		return out
	}
	for team, score := range s.session.Scores {
		out[team] = score
	}
	return out
}

// RecentTransactions returns up to n log entries, newest last.
func (s *Store) RecentTransactions(n int) []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	log := s.session.Log
	if len(log) > n {
		log = log[len(log)-n:]
	}
	return append([]Transaction(nil), log...)
}

// Snapshot serializes the complete session state.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrNoSession
	}
	return json.Marshal(s.session)
}

// Restore replaces the store's state from a snapshot. Must complete before
// any connection is admitted.
func (s *Store) Restore(data []byte) error {
	if len(data) == 0 {
		return ErrEmptySnapshot
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	if sess.Devices == nil {
		sess.Devices = make(map[string]*Device)
	}
	if sess.DeviceScanned == nil {
		sess.DeviceScanned = make(map[string]map[string]bool)
	}
	if sess.TeamScanned == nil {
		sess.TeamScanned = make(map[string]map[string]bool)
	}
	if sess.Scores == nil {
		sess.Scores = make(map[string]int)
	}
	if sess.CompletedGroups == nil {
		sess.CompletedGroups = make(map[string]map[string]bool)
	}
	if sess.Claims == nil {
		sess.Claims = make(map[string]Claim)
	}
	// Nobody is live over a restart.
	for _, d := range sess.Devices {
		d.Connected = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sess
	s.logger.Info("session restored", "session_id", sess.ID, "status", sess.Status, "transactions", len(sess.Log))
	return nil
}

func (sess *Session) copy() Session {
	out := *sess
	out.Teams = append([]string(nil), sess.Teams...)
	out.Devices = make(map[string]*Device, len(sess.Devices))
	for id, d := range sess.Devices {
		dc := *d
		out.Devices[id] = &dc
	}
	out.Scores = make(map[string]int, len(sess.Scores))
	for team, score := range sess.Scores {
		out.Scores[team] = score
	}
	// The log and the scan sets are reachable through dedicated accessors
	// that copy under the lock; the session copy carries metadata only.
	out.Log = nil
	out.DeviceScanned = nil
	out.TeamScanned = nil
	out.CompletedGroups = nil
	out.Claims = nil
	return out
}

// HasTeam reports whether the team id belongs to this session.
func (sess *Session) HasTeam(teamID string) bool {
	for _, t := range sess.Teams {
		if t == teamID {
			return true
		}
	}
	return false
}
