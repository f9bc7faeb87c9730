package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/afterdark/memoryhunt/internal/game"
)

// Envelope is the wire shape of every server→client broadcast message.
type Envelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

func newEnvelope(event string, data any) Envelope {
	return Envelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Broadcast group keys. A connection joins its device group, then (for
// facilitators) the role group and every team group, in that order, before
// any broadcast can reach it.
const groupFacilitators = "facilitators"

func deviceGroup(deviceID string) string { return "device:" + deviceID }
func teamGroup(teamID string) string     { return "team:" + teamID }

const (
	// Per-connection send buffer. A connection that falls this far behind
	// is dropped rather than stalling delivery to everyone else.
	sendBuffer = 32
	// Bounded recent-transaction window included in the full-state sync.
	recentWindow = 50
	writeTimeout = 5 * time.Second
)

// conn is one admitted station connection.
type conn struct {
	hub      *Hub
	ws       *websocket.Conn
	deviceID string
	kind     game.DeviceKind
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// Hub owns every live connection and an explicit group-membership table.
// Authentication happens before Admit; the hub never sees a connection that
// has not been verified.
type Hub struct {
	logger *slog.Logger
	store  *game.Store

	mu      sync.RWMutex
	started bool
	conns   map[*conn]struct{}
	groups  map[string]map[*conn]struct{}
}

func NewHub(logger *slog.Logger, store *game.Store) *Hub {
	return &Hub{
		logger: logger,
		store:  store,
		conns:  make(map[*conn]struct{}),
		groups: make(map[string]map[*conn]struct{}),
	}
}

// Start marks the hub ready. It must be called after the session snapshot
// has been restored; Admit refuses to run before it.
func (h *Hub) Start() {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
}

// Admit registers an authenticated connection: device record, group joins in
// fixed order, then a full-state sync sent to this connection alone. The
// sync is queued under the hub lock so no broadcast can interleave before it.
func (h *Hub) Admit(ws *websocket.Conn, deviceID string, kind game.DeviceKind) *conn {
	if _, err := h.store.RegisterDevice(deviceID, kind); err != nil {
		// No session yet: the station is admitted with an empty sync and
		// re-registered by SessionCreated once one exists.
		h.logger.Debug("device connected before session creation", "device_id", deviceID)
	}

	c := &conn{
		hub:      h,
		ws:       ws,
		deviceID: deviceID,
		kind:     kind,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		// Admitting before restore has completed would hand out stale state;
		// this is a startup-ordering bug, not a runtime condition.
		panic("hub: Admit called before Start")
	}
	h.conns[c] = struct{}{}
	h.join(c, deviceGroup(deviceID))
	if kind == game.DeviceFacilitator {
		h.join(c, groupFacilitators)
		if sess, ok := h.store.Current(); ok {
			for _, team := range sess.Teams {
				h.join(c, teamGroup(team))
			}
		}
	}
	if payload, err := json.Marshal(newEnvelope(game.EventStateSync, h.fullState(deviceID))); err == nil {
		c.send <- payload
	}
	h.mu.Unlock()

	go c.writeLoop()

	h.toGroup(groupFacilitators, newEnvelope(game.EventDeviceConnected, map[string]any{
		"deviceId": deviceID,
		"kind":     kind,
	}))
	h.logger.Info("connection admitted", "device_id", deviceID, "kind", kind)
	return c
}

// SessionCreated folds every live connection into the new session: device
// records for stations that connected before creation, and team-group joins
// for already-admitted facilitators.
func (h *Hub) SessionCreated() {
	sess, ok := h.store.Current()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if _, err := h.store.RegisterDevice(c.deviceID, c.kind); err != nil {
			h.logger.Error("registering live device", "device_id", c.deviceID, "error", err)
		}
		if c.kind == game.DeviceFacilitator {
			for _, team := range sess.Teams {
				h.join(c, teamGroup(team))
			}
		}
	}
}

// join must run under h.mu.
func (h *Hub) join(c *conn, group string) {
	if h.groups[group] == nil {
		h.groups[group] = make(map[*conn]struct{})
	}
	h.groups[group][c] = struct{}{}
}

// FullState is the complete per-device view sent on every (re)connection.
// Replaying it identically on reconnect removes stale-state bugs outright.
type FullState struct {
	Session            *SessionMeta       `json:"session"`
	Scores             map[string]int     `json:"scores"`
	RecentTransactions []game.Transaction `json:"recentTransactions"`
	// ScannedTokens is this device's own set, so a reloaded station can
	// rebuild local duplicate detection without waiting for a scan to fail.
	ScannedTokens []string `json:"scannedTokens"`
}

type SessionMeta struct {
	ID        string      `json:"id"`
	Status    game.Status `json:"status"`
	Teams     []string    `json:"teams"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (h *Hub) fullState(deviceID string) FullState {
	state := FullState{
		Scores:             h.store.Scores(),
		RecentTransactions: h.store.RecentTransactions(recentWindow),
		ScannedTokens:      h.store.DeviceScannedTokens(deviceID),
	}
	if state.RecentTransactions == nil {
		state.RecentTransactions = []game.Transaction{}
	}
	if state.ScannedTokens == nil {
		state.ScannedTokens = []string{}
	}
	if sess, ok := h.store.Current(); ok {
		meta := sessionMeta(sess)
		state.Session = &meta
	}
	return state
}

// FullStateFor exposes the sync payload for the REST state endpoint.
func (h *Hub) FullStateFor(deviceID string) FullState {
	return h.fullState(deviceID)
}

// Publish fans a domain event out to its groups: device-addressed events to
// that device only, team events to the team group plus all facilitators,
// everything else to every admitted connection.
func (h *Hub) Publish(ev game.Event) {
	env := newEnvelope(ev.Name, ev.Data)
	switch {
	case ev.DeviceID != "":
		h.toGroup(deviceGroup(ev.DeviceID), env)
	case ev.TeamID != "":
		h.toGroups([]string{teamGroup(ev.TeamID), groupFacilitators}, env)
	default:
		h.toAll(env)
	}
}

func (h *Hub) toGroup(group string, env Envelope) {
	h.toGroups([]string{group}, env)
}

func (h *Hub) toGroups(groups []string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encoding broadcast", "event", env.Event, "error", err)
		return
	}

	// Dedupe: a facilitator sits in the team group and the role group.
	targets := make(map[*conn]struct{})
	h.mu.RLock()
	for _, g := range groups {
		for c := range h.groups[g] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		c.trySend(data)
	}
}

func (h *Hub) toAll(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encoding broadcast", "event", env.Event, "error", err)
		return
	}
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.trySend(data)
	}
}

// trySend never blocks: a full buffer means the consumer is stalled, and a
// stalled consumer gets disconnected instead of backpressuring the hub.
func (c *conn) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("dropping slow connection", "device_id", c.deviceID)
		go c.close(websocket.StatusPolicyViolation, "send buffer overflow")
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// close tears the connection down exactly once: leave every group, mark the
// device disconnected, and notify the facilitator group. Abrupt network
// termination and deliberate closes converge here.
func (c *conn) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		h := c.hub
		h.mu.Lock()
		delete(h.conns, c)
		for group, members := range h.groups {
			delete(members, c)
			if len(members) == 0 {
				delete(h.groups, group)
			}
		}
		h.mu.Unlock()

		close(c.done)
		c.ws.Close(code, reason)

		h.store.MarkDisconnected(c.deviceID)
		h.toGroup(groupFacilitators, newEnvelope(game.EventDeviceDisconnected, map[string]any{
			"deviceId": c.deviceID,
			"kind":     c.kind,
		}))
		h.logger.Info("connection closed", "device_id", c.deviceID, "reason", reason)
	})
}

// readLoop consumes inbound frames until the peer goes away. Stations talk
// to the server over REST; the read side only detects liveness.
func (c *conn) readLoop(ctx context.Context) {
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			c.close(websocket.StatusNormalClosure, "peer closed")
			return
		}
	}
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}
