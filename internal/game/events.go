package game

// Event names carried on the broadcast envelope.
const (
	EventTransactionAccepted = "transaction:accepted"
	EventScoreChanged        = "score:changed"
	EventGroupCompleted      = "group:completed"
	EventSessionStatus       = "session:status"
	EventDeviceConnected     = "device:connected"
	EventDeviceDisconnected  = "device:disconnected"
	EventBatchAck            = "batch:ack"
	EventVideoStatus         = "video:status"
	EventStateSync           = "state:sync"
)

// Event is a domain change to fan out. Routing is positional: a DeviceID
// targets that device's group only; otherwise a TeamID targets the team
// group plus all facilitators; otherwise every admitted connection.
type Event struct {
	Name     string
	TeamID   string
	DeviceID string
	Data     any
}

// ScoreChange is the payload for score:changed.
type ScoreChange struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
	Total  int    `json:"total"`
}

// GroupCompletion is the payload for group:completed.
type GroupCompletion struct {
	TeamID     string `json:"teamId"`
	Group      string `json:"group"`
	Multiplier int    `json:"multiplier"`
	Bonus      int    `json:"bonus"`
}

// SessionStatusChange is the payload for session:status.
type SessionStatusChange struct {
	SessionID string `json:"sessionId"`
	Status    Status `json:"status"`
}
