// Package offline buffers scan submissions captured while a station is
// disconnected and uploads them as one idempotent batch on reconnect. The
// buffer is only cleared once the server's acknowledgment arrives; a failed
// or unacknowledged upload is retried with the same batch identifier, which
// is what lets the server deduplicate replays.
package offline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afterdark/memoryhunt/internal/game"
)

// Batch is one upload unit: a stable client-generated id plus the buffered
// submissions in capture order.
type Batch struct {
	ID          string
	Submissions []game.Submission
}

// Sender uploads a batch to the orchestrator. Implementations post to
// /api/batch; the returned error covers transport failure only — per-item
// rejections arrive in the acknowledgment.
type Sender interface {
	SendBatch(ctx context.Context, batch Batch) error
}

var ErrAckTimeout = errors.New("batch acknowledgment timed out")

// Queue is the client half of the offline coordinator. Safe for use from a
// scan callback and a flush loop concurrently.
type Queue struct {
	mu      sync.Mutex
	logger  *slog.Logger
	pending []game.Submission
	// batchID is assigned when a flush first forms a batch and reused until
	// that batch is acknowledged.
	batchID    string
	inFlight   []game.Submission
	ackCh      chan string
	ackTimeout time.Duration
}

func NewQueue(logger *slog.Logger, ackTimeout time.Duration) *Queue {
	if ackTimeout <= 0 {
		ackTimeout = 60 * time.Second
	}
	return &Queue{
		logger:     logger,
		ackCh:      make(chan string, 4),
		ackTimeout: ackTimeout,
	}
}

// Add buffers a submission captured while offline.
func (q *Queue) Add(sub game.Submission) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, sub)
}

// Pending returns how many submissions are waiting, including any batch
// still awaiting acknowledgment.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inFlight)
}

// HandleAck delivers a server acknowledgment. Called by the realtime layer
// when a batch:ack envelope arrives, or by the HTTP layer on a successful
// synchronous response.
func (q *Queue) HandleAck(batchID string) {
	select {
	case q.ackCh <- batchID:
	default:
		// A stale duplicate ack with a full channel can be dropped; the
		// flush loop only waits for one id at a time.
	}
}

// Flush uploads the buffer and waits for the acknowledgment. On transport
// failure or timeout the buffer stays intact and the next Flush retries with
// the same batch id. Returns nil when there was nothing to send.
func (q *Queue) Flush(ctx context.Context, sender Sender) error {
	batch, ok := q.takeBatch()
	if !ok {
		return nil
	}

	if err := q.drainStaleAcks(batch.ID); err != nil {
		// Ack for this batch already arrived from a previous attempt.
		q.clear(batch.ID)
		return nil
	}

	if err := sender.SendBatch(ctx, batch); err != nil {
		q.logger.Warn("batch upload failed, keeping buffer", "batch_id", batch.ID, "error", err)
		return err
	}

	timer := time.NewTimer(q.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			q.logger.Warn("batch acknowledgment timed out, keeping buffer", "batch_id", batch.ID)
			return ErrAckTimeout
		case id := <-q.ackCh:
			if id != batch.ID {
				continue
			}
			q.clear(batch.ID)
			q.logger.Info("batch acknowledged", "batch_id", batch.ID, "transactions", len(batch.Submissions))
			return nil
		}
	}
}

// takeBatch forms (or re-forms) the in-flight batch. Submissions added after
// a batch is formed wait for the next flush so the retried payload matches
// the id it was first sent under.
func (q *Queue) takeBatch() (Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.batchID == "" {
		if len(q.pending) == 0 {
			return Batch{}, false
		}
		q.batchID = uuid.NewString()
		q.inFlight = q.pending
		q.pending = nil
	}
	return Batch{ID: q.batchID, Submissions: q.inFlight}, true
}

// drainStaleAcks consumes acks queued before this attempt; returns non-nil
// if one of them already acknowledges the current batch.
func (q *Queue) drainStaleAcks(batchID string) error {
	for {
		select {
		case id := <-q.ackCh:
			if id == batchID {
				return errors.New("already acknowledged")
			}
		default:
			return nil
		}
	}
}

func (q *Queue) clear(batchID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.batchID == batchID {
		q.batchID = ""
		q.inFlight = nil
	}
}
