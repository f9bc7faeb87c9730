package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/afterdark/memoryhunt/internal/game"
)

// SnapshotStore is the durable medium behind SessionStore.Snapshot/Restore.
// A process restart loads the latest snapshot before any connection is
// admitted.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, data []byte) error
	// LoadSnapshot returns the most recent snapshot, or nil when none exists.
	LoadSnapshot(ctx context.Context) ([]byte, error)
	AppendTransaction(ctx context.Context, sessionID string, tx game.Transaction) error
}

// SQLiteSnapshotStore keeps one JSON document per session plus an
// append-only transaction audit table.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

func NewSQLiteSnapshotStore(ctx context.Context, db *sql.DB) (*SQLiteSnapshotStore, error) {
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			data        JSONB NOT NULL,
			accepted_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_session
			ON transactions (session_id, accepted_at)`,
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("initializing snapshot schema: %w", err)
		}
	}
	return &SQLiteSnapshotStore{db: db}, nil
}

func (s *SQLiteSnapshotStore) SaveSnapshot(ctx context.Context, sessionID string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, data, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, sessionID, data)
	return err
}

func (s *SQLiteSnapshotStore) LoadSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM sessions ORDER BY updated_at DESC LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

func (s *SQLiteSnapshotStore) AppendTransaction(ctx context.Context, sessionID string, tx game.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}
	// INSERT OR IGNORE: the audit row is immutable once written.
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transactions (id, session_id, data, accepted_at)
		VALUES (?, ?, ?, ?)
	`, tx.ID, sessionID, data, tx.AcceptedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// persister snapshots the session after each accepted transaction. Write
// failures are transient infrastructure errors: logged and isolated, they
// never abort processing for other connections or future transactions.
type persister struct {
	logger *slog.Logger
	store  *game.Store
	sink   SnapshotStore
}

func (p *persister) persist(ctx context.Context, tx game.Transaction) {
	if p.sink == nil {
		return
	}
	sess, ok := p.store.Current()
	if !ok {
		return
	}
	if err := p.sink.AppendTransaction(ctx, sess.ID, tx); err != nil {
		p.logger.Error("appending transaction to durable log", "tx_id", tx.ID, "error", err)
	}
	p.persistState(ctx)
}

// persistState saves the snapshot alone, for mutations that carry no
// transaction (session lifecycle changes).
func (p *persister) persistState(ctx context.Context) {
	if p.sink == nil {
		return
	}
	sess, ok := p.store.Current()
	if !ok {
		return
	}
	snap, err := p.store.Snapshot()
	if err != nil {
		p.logger.Error("building snapshot", "error", err)
		return
	}
	if err := p.sink.SaveSnapshot(ctx, sess.ID, snap); err != nil {
		p.logger.Error("saving snapshot", "session_id", sess.ID, "error", err)
	}
}
