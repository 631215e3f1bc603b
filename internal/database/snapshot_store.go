package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a session.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists serialized session snapshots. It implements the
// orchestration engine's SnapshotSink.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a snapshot store over an open connection.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot upserts the latest snapshot for a session.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, sessionID string, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (session_id, snapshot)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot)
	`, sessionID, snapshot)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", sessionID, err)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot for a session.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) ([]byte, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM session_snapshots WHERE session_id = ?
	`, sessionID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", sessionID, err)
	}
	return snapshot, nil
}

// DeleteSnapshot removes a session's snapshot.
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM session_snapshots WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot for %s: %w", sessionID, err)
	}
	return nil
}

// PurgeOlderThan deletes snapshots not updated within the retention window.
// Returns the number of rows removed.
func (s *SnapshotStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM session_snapshots WHERE updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge stale snapshots: %w", err)
	}
	return result.RowsAffected()
}
