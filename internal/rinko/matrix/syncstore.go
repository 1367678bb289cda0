package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

// SyncStore persists the sync filter id and next_batch token in the
// matrix_sync_state table, so a restart resumes where the last run stopped
// instead of replaying room history.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore returns a SyncStore over db. The store migrations must have
// been applied.
func NewSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{db: db}
}

const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.save(ctx, userID, keyFilterID, filterID)
}

// LoadFilterID returns "" before the first save.
func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, keyFilterID)
}

func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.save(ctx, userID, keyNextBatch, nextBatchToken)
}

// LoadNextBatch returns "" on the first run.
func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.load(ctx, userID, keyNextBatch)
}

func (s *SyncStore) save(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID.String(), key, value)
	if err != nil {
		return fmt.Errorf("matrix: save %s: %w", key, err)
	}
	return nil
}

func (s *SyncStore) load(ctx context.Context, userID id.UserID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`,
		userID.String(), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("matrix: load %s: %w", key, err)
	}
	return value, nil
}
