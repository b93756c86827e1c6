// Copyright 2024-2026 Aiku AI

package editbot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	_ "modernc.org/sqlite"
)

// SQLSyncStore persists the sync filter ID and next_batch token in SQLite so
// that a restarted bot resumes where it left off instead of replaying or
// skipping the timeline.
type SQLSyncStore struct {
	db *sql.DB
}

var _ mautrix.SyncStore = (*SQLSyncStore)(nil)

// NewSQLSyncStore opens (creating if necessary) the database at dbPath.
func NewSQLSyncStore(dbPath string) (*SQLSyncStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sync_state (
			user_id    TEXT PRIMARY KEY,
			filter_id  TEXT NOT NULL DEFAULT '',
			next_batch TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLSyncStore{db: db}, nil
}

// Close closes the database.
func (s *SQLSyncStore) Close() error {
	return s.db.Close()
}

func (s *SQLSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, filter_id) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET filter_id = excluded.filter_id
	`, userID, filterID)
	if err != nil {
		return fmt.Errorf("failed to save filter ID: %w", err)
	}
	return nil
}

func (s *SQLSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.loadColumn(ctx, "filter_id", userID)
}

func (s *SQLSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, next_batch) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET next_batch = excluded.next_batch
	`, userID, nextBatchToken)
	if err != nil {
		return fmt.Errorf("failed to save next batch token: %w", err)
	}
	return nil
}

func (s *SQLSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.loadColumn(ctx, "next_batch", userID)
}

// loadColumn reads a single column of the user's row. column is always a
// constant from this file.
func (s *SQLSyncStore) loadColumn(ctx context.Context, column string, userID id.UserID) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT "+column+" FROM sync_state WHERE user_id = ?", userID).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", column, err)
	}
	return value, nil
}
