package paysaga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps saga checkpoints in a SQLite table, one row per saga.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at dsn.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// modernc serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an open database and creates the table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS saga_states (
		saga_id    TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		state      JSON NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save upserts the saga state.
func (s *SQLiteStore) Save(ctx context.Context, sagaID string, state *WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	query := `
	INSERT INTO saga_states (saga_id, status, state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(saga_id) DO UPDATE SET
		status = excluded.status,
		state = excluded.state,
		updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, sagaID, string(state.Status), string(data), state.CreatedAt, state.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save saga %s: %w", sagaID, err)
	}
	return nil
}

// Load reads the saga state.
func (s *SQLiteStore) Load(ctx context.Context, sagaID string) (*WorkflowState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM saga_states WHERE saga_id = ?`, sagaID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga %s: %w", sagaID, err)
	}

	var state WorkflowState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the saga row.
func (s *SQLiteStore) Delete(ctx context.Context, sagaID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saga_states WHERE saga_id = ?`, sagaID); err != nil {
		return fmt.Errorf("failed to delete saga %s: %w", sagaID, err)
	}
	return nil
}

// List returns all saga IDs in order.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT saga_id FROM saga_states ORDER BY saga_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
