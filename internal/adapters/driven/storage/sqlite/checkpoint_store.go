package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// checkpointStore implements driven.CheckpointStore.
type checkpointStore struct {
	store *Store
}

var _ driven.CheckpointStore = (*checkpointStore)(nil)

// IsDone reports whether the key has been resolved Done.
func (s *checkpointStore) IsDone(ctx context.Context, key string) (bool, error) {
	var state string
	row := s.store.db.QueryRowContext(ctx,
		"SELECT state FROM checkpoints WHERE key = ?", key)
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying checkpoint: %w", err)
	}
	return state == string(domain.CheckpointDone), nil
}

// MarkDone upserts a Done record for the key. Once a key is Done it
// stays Done: a Done row is never downgraded.
func (s *checkpointStore) MarkDone(ctx context.Context, key, cursor string, records int) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, state, cursor, reason, records, updated_at)
		VALUES (?, 'done', ?, '', ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			state = 'done',
			cursor = excluded.cursor,
			reason = '',
			records = excluded.records,
			updated_at = excluded.updated_at
	`, key, cursor, records, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("marking checkpoint done: %w", err)
	}
	return nil
}

// MarkFailed upserts a Failed record, unless the key is already Done.
func (s *checkpointStore) MarkFailed(ctx context.Context, key, reason string) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, state, cursor, reason, records, updated_at)
		VALUES (?, 'failed', '', ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET
			state = 'failed',
			reason = excluded.reason,
			updated_at = excluded.updated_at
		WHERE checkpoints.state != 'done'
	`, key, reason, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("marking checkpoint failed: %w", err)
	}
	return nil
}

// FilterPending returns the subset of keys with no Done record; keys
// marked Failed are included only when includeFailed is set.
func (s *checkpointStore) FilterPending(ctx context.Context, keys []string, includeFailed bool) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	resolved := make(map[string]string, len(keys))
	// SQLite caps bound parameters; resolve in chunks.
	const chunkSize = 500
	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := make([]byte, 0, len(chunk)*2)
		args := make([]any, 0, len(chunk))
		for i, key := range chunk {
			if i > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, '?')
			args = append(args, key)
		}

		rows, err := s.store.db.QueryContext(ctx,
			"SELECT key, state FROM checkpoints WHERE key IN ("+string(placeholders)+")", args...)
		if err != nil {
			return nil, fmt.Errorf("querying checkpoints: %w", err)
		}
		for rows.Next() {
			var key, state string
			if err := rows.Scan(&key, &state); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning checkpoint: %w", err)
			}
			resolved[key] = state
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterating checkpoints: %w", err)
		}
		rows.Close()
	}

	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		state, ok := resolved[key]
		if !ok {
			pending = append(pending, key)
			continue
		}
		if state == string(domain.CheckpointFailed) && includeFailed {
			pending = append(pending, key)
		}
	}
	return pending, nil
}

// Failed returns all failed keys mapped to their recorded reasons.
func (s *checkpointStore) Failed(ctx context.Context) (map[string]string, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT key, reason FROM checkpoints WHERE state = 'failed'")
	if err != nil {
		return nil, fmt.Errorf("querying failed checkpoints: %w", err)
	}
	defer rows.Close()

	failed := make(map[string]string)
	for rows.Next() {
		var key, reason string
		if err := rows.Scan(&key, &reason); err != nil {
			return nil, fmt.Errorf("scanning failed checkpoint: %w", err)
		}
		failed[key] = reason
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failed checkpoints: %w", err)
	}
	return failed, nil
}

// Counts returns the number of Done and Failed records.
func (s *checkpointStore) Counts(ctx context.Context) (done, failed int, err error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM checkpoints GROUP BY state")
	if err != nil {
		return 0, 0, fmt.Errorf("counting checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, fmt.Errorf("scanning checkpoint count: %w", err)
		}
		switch domain.CheckpointState(state) {
		case domain.CheckpointDone:
			done = count
		case domain.CheckpointFailed:
			failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterating checkpoint counts: %w", err)
	}
	return done, failed, nil
}

// Get retrieves the record for a key, or domain.ErrNotFound.
func (s *checkpointStore) Get(ctx context.Context, key string) (*domain.CheckpointRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT key, state, cursor, reason, records, updated_at
		FROM checkpoints WHERE key = ?
	`, key)

	var rec domain.CheckpointRecord
	var state, updatedAt string
	if err := row.Scan(&rec.Key, &state, &rec.Cursor, &rec.Reason, &rec.Records, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning checkpoint: %w", err)
	}

	rec.State = domain.CheckpointState(state)
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}
