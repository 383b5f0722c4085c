// Package memory provides in-memory store implementations used by
// tests and dry runs. Records do not survive the process; production
// runs use the sqlite package.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// CheckpointStore is an in-memory driven.CheckpointStore.
type CheckpointStore struct {
	mu      sync.RWMutex
	records map[string]domain.CheckpointRecord
}

var _ driven.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{records: make(map[string]domain.CheckpointRecord)}
}

// IsDone reports whether the key has been resolved Done.
func (s *CheckpointStore) IsDone(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return ok && rec.State == domain.CheckpointDone, nil
}

// MarkDone records a key as successfully resolved.
func (s *CheckpointStore) MarkDone(_ context.Context, key, cursor string, records int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = domain.CheckpointRecord{
		Key:       key,
		State:     domain.CheckpointDone,
		Cursor:    cursor,
		Records:   records,
		UpdatedAt: time.Now(),
	}
	return nil
}

// MarkFailed records a key as terminally failed unless it is Done.
func (s *CheckpointStore) MarkFailed(_ context.Context, key, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.State == domain.CheckpointDone {
		return nil
	}
	s.records[key] = domain.CheckpointRecord{
		Key:       key,
		State:     domain.CheckpointFailed,
		Reason:    reason,
		UpdatedAt: time.Now(),
	}
	return nil
}

// FilterPending returns the keys not yet Done (and not Failed, unless
// includeFailed is set).
func (s *CheckpointStore) FilterPending(_ context.Context, keys []string, includeFailed bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		rec, ok := s.records[key]
		if !ok {
			pending = append(pending, key)
			continue
		}
		if rec.State == domain.CheckpointFailed && includeFailed {
			pending = append(pending, key)
		}
	}
	return pending, nil
}

// Failed returns all failed keys mapped to their reasons.
func (s *CheckpointStore) Failed(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make(map[string]string)
	for key, rec := range s.records {
		if rec.State == domain.CheckpointFailed {
			failed[key] = rec.Reason
		}
	}
	return failed, nil
}

// Counts returns the number of Done and Failed records.
func (s *CheckpointStore) Counts(_ context.Context) (done, failed int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		switch rec.State {
		case domain.CheckpointDone:
			done++
		case domain.CheckpointFailed:
			failed++
		}
	}
	return done, failed, nil
}

// Get retrieves the record for a key, or domain.ErrNotFound.
func (s *CheckpointStore) Get(_ context.Context, key string) (*domain.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := rec
	return &copied, nil
}
