package driven

import (
	"context"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// CheckpointStore durably records the resolution of work unit keys so a
// multi-hour harvest can be killed and resumed without redoing completed
// work. Implementations must guarantee write-then-acknowledge ordering:
// when MarkDone returns, a crash must not lose the record.
//
// Writes are keyed by work unit key and no two units share a key, so
// concurrent writers never conflict.
type CheckpointStore interface {
	// IsDone reports whether the key has already been resolved Done.
	IsDone(ctx context.Context, key string) (bool, error)

	// MarkDone records a key as successfully resolved. Idempotent.
	MarkDone(ctx context.Context, key, cursor string, records int) error

	// MarkFailed records a key as terminally failed with a reason.
	// A Failed key is excluded from automatic retries but reported in
	// the final summary so an operator can re-run it explicitly.
	MarkFailed(ctx context.Context, key, reason string) error

	// FilterPending returns the subset of keys not yet marked Done.
	// Keys marked Failed are included only when includeFailed is set.
	FilterPending(ctx context.Context, keys []string, includeFailed bool) ([]string, error)

	// Failed returns all failed keys mapped to their recorded reasons.
	Failed(ctx context.Context) (map[string]string, error)

	// Counts returns the number of Done and Failed records.
	Counts(ctx context.Context) (done, failed int, err error)

	// Get retrieves the record for a key, or domain.ErrNotFound.
	Get(ctx context.Context, key string) (*domain.CheckpointRecord, error)
}
