package driving

import (
	"context"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// Harvester runs a harvest over a seed set of work units and returns a
// structured summary. Run is restartable: seeds already resolved in the
// checkpoint store are skipped without issuing requests.
//
// Cancellation via ctx stops admission of new units immediately, lets
// in-flight requests finish or time out, and flushes the checkpoint
// store before returning; partial progress is never discarded.
type Harvester interface {
	Run(ctx context.Context, seeds []domain.WorkUnit) (*domain.Summary, error)
}
