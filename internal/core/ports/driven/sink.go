package driven

import (
	"context"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// RecordSink consumes normalized records emitted by the pipeline.
// The core is agnostic to the concrete schema; adapters persist rows as
// CSV, JSONL or anything else with the same contract: when Write
// returns nil, the rows are on their way to durable output and the
// pipeline may checkpoint the producing unit.
type RecordSink interface {
	Write(ctx context.Context, records []domain.Record) error

	// Flush forces buffered rows to the underlying writer. Called on
	// shutdown before the checkpoint store is closed.
	Flush() error
}

// TokenSource supplies the ordered list of credential secrets from an
// external configuration source. The core never persists raw values.
type TokenSource interface {
	Tokens(ctx context.Context) ([]string, error)
}
