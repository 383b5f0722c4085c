package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
	"github.com/collabgraph/gitminer/internal/core/ports/driving"
	"github.com/collabgraph/gitminer/internal/logger"
)

// Ensure HarvestPipeline implements the interface.
var _ driving.Harvester = (*HarvestPipeline)(nil)

// HarvestPipeline orchestrates a harvest run: it filters the seed set
// through the checkpoint store, fans the remainder out through the
// scheduler, writes emitted records to the sink, and checkpoints each
// unit after its rows are safely on the way to the sink
// (write-then-acknowledge).
type HarvestPipeline struct {
	fetcher     driven.Fetcher
	checkpoints driven.CheckpointStore
	sink        driven.RecordSink
	pool        *CredentialPool
	limiter     *RateLimiter
	cfg         Config
}

// NewHarvestPipeline wires a pipeline. The pool and limiter are built
// by the caller so credential hot-reload can feed the same pool.
func NewHarvestPipeline(
	fetcher driven.Fetcher,
	checkpoints driven.CheckpointStore,
	sink driven.RecordSink,
	pool *CredentialPool,
	limiter *RateLimiter,
	cfg Config,
) *HarvestPipeline {
	return &HarvestPipeline{
		fetcher:     fetcher,
		checkpoints: checkpoints,
		sink:        sink,
		pool:        pool,
		limiter:     limiter,
		cfg:         cfg.withDefaults(),
	}
}

// ParseTarget splits an "owner/repo" target line.
func ParseTarget(line string) (owner, repo string, err error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", domain.ErrInvalidTarget, line)
	}
	return parts[0], parts[1], nil
}

// SeedUnits enumerates the deterministic seed set for the given targets
// and entity kinds: one first-page unit per (target, kind). Follow-up
// pages are discovered dynamically during the run.
func SeedUnits(targets []string, kinds []domain.EntityKind, perPage int) ([]domain.WorkUnit, error) {
	seeds := make([]domain.WorkUnit, 0, len(targets)*len(kinds))
	for _, target := range targets {
		owner, repo, err := ParseTarget(target)
		if err != nil {
			return nil, err
		}
		for _, kind := range kinds {
			spec := domain.FetchSpec{
				Kind:    kind,
				Owner:   owner,
				Repo:    repo,
				PerPage: perPage,
			}
			if kind != domain.KindRepo {
				spec.Page = 1
			}
			seeds = append(seeds, domain.NewWorkUnit(spec))
		}
	}
	return seeds, nil
}

// Run executes the harvest over the seed set and returns the summary.
// Per-unit failures never abort the run; only a configuration error (no
// usable credentials) surfaces as a fatal error alongside the partial
// summary.
func (h *HarvestPipeline) Run(ctx context.Context, seeds []domain.WorkUnit) (*domain.Summary, error) {
	summary := &domain.Summary{
		RunID:           uuid.NewString(),
		StartedAt:       time.Now(),
		FailedKeys:      make(map[string]string),
		CredentialUsage: make(map[string]int64),
	}
	defer func() {
		summary.FinishedAt = time.Now()
		summary.CredentialUsage = h.pool.Usage()
		if err := h.sink.Flush(); err != nil {
			logger.Warn("flushing sink: %v", err)
		}
	}()

	pending, err := h.filterSeeds(ctx, seeds, summary)
	if err != nil {
		return summary, err
	}
	if len(pending) == 0 {
		logger.Info("nothing to do: all %d units already resolved", len(seeds))
		return summary, nil
	}

	logger.Section("harvest")
	logger.Info("run %s: %d units pending (%d skipped), %d credentials, concurrency %d",
		summary.RunID, len(pending), summary.Skipped, h.pool.Size(), h.cfg.MaxConcurrency)

	executor := NewRequestExecutor(h.fetcher, h.pool, h.cfg)
	policy := NewRetryPolicy(h.cfg)
	scheduler := NewScheduler(h.pool, h.limiter, executor, policy, h.cfg)

	results, runErr := scheduler.Run(ctx, pending)
	for result := range results {
		h.consume(ctx, result, summary)
	}

	if err := runErr(); err != nil {
		if errors.Is(err, domain.ErrNoCredentials) {
			return summary, err
		}
		// Cancellation: partial progress is already checkpointed.
		summary.Cancelled = true
	}
	return summary, nil
}

// filterSeeds drops seeds the checkpoint store has already resolved.
// Skipped units count as Done without issuing a single request.
func (h *HarvestPipeline) filterSeeds(ctx context.Context, seeds []domain.WorkUnit, summary *domain.Summary) ([]domain.WorkUnit, error) {
	keys := make([]string, len(seeds))
	byKey := make(map[string]domain.WorkUnit, len(seeds))
	for i, u := range seeds {
		keys[i] = u.Key
		byKey[u.Key] = u
	}

	pendingKeys, err := h.checkpoints.FilterPending(ctx, keys, h.cfg.RetryFailed)
	if err != nil {
		return nil, fmt.Errorf("loading pending units: %w", err)
	}

	pending := make([]domain.WorkUnit, 0, len(pendingKeys))
	for _, key := range pendingKeys {
		pending = append(pending, byKey[key])
	}
	summary.Skipped = len(seeds) - len(pending)
	summary.Done = summary.Skipped
	return pending, nil
}

// consume routes one scheduler result: sink write then checkpoint for
// Done units, checkpoint for Failed units, counting for Pending ones.
func (h *HarvestPipeline) consume(ctx context.Context, result Result, summary *domain.Summary) {
	unit := result.Unit
	switch unit.State {
	case domain.WorkDone:
		if len(result.Outcome.Records) > 0 {
			if err := h.sink.Write(ctx, result.Outcome.Records); err != nil {
				// The rows never reached the sink, so the unit must
				// not be acknowledged; it will rerun on resume.
				logger.Warn("unit %s: sink write failed: %v", unit.Key, err)
				summary.Failed++
				summary.FailedKeys[unit.Key] = fmt.Sprintf("sink write: %v", err)
				return
			}
		}

		cursor := ""
		if result.Outcome.NextPage > 0 {
			cursor = strconv.Itoa(result.Outcome.NextPage)
		}
		if err := h.checkpoints.MarkDone(ctx, unit.Key, cursor, len(result.Outcome.Records)); err != nil {
			// The unit completed; losing the record only means a
			// redundant refetch on resume.
			logger.Warn("unit %s: checkpoint write failed: %v", unit.Key, err)
		}
		summary.Done++
		summary.Records += len(result.Outcome.Records)
		logger.Debug("unit %s done (%d records)", unit.Key, len(result.Outcome.Records))

	case domain.WorkFailed:
		reason := result.FailReason
		if reason == "" && result.Outcome.Err != nil {
			reason = result.Outcome.Err.Error()
		}
		if err := h.checkpoints.MarkFailed(ctx, unit.Key, reason); err != nil {
			logger.Warn("unit %s: checkpoint write failed: %v", unit.Key, err)
		}
		summary.Failed++
		summary.FailedKeys[unit.Key] = reason
		logger.Warn("unit %s failed: %s", unit.Key, reason)

	default:
		summary.Pending++
		logger.Debug("unit %s left pending at exit", unit.Key)
	}
}
