package domain

import "time"

// Summary is the structured exit report of a harvest run. It is returned
// on completion, partial failure and cancellation alike; every seed unit
// is accounted for in exactly one of Done, Failed or Pending.
type Summary struct {
	// RunID identifies this run in logs and output.
	RunID string

	StartedAt  time.Time
	FinishedAt time.Time

	// Done counts units resolved successfully (including units skipped
	// because a previous run already completed them).
	Done int

	// Skipped counts the subset of Done resolved by the checkpoint store
	// without issuing a request.
	Skipped int

	// Failed counts units that ended terminally failed.
	Failed int

	// Pending counts units left unresolved at exit (cancellation).
	Pending int

	// Records counts rows emitted to the sink.
	Records int

	// FailedKeys lists permanently failed unit keys with reasons.
	FailedKeys map[string]string

	// CredentialUsage maps credential ID to requests issued.
	CredentialUsage map[string]int64

	// Cancelled reports whether the run stopped on operator cancellation.
	Cancelled bool
}
