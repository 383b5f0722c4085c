package domain

import "time"

// CheckpointState is the terminal state recorded for a work unit key.
type CheckpointState string

const (
	CheckpointDone   CheckpointState = "done"
	CheckpointFailed CheckpointState = "failed"
)

// CheckpointRecord is the durable resolution of one work unit key.
// At most one record exists per key; once Done, a key is never
// re-dispatched, even across process restarts.
type CheckpointRecord struct {
	Key   string
	State CheckpointState

	// Cursor is the last pagination cursor observed for the unit,
	// recorded so operators can audit where a target ended.
	Cursor string

	// Reason is the failure reason for Failed records.
	Reason string

	// Records is the number of rows the unit emitted.
	Records int

	UpdatedAt time.Time
}
