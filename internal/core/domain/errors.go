package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoCredentials indicates no usable credentials were configured.
	// This is fatal: no progress is possible, the run aborts immediately.
	ErrNoCredentials = errors.New("no usable credentials configured")

	// ErrCredentialRevoked indicates a credential was permanently retired
	// after repeated authentication failures.
	ErrCredentialRevoked = errors.New("credential revoked")

	// ErrInvalidTarget indicates a malformed owner/repo target line.
	ErrInvalidTarget = errors.New("invalid target, expected owner/repo")
)

// WouldBlockError is returned by the credential pool when no credential is
// usable right now. RetryAt is the earliest time a Cooling credential
// becomes available, so callers can wait instead of busy-polling.
type WouldBlockError struct {
	RetryAt time.Time
}

func (e *WouldBlockError) Error() string {
	return fmt.Sprintf("no credential available until %s", e.RetryAt.Format(time.RFC3339))
}

// IsWouldBlock checks if the error indicates all credentials are cooling.
func IsWouldBlock(err error) (*WouldBlockError, bool) {
	var wb *WouldBlockError
	if errors.As(err, &wb) {
		return wb, true
	}
	return nil, false
}
