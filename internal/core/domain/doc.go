// Package domain defines the core business entities for gitminer.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Credential: One API token with its own quota window
//   - WorkUnit: A single schedulable fetch target
//   - RequestOutcome: The classified result of one execution attempt
//   - CheckpointRecord: The durable resolution of a work unit key
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
