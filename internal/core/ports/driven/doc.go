// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// The harvest pipeline depends on these interfaces, never on concrete
// adapters: the GitHub transport implements Fetcher, the SQLite store
// implements CheckpointStore, and the CSV/JSONL writers implement
// RecordSink. Tests substitute in-memory implementations.
package driven
