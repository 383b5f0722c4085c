// Package sqlite provides the durable checkpoint store backed by a
// single SQLite database file.
//
// The store is the harvester's resume log: one upserted row per work
// unit key. SQLite commits synchronously, so when MarkDone returns the
// record has been acknowledged by the storage layer
// (write-then-acknowledge); a crash between MarkDone and the next
// scheduler step never loses the record. WAL mode keeps concurrent
// readers cheap during a run.
package sqlite
