// Package lock implements the per-(table, column) read/write lock table.
//
// Every invocation gets an Owner, the affinity token that all of its
// acquisitions (including those made while propagating reactions) go
// through. An owner re-entering a key it already holds with sufficient
// access takes a fast path and acquires nothing. Keys are acquired in the
// global ColumnKey order; a request ordered before the owner's highest
// held key is only tried, then waited on for a bounded reorder timeout,
// so it can never take part in a wait cycle.
//
// Blocked acquisitions park on the key's release channel, which is closed
// and replaced on every release. Nothing polls.
package lock
