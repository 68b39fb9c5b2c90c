// Package journal provides SQLite-backed durable storage for universe
// traces.
//
// The journal is an append-only log of:
//   - Invocations: every kernel step, top-level, nested or reaction
//   - Facts: the changes each step produced, with their digests
//   - Firings: which reaction ran because of which fact
//   - Outcomes: the final status of each top-level invocation
//
// *Store implements engine.Observer, so a universe created with
// engine.WithObserver(store) journals every invocation it runs.
//
// # Ordering
//
// All queries order by seq, the universe's logical clock, then by token.
// Wall-clock time is never stored, so two runs of the same scenario with
// the same token generator produce identical journals.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Fact bodies are stored as RFC 8785 canonical JSON, so Verify can
// recompute each digest with ir.BodyDigest.
package journal
