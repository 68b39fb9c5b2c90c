// Package engine implements the universe: the registry of tables and
// resources, and the kernel engine that runs work against them.
//
// ARCHITECTURE:
//
// Kernels declare their data dependencies as parameters (Read, Edit,
// NewRows, TakeRows, Rows, Res, Mut). Every invocation goes through the
// same state machine:
//
//  1. Resolve: each parameter reports the locks it needs. Unknown tables,
//     columns or resources and element type mismatches fail here, before
//     any lock is taken.
//  2. Acquire: the requests, plus those of every reaction the kernel's
//     writes could trigger, are acquired in one global order. This is the
//     only blocking point.
//  3. Execute: the body runs. Pushes apply immediately, removals wait for
//     the end of the step. A failing or panicking body is rolled back.
//  4. Propagate: the step's row activity and tracked change logs become
//     facts (removed, pushed, edited). Matching reactions run depth first
//     on the same goroutine with the same lock owner, extending the lock
//     set only with what is missing, until no fact is left unhandled.
//  5. Release: every lock of the invocation is released in reverse
//     acquisition order.
//
// Concurrency:
// Independent invocations run on independent goroutines and only ever
// wait at step 2 (or when propagation extends the lock set). Two kernels
// writing the same column are serialized and the second observes the
// fully propagated effects of the first. A table's row bookkeeping is its
// own lock key, so kernels editing disjoint columns of one table run
// concurrently unless one of them adds or removes rows.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Invocations, facts, firings and outcomes are stamped with Clock.Next().
// Wall-clock time is only used for metrics.
//
// Bounded propagation:
// A step quota and a cycle detector keyed by (reaction, fact digest) turn
// runaway reactions into PROPAGATION_FAILED instead of a hang.
package engine
