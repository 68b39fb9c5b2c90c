// Package ir provides the shared record types of the universe.
//
// This package contains identities and immutable records only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Row ids are positional and only stable until the row they name is removed
//   - Facts are immutable once emitted
//   - Logical clocks (seq) only, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir
