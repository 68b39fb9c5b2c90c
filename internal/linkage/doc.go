// Package linkage maintains references between tables.
//
// A reference is an ir.RowID column in one table naming a row of another.
// Removing rows from the referenced table compacts it, so references to
// surviving rows may have to follow a move, and references to removed
// rows must be resolved by a policy: cascade (remove the referencing row),
// nullify (store ir.InvalidRow) or reassign (point at another row).
//
// Both happen in a reaction to the removed fact, inside the invocation
// that removed the rows, so no other kernel ever observes a dangling or
// stale reference.
package linkage
