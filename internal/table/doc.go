// Package table provides dense columnar storage for the universe.
//
// A Table is a set of equally long Columns sharing one row-id space. Rows
// are appended with Push and removed with Remove, which compacts by moving
// the last live row into the freed slot. Row ids are therefore only stable
// until the row they name is removed.
//
// Tracked columns keep a change log keyed by row id. The first write to a
// row since the last drain copies the original value out (edit checkout);
// later writes to the same row are not recorded again, so a drained change
// set lists every written row exactly once.
//
// Nothing in this package is synchronized. Callers serialize access
// through the lock manager.
package table
