package table

import (
	"iter"
	"maps"
	"reflect"
	"slices"

	"github.com/roach88/universe/internal/ir"
)

// Change is one entry of a drained change log: a row that was written and
// the value it held before the first write.
type Change struct {
	Row ir.RowID
	Old any
}

// AnyColumn is the type-erased view of a Column used by Table and by the
// layers that only know column types at runtime.
type AnyColumn interface {
	Name() ir.ColumnName
	Type() reflect.Type
	Len() int
	Tracked() bool
	SetTracked(on bool)
	Value(id ir.RowID) any
	SetValue(id ir.RowID, v any) error
	Pending() int
	DrainChanges() []ir.RowID
	Drain() []Change
	Restore(changes []Change)

	convert(v any) (any, error)
	zero() any
	appendValue(v any)
	swapRemove(id ir.RowID)
	truncate(n int)
	bind(table ir.TableName)
}

// Column stores one attribute for every row of a table.
type Column[T any] struct {
	table   ir.TableName
	name    ir.ColumnName
	data    []T
	tracked bool
	changes map[ir.RowID]T
}

// NewColumn creates an empty, untracked column.
func NewColumn[T any](name ir.ColumnName) *Column[T] {
	return &Column[T]{name: name}
}

func (c *Column[T]) Name() ir.ColumnName { return c.name }

func (c *Column[T]) Type() reflect.Type { return reflect.TypeFor[T]() }

func (c *Column[T]) Len() int { return len(c.data) }

func (c *Column[T]) Tracked() bool { return c.tracked }

// SetTracked turns change tracking on or off. Turning it off discards the
// pending change log.
func (c *Column[T]) SetTracked(on bool) {
	c.tracked = on
	if !on {
		c.changes = nil
	}
}

// At returns the value of row id. It panics when id is out of range, like
// indexing a slice.
func (c *Column[T]) At(id ir.RowID) T {
	return c.data[id]
}

// Lookup returns the value of row id and whether id is in range.
func (c *Column[T]) Lookup(id ir.RowID) (T, bool) {
	if !id.Valid() || int(id) >= len(c.data) {
		var zero T
		return zero, false
	}
	return c.data[id], true
}

// Set writes v to row id, recording the row in the change log when the
// column is tracked.
func (c *Column[T]) Set(id ir.RowID, v T) {
	c.checkout(id)
	c.data[id] = v
}

// Update checks row id out for editing and passes a pointer to its value
// to fn. Values holding references (slices, maps) should be copied before
// being mutated in place, otherwise the recorded original changes too.
func (c *Column[T]) Update(id ir.RowID, fn func(*T)) {
	c.checkout(id)
	fn(&c.data[id])
}

// checkout records the original value of row id the first time it is
// written since the last drain.
func (c *Column[T]) checkout(id ir.RowID) {
	v := c.data[id]
	if !c.tracked {
		return
	}
	if c.changes == nil {
		c.changes = make(map[ir.RowID]T)
	}
	if _, ok := c.changes[id]; !ok {
		c.changes[id] = v
	}
}

// All iterates the column in row order.
func (c *Column[T]) All() iter.Seq2[ir.RowID, T] {
	return func(yield func(ir.RowID, T) bool) {
		for i := range c.data {
			if !yield(ir.RowID(i), c.data[i]) {
				return
			}
		}
	}
}

// Pending returns the number of rows in the change log.
func (c *Column[T]) Pending() int { return len(c.changes) }

// DrainChanges returns the sorted ids of rows written since the last
// drain and clears the change log.
func (c *Column[T]) DrainChanges() []ir.RowID {
	ids := slices.Sorted(maps.Keys(c.changes))
	c.changes = nil
	return ids
}

// Drain is DrainChanges with the original values, sorted by row.
func (c *Column[T]) Drain() []Change {
	ids := slices.Sorted(maps.Keys(c.changes))
	out := make([]Change, len(ids))
	for i, id := range ids {
		out[i] = Change{Row: id, Old: c.changes[id]}
	}
	c.changes = nil
	return out
}

// Restore writes original values back without recording them.
func (c *Column[T]) Restore(changes []Change) {
	for _, ch := range changes {
		if int(ch.Row) < len(c.data) {
			c.data[ch.Row] = ch.Old.(T)
		}
	}
}

func (c *Column[T]) Value(id ir.RowID) any {
	return c.data[id]
}

// SetValue is Set for callers holding an untyped value. Numeric values
// are converted when the conversion is lossless.
func (c *Column[T]) SetValue(id ir.RowID, v any) error {
	if !id.Valid() || int(id) >= len(c.data) {
		return ErrInvalidRow
	}
	tv, err := c.convert(v)
	if err != nil {
		return err
	}
	c.Set(id, tv.(T))
	return nil
}

func (c *Column[T]) convert(v any) (any, error) {
	tv, ok := convertValue[T](v)
	if !ok {
		return nil, &TypeError{Table: c.table, Column: c.name, Want: c.Type(), Got: reflect.TypeOf(v)}
	}
	return tv, nil
}

func (c *Column[T]) zero() any {
	var zero T
	return zero
}

func (c *Column[T]) appendValue(v any) {
	c.data = append(c.data, v.(T))
}

// swapRemove moves the last row into id and shrinks the column by one.
// The change log follows the move: an entry for id is dropped and an
// entry for the moved row is re-keyed.
func (c *Column[T]) swapRemove(id ir.RowID) {
	last := ir.RowID(len(c.data) - 1)
	if c.changes != nil {
		delete(c.changes, id)
		if old, ok := c.changes[last]; ok && last != id {
			delete(c.changes, last)
			c.changes[id] = old
		}
	}
	c.data[id] = c.data[last]
	var zero T
	c.data[last] = zero
	c.data = c.data[:last]
}

func (c *Column[T]) truncate(n int) {
	var zero T
	for i := n; i < len(c.data); i++ {
		c.data[i] = zero
		delete(c.changes, ir.RowID(i))
	}
	c.data = c.data[:n]
}

func (c *Column[T]) bind(table ir.TableName) { c.table = table }

// convertValue converts v to T. Values already of type T pass through,
// nil becomes the zero value, and numeric values convert when the
// conversion round-trips exactly.
func convertValue[T any](v any) (T, bool) {
	var zero T
	if v == nil {
		return zero, true
	}
	if tv, ok := v.(T); ok {
		return tv, true
	}
	want := reflect.TypeFor[T]()
	rv := reflect.ValueOf(v)
	if !isNumeric(rv.Kind()) || !isNumeric(want.Kind()) || !rv.CanConvert(want) {
		return zero, false
	}
	out := rv.Convert(want)
	if !out.CanConvert(rv.Type()) || out.Convert(rv.Type()).Interface() != v {
		return zero, false
	}
	return out.Interface().(T), true
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
