package table

import (
	"cmp"
	"fmt"
	"iter"
	"reflect"
	"slices"

	"github.com/roach88/universe/internal/ir"
)

// Row maps column names to values for Push.
type Row map[ir.ColumnName]any

// RemovedRow and Move are the records a removal produces.
type (
	RemovedRow = ir.RemovedRow
	Move       = ir.Move
)

// Removal describes the effect of one Remove call.
type Removal struct {
	// Rows holds the removed rows with their pre-compaction ids, ascending.
	Rows []RemovedRow

	// Moves maps each surviving row that changed slot from its original
	// id to its final id, ascending by origin.
	Moves []Move
}

// IDs returns the removed row ids.
func (r Removal) IDs() []ir.RowID {
	ids := make([]ir.RowID, len(r.Rows))
	for i, row := range r.Rows {
		ids[i] = row.ID
	}
	return ids
}

// Empty reports whether nothing was removed.
func (r Removal) Empty() bool {
	return len(r.Rows) == 0
}

// Table is a named set of same-length columns.
type Table struct {
	name    ir.TableName
	columns []AnyColumn
	index   map[ir.ColumnName]int
	length  int
}

// New creates an empty table without columns.
func New(name ir.TableName) *Table {
	return &Table{
		name:  name,
		index: make(map[ir.ColumnName]int),
	}
}

func (t *Table) Name() ir.TableName { return t.name }

// Len returns the number of live rows.
func (t *Table) Len() int { return t.length }

// Valid reports whether id names a live row.
func (t *Table) Valid(id ir.RowID) bool {
	return id.Valid() && int(id) < t.length
}

// Columns returns the column names in declaration order.
func (t *Table) Columns() []ir.ColumnName {
	names := make([]ir.ColumnName, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name()
	}
	return names
}

// Column returns the type-erased column called name.
func (t *Table) Column(name ir.ColumnName) (AnyColumn, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Attach adds col to the table, padding it with zero values up to the
// current row count.
func (t *Table) Attach(col AnyColumn) error {
	if _, ok := t.index[col.Name()]; ok {
		return fmt.Errorf("%s.%s: %w", t.name, col.Name(), ErrDuplicateColumn)
	}
	if col.Len() > t.length {
		return fmt.Errorf("%s.%s: column has %d rows, table has %d", t.name, col.Name(), col.Len(), t.length)
	}
	for col.Len() < t.length {
		col.appendValue(col.zero())
	}
	col.bind(t.name)
	t.index[col.Name()] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

// AddColumn declares a new column of type T.
func AddColumn[T any](t *Table, name ir.ColumnName) (*Column[T], error) {
	col := NewColumn[T](name)
	if err := t.Attach(col); err != nil {
		return nil, err
	}
	return col, nil
}

// ColumnOf returns the column called name as a Column[T].
func ColumnOf[T any](t *Table, name ir.ColumnName) (*Column[T], error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", t.name, name, ErrUnknownColumn)
	}
	col, ok := c.(*Column[T])
	if !ok {
		return nil, &TypeError{Table: t.name, Column: name, Want: c.Type(), Got: reflect.TypeFor[T]()}
	}
	return col, nil
}

// Push appends one row across every column. Values are converted and
// checked before anything is appended, so on error no column changes.
// Columns missing from row get their zero value.
func (t *Table) Push(row Row) (ir.RowID, error) {
	for name := range row {
		if _, ok := t.index[name]; !ok {
			return ir.InvalidRow, fmt.Errorf("push %s: %s: %w", t.name, name, ErrUnknownColumn)
		}
	}
	if uint64(t.length) >= uint64(ir.InvalidRow) {
		return ir.InvalidRow, fmt.Errorf("push %s: table is full", t.name)
	}

	values := make([]any, len(t.columns))
	for i, col := range t.columns {
		v, ok := row[col.Name()]
		if !ok {
			values[i] = col.zero()
			continue
		}
		cv, err := col.convert(v)
		if err != nil {
			return ir.InvalidRow, fmt.Errorf("push %s: %w", t.name, err)
		}
		values[i] = cv
	}

	for i, col := range t.columns {
		col.appendValue(values[i])
	}
	id := ir.RowID(t.length)
	t.length++
	return id, nil
}

// Remove deletes the given rows, compacting each hole by moving the last
// live row into it. Duplicate ids are removed once. If any id is invalid
// nothing is removed.
func (t *Table) Remove(ids ...ir.RowID) (Removal, error) {
	for _, id := range ids {
		if !t.Valid(id) {
			return Removal{}, fmt.Errorf("remove %s %s: %w", t.name, id, ErrInvalidRow)
		}
	}
	targets := slices.Clone(ids)
	slices.Sort(targets)
	targets = slices.Compact(targets)

	var out Removal
	out.Rows = make([]RemovedRow, len(targets))
	for i, id := range targets {
		out.Rows[i] = RemovedRow{ID: id, Values: t.Snapshot(id)}
	}

	// Descending order guarantees the last row is never itself pending.
	origin := make(map[ir.RowID]ir.RowID)
	for i := len(targets) - 1; i >= 0; i-- {
		id := targets[i]
		last := ir.RowID(t.length - 1)
		for _, col := range t.columns {
			col.swapRemove(id)
		}
		if id != last {
			from, ok := origin[last]
			if !ok {
				from = last
			}
			delete(origin, last)
			origin[id] = from
		}
		t.length--
	}

	for to, from := range origin {
		out.Moves = append(out.Moves, Move{From: from, To: to})
	}
	slices.SortFunc(out.Moves, func(a, b Move) int { return cmp.Compare(a.From, b.From) })
	return out, nil
}

// Clear removes every row. No row moves, so the removal has no moves.
func (t *Table) Clear() Removal {
	rem, _ := t.Remove(slices.Collect(t.IDs())...)
	return rem
}

// Truncate drops every row at or after n. It is used to roll back pushes.
func (t *Table) Truncate(n int) {
	if n < 0 || n >= t.length {
		return
	}
	for _, col := range t.columns {
		col.truncate(n)
	}
	t.length = n
}

// Snapshot copies the values of row id into a map keyed by column.
func (t *Table) Snapshot(id ir.RowID) map[ir.ColumnName]any {
	out := make(map[ir.ColumnName]any, len(t.columns))
	for _, col := range t.columns {
		out[col.Name()] = col.Value(id)
	}
	return out
}

// IDs iterates the live row ids in order.
func (t *Table) IDs() iter.Seq[ir.RowID] {
	return func(yield func(ir.RowID) bool) {
		for i := 0; i < t.length; i++ {
			if !yield(ir.RowID(i)) {
				return
			}
		}
	}
}

// Scan returns a lazy iterator over the given projection. Every range
// over the result starts from row 0. The value slice is reused between
// rows; copy it to keep it.
func (t *Table) Scan(cols ...ir.ColumnName) (iter.Seq2[ir.RowID, []any], error) {
	proj := make([]AnyColumn, len(cols))
	for i, name := range cols {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("scan %s.%s: %w", t.name, name, ErrUnknownColumn)
		}
		proj[i] = col
	}
	return func(yield func(ir.RowID, []any) bool) {
		buf := make([]any, len(proj))
		for i := 0; i < t.length; i++ {
			id := ir.RowID(i)
			for j, col := range proj {
				buf[j] = col.Value(id)
			}
			if !yield(id, buf) {
				return
			}
		}
	}, nil
}
