package engine

import (
	"fmt"
	"iter"
	"reflect"
	"slices"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
	"github.com/roach88/universe/internal/table"
)

// Param is a kernel parameter. Requests resolves the locks the parameter
// needs without taking them; Bind produces the runtime value once they
// are held. Resolution failures are *KernelError values with code
// MISSING_RESOURCE or TYPE_MISMATCH.
type Param interface {
	Describe() string
	Requests(u *Universe) ([]lock.Request, error)
	Bind(tx *Tx) (any, error)
}

// columnParam is the shared part of typed and untyped column parameters.
type columnParam struct {
	key    ir.ColumnKey
	access ir.Access
	typ    reflect.Type
}

func (p columnParam) describe(kind string) string {
	if p.typ == nil {
		return fmt.Sprintf("%s(%s)", kind, p.key)
	}
	return fmt.Sprintf("%s[%s](%s)", kind, p.typ, p.key)
}

func (p columnParam) requests(u *Universe) ([]lock.Request, error) {
	if _, _, err := u.lookupColumn(p.key.Table, p.key.Column, p.typ); err != nil {
		return nil, err
	}
	return []lock.Request{
		lock.ReadOf(ir.RowsKey(p.key.Table)),
		{Key: p.key, Access: p.access},
	}, nil
}

func (p columnParam) bind(tx *Tx) (*table.Table, table.AnyColumn, error) {
	t, col, err := tx.u.lookupColumn(p.key.Table, p.key.Column, p.typ)
	if err != nil {
		return nil, nil, err
	}
	if p.access == ir.Write {
		tx.writes[p.key] = col
	}
	return t, col, nil
}

// ReadParam requests shared access to a column of T.
type ReadParam[T any] struct{ columnParam }

// Read declares a read of column tableName.column holding T.
func Read[T any](tableName ir.TableName, column ir.ColumnName) *ReadParam[T] {
	return &ReadParam[T]{columnParam{
		key:    ir.ColumnKey{Table: tableName, Column: column},
		access: ir.Read,
		typ:    reflect.TypeFor[T](),
	}}
}

func (p *ReadParam[T]) Describe() string { return p.describe("Read") }

func (p *ReadParam[T]) Requests(u *Universe) ([]lock.Request, error) { return p.requests(u) }

func (p *ReadParam[T]) Bind(tx *Tx) (any, error) {
	t, col, err := p.bind(tx)
	if err != nil {
		return nil, err
	}
	return Reader[T]{tx: tx, table: t, col: col.(*table.Column[T])}, nil
}

// In returns the reader bound in tx.
func (p *ReadParam[T]) In(tx *Tx) Reader[T] {
	return tx.value(p).(Reader[T])
}

// EditParam requests exclusive access to a column of T.
type EditParam[T any] struct{ columnParam }

// Edit declares a write of column tableName.column holding T.
func Edit[T any](tableName ir.TableName, column ir.ColumnName) *EditParam[T] {
	return &EditParam[T]{columnParam{
		key:    ir.ColumnKey{Table: tableName, Column: column},
		access: ir.Write,
		typ:    reflect.TypeFor[T](),
	}}
}

func (p *EditParam[T]) Describe() string { return p.describe("Edit") }

func (p *EditParam[T]) Requests(u *Universe) ([]lock.Request, error) { return p.requests(u) }

func (p *EditParam[T]) Bind(tx *Tx) (any, error) {
	t, col, err := p.bind(tx)
	if err != nil {
		return nil, err
	}
	return Editor[T]{Reader[T]{tx: tx, table: t, col: col.(*table.Column[T])}}, nil
}

// In returns the editor bound in tx.
func (p *EditParam[T]) In(tx *Tx) Editor[T] {
	return tx.value(p).(Editor[T])
}

// Reader is read access to one column.
type Reader[T any] struct {
	tx    *Tx
	table *table.Table
	col   *table.Column[T]
}

// Len returns the number of live rows.
func (r Reader[T]) Len() int {
	r.tx.check()
	return r.table.Len()
}

// Valid reports whether id is a live row.
func (r Reader[T]) Valid(id ir.RowID) bool {
	r.tx.check()
	return r.table.Valid(id)
}

// At returns the value of row id. It panics on an invalid id.
func (r Reader[T]) At(id ir.RowID) T {
	r.tx.check()
	return r.col.At(id)
}

// Lookup returns the value of row id and whether id is live.
func (r Reader[T]) Lookup(id ir.RowID) (T, bool) {
	r.tx.check()
	return r.col.Lookup(id)
}

// All iterates every live row.
func (r Reader[T]) All() iter.Seq2[ir.RowID, T] {
	r.tx.check()
	return r.col.All()
}

// Editor is write access to one column. Writes to a tracked column are
// recorded and reported as an edited fact when the step ends.
type Editor[T any] struct {
	Reader[T]
}

// Set writes v to row id.
func (e Editor[T]) Set(id ir.RowID, v T) {
	e.tx.check()
	e.col.Set(id, v)
}

// Update passes a pointer to the value of row id to fn.
func (e Editor[T]) Update(id ir.RowID, fn func(*T)) {
	e.tx.check()
	e.col.Update(id, fn)
}

// AnyParam is untyped column access for callers that only know column
// types at runtime.
type AnyParam struct{ columnParam }

// ReadAny declares an untyped read of tableName.column.
func ReadAny(tableName ir.TableName, column ir.ColumnName) *AnyParam {
	return &AnyParam{columnParam{key: ir.ColumnKey{Table: tableName, Column: column}, access: ir.Read}}
}

// EditAny declares an untyped write of tableName.column.
func EditAny(tableName ir.TableName, column ir.ColumnName) *AnyParam {
	return &AnyParam{columnParam{key: ir.ColumnKey{Table: tableName, Column: column}, access: ir.Write}}
}

func (p *AnyParam) Describe() string {
	if p.access == ir.Write {
		return p.describe("EditAny")
	}
	return p.describe("ReadAny")
}

func (p *AnyParam) Requests(u *Universe) ([]lock.Request, error) { return p.requests(u) }

func (p *AnyParam) Bind(tx *Tx) (any, error) {
	t, col, err := p.bind(tx)
	if err != nil {
		return nil, err
	}
	return AnyView{tx: tx, table: t, col: col, writable: p.access == ir.Write}, nil
}

// In returns the view bound in tx.
func (p *AnyParam) In(tx *Tx) AnyView {
	return tx.value(p).(AnyView)
}

// AnyView is untyped access to one column.
type AnyView struct {
	tx       *Tx
	table    *table.Table
	col      table.AnyColumn
	writable bool
}

// Type returns the column's element type.
func (v AnyView) Type() reflect.Type { return v.col.Type() }

// Len returns the number of live rows.
func (v AnyView) Len() int {
	v.tx.check()
	return v.table.Len()
}

// Value returns the value of row id, or false when id is not live.
func (v AnyView) Value(id ir.RowID) (any, bool) {
	v.tx.check()
	if !v.table.Valid(id) {
		return nil, false
	}
	return v.col.Value(id), true
}

// SetValue writes x to row id, converting numeric values losslessly.
func (v AnyView) SetValue(id ir.RowID, x any) error {
	v.tx.check()
	if !v.writable {
		return fmt.Errorf("%s.%s: column is read-only in kernel %s", v.table.Name(), v.col.Name(), v.tx.kernel)
	}
	return v.col.SetValue(id, x)
}

// Rows capabilities.
const (
	capPush = 1 << iota
	capRemove
)

// RowsParam requests the row bookkeeping of a table: shared for
// ReadRows, exclusive otherwise.
type RowsParam struct {
	table ir.TableName
	caps  int
}

// NewRows declares a kernel that inserts rows into tableName.
func NewRows(tableName ir.TableName) *RowsParam {
	return &RowsParam{table: tableName, caps: capPush}
}

// TakeRows declares a kernel that removes rows from tableName. Removals
// take effect when the step ends.
func TakeRows(tableName ir.TableName) *RowsParam {
	return &RowsParam{table: tableName, caps: capRemove}
}

// Rows declares a kernel that both inserts and removes rows.
func Rows(tableName ir.TableName) *RowsParam {
	return &RowsParam{table: tableName, caps: capPush | capRemove}
}

// ReadRows declares a kernel that only inspects which rows of tableName
// exist. It shares the row lock with other readers.
func ReadRows(tableName ir.TableName) *RowsParam {
	return &RowsParam{table: tableName}
}

func (p *RowsParam) Describe() string {
	switch p.caps {
	case 0:
		return fmt.Sprintf("ReadRows(%s)", p.table)
	case capPush:
		return fmt.Sprintf("New(%s)", p.table)
	case capRemove:
		return fmt.Sprintf("Take(%s)", p.table)
	}
	return fmt.Sprintf("Rows(%s)", p.table)
}

func (p *RowsParam) Requests(u *Universe) ([]lock.Request, error) {
	if _, err := u.lookupTable(p.table); err != nil {
		return nil, err
	}
	if p.caps == 0 {
		return []lock.Request{lock.ReadOf(ir.RowsKey(p.table))}, nil
	}
	return []lock.Request{lock.WriteOf(ir.RowsKey(p.table))}, nil
}

func (p *RowsParam) Bind(tx *Tx) (any, error) {
	t, err := tx.u.lookupTable(p.table)
	if err != nil {
		return nil, err
	}
	return &RowSet{tx: tx, state: tx.rowState(t), caps: p.caps, desc: p.Describe()}, nil
}

// In returns the row set bound in tx.
func (p *RowsParam) In(tx *Tx) *RowSet {
	return tx.value(p).(*RowSet)
}

// RowSet manages the rows of one table within a kernel step.
type RowSet struct {
	tx    *Tx
	state *rowState
	caps  int
	desc  string
}

// Push appends a row and returns its id. Columns missing from row get
// their zero value.
func (s *RowSet) Push(row table.Row) (ir.RowID, error) {
	s.tx.check()
	if s.caps&capPush == 0 {
		return ir.InvalidRow, fmt.Errorf("%s: push not permitted", s.desc)
	}
	return s.state.table.Push(row)
}

// Remove schedules rows for removal at the end of the step. Every id
// must be live; on error nothing is scheduled.
func (s *RowSet) Remove(ids ...ir.RowID) error {
	s.tx.check()
	if s.caps&capRemove == 0 {
		return fmt.Errorf("%s: remove not permitted", s.desc)
	}
	for _, id := range ids {
		if !s.state.table.Valid(id) {
			return fmt.Errorf("%s: remove %s: %w", s.desc, id, table.ErrInvalidRow)
		}
	}
	for _, id := range ids {
		if !s.state.removing(id) {
			s.state.removals = append(s.state.removals, id)
		}
	}
	return nil
}

// Clear schedules every live row for removal. The step reports them in a
// single removed fact.
func (s *RowSet) Clear() error {
	return s.Remove(slices.Collect(s.state.table.IDs())...)
}

// Removing reports whether id is scheduled for removal.
func (s *RowSet) Removing(id ir.RowID) bool {
	s.tx.check()
	return s.state.removing(id)
}

// Len returns the number of live rows, including rows pushed and rows
// scheduled for removal in this step.
func (s *RowSet) Len() int {
	s.tx.check()
	return s.state.table.Len()
}

// Valid reports whether id is a live row.
func (s *RowSet) Valid(id ir.RowID) bool {
	s.tx.check()
	return s.state.table.Valid(id)
}

// IDs iterates the live row ids.
func (s *RowSet) IDs() iter.Seq[ir.RowID] {
	s.tx.check()
	return s.state.table.IDs()
}

// Scan iterates a projection of the table.
func (s *RowSet) Scan(cols ...ir.ColumnName) (iter.Seq2[ir.RowID, []any], error) {
	s.tx.check()
	return s.state.table.Scan(cols...)
}

// Snapshot copies every value of row id.
func (s *RowSet) Snapshot(id ir.RowID) (map[ir.ColumnName]any, bool) {
	s.tx.check()
	if !s.state.table.Valid(id) {
		return nil, false
	}
	return s.state.table.Snapshot(id), true
}

// ResParam requests shared access to the installed resource of type T.
type ResParam[T any] struct{}

// Res declares a read of the resource of type T.
func Res[T any]() *ResParam[T] { return &ResParam[T]{} }

func (p *ResParam[T]) Describe() string { return fmt.Sprintf("Res[%s]", reflect.TypeFor[T]()) }

func (p *ResParam[T]) Requests(u *Universe) ([]lock.Request, error) {
	typ := reflect.TypeFor[T]()
	if _, err := u.lookupResource(typ); err != nil {
		return nil, err
	}
	return []lock.Request{lock.ReadOf(resourceKey(typ))}, nil
}

func (p *ResParam[T]) Bind(tx *Tx) (any, error) {
	ptr, err := tx.u.lookupResource(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return *ptr.(*T), nil
}

// In returns the resource value.
func (p *ResParam[T]) In(tx *Tx) T {
	return tx.value(p).(T)
}

// MutParam requests exclusive access to the installed resource of type T.
type MutParam[T any] struct{}

// Mut declares a write of the resource of type T.
func Mut[T any]() *MutParam[T] { return &MutParam[T]{} }

func (p *MutParam[T]) Describe() string { return fmt.Sprintf("Mut[%s]", reflect.TypeFor[T]()) }

func (p *MutParam[T]) Requests(u *Universe) ([]lock.Request, error) {
	typ := reflect.TypeFor[T]()
	if _, err := u.lookupResource(typ); err != nil {
		return nil, err
	}
	return []lock.Request{lock.WriteOf(resourceKey(typ))}, nil
}

func (p *MutParam[T]) Bind(tx *Tx) (any, error) {
	ptr, err := tx.u.lookupResource(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return ptr.(*T), nil
}

// In returns a pointer to the stored resource. It must not be retained
// after the body returns.
func (p *MutParam[T]) In(tx *Tx) *T {
	return tx.value(p).(*T)
}
