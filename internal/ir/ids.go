package ir

import (
	"fmt"
	"math"
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// TableName identifies a table within a universe.
type TableName string

// ColumnName identifies a column within a table.
type ColumnName string

// RowID is a positional index into a table's row-id space.
// It stays valid until the row it names is removed; removal compacts by
// moving the last live row into the freed slot.
type RowID uint32

// InvalidRow is the sentinel for "no row".
const InvalidRow RowID = math.MaxUint32

// Valid reports whether id is not the InvalidRow sentinel.
// It says nothing about whether the row is live in a particular table.
func (id RowID) Valid() bool {
	return id != InvalidRow
}

func (id RowID) String() string {
	if id == InvalidRow {
		return "row(invalid)"
	}
	return fmt.Sprintf("row(%d)", uint32(id))
}

// Reserved lock-key components.
const (
	// RowsColumn is the lock key column guarding a table's row bookkeeping.
	// Push and remove hold it for writing; column access holds it for reading.
	RowsColumn ColumnName = "#rows"

	// ResourceTable is the lock key table under which installed resources live.
	ResourceTable TableName = "@resource"
)

// ColumnKey is the lock key for one (table, column) pair.
type ColumnKey struct {
	Table  TableName  `json:"table"`
	Column ColumnName `json:"column"`
}

// RowsKey returns the key guarding the row bookkeeping of table.
func RowsKey(table TableName) ColumnKey {
	return ColumnKey{Table: table, Column: RowsColumn}
}

// ResourceKey returns the key guarding the resource registered under typeName.
func ResourceKey(typeName string) ColumnKey {
	return ColumnKey{Table: ResourceTable, Column: ColumnName(typeName)}
}

// Less reports whether k sorts before o in the global acquisition order.
// The order is by table name, then column name, comparing bytes.
func (k ColumnKey) Less(o ColumnKey) bool {
	if k.Table != o.Table {
		return k.Table < o.Table
	}
	return k.Column < o.Column
}

// Compare returns -1, 0 or +1 following Less.
func (k ColumnKey) Compare(o ColumnKey) int {
	switch {
	case k == o:
		return 0
	case k.Less(o):
		return -1
	default:
		return 1
	}
}

// IsRows reports whether k guards row bookkeeping.
func (k ColumnKey) IsRows() bool {
	return k.Column == RowsColumn
}

func (k ColumnKey) String() string {
	return string(k.Table) + "." + string(k.Column)
}

// Access is the mode of a lock request.
type Access uint8

const (
	Read Access = iota + 1
	Write
)

func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// Covers reports whether holding a satisfies a request for b.
func (a Access) Covers(b Access) bool {
	return a == Write || a == b
}

// Merge returns the stronger of a and b.
func (a Access) Merge(b Access) Access {
	if a == Write || b == Write {
		return Write
	}
	return Read
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NormalizeName NFC-normalizes a declared table or column name and checks
// that it is a plain identifier. Reserved names (#rows, @resource) never pass.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(name)
	if !identifierRE.MatchString(n) {
		return "", fmt.Errorf("invalid identifier %q: must match %s", name, identifierRE.String())
	}
	return n, nil
}
