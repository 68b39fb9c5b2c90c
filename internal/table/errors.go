package table

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/universe/internal/ir"
)

var (
	// ErrUnknownColumn is returned when a row or projection names a column
	// the table does not have.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrDuplicateColumn is returned when a column name is declared twice.
	ErrDuplicateColumn = errors.New("duplicate column")

	// ErrInvalidRow is returned when a row id does not name a live row.
	ErrInvalidRow = errors.New("invalid row id")
)

// TypeError reports a value or column whose Go type does not match the
// column's element type.
type TypeError struct {
	Table  ir.TableName
	Column ir.ColumnName
	Want   reflect.Type
	Got    reflect.Type
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("column %s.%s holds %s, got %s", e.Table, e.Column, typeName(e.Want), typeName(e.Got))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

