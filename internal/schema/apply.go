package schema

import (
	"errors"
	"fmt"

	"github.com/roach88/universe/internal/engine"
	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/linkage"
)

// ErrInvalid is returned by Apply for a schema that fails Validate.
var ErrInvalid = errors.New("invalid schema")

// ApplyOption configures Apply.
type ApplyOption func(*applyConfig)

type applyConfig struct {
	reassign map[ir.ColumnKey]linkage.ReassignFunc
}

// WithReassign supplies the target picker of a reassign reference.
func WithReassign(local ir.TableName, column ir.ColumnName, fn linkage.ReassignFunc) ApplyOption {
	return func(c *applyConfig) {
		c.reassign[ir.ColumnKey{Table: local, Column: column}] = fn
	}
}

// Apply validates s and declares it on u: tables and columns in
// dependency order, tracking, then one foreign key per ref column.
// Apply is not atomic; a failure leaves the declarations made so far.
func Apply(u *engine.Universe, s *Schema, opts ...ApplyOption) error {
	if errs := Validate(s); len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errs[0])
	}
	cfg := &applyConfig{reassign: make(map[ir.ColumnKey]linkage.ReassignFunc)}
	for _, opt := range opts {
		opt(cfg)
	}

	order := applyOrder(s)
	for _, name := range order {
		t, _ := s.Table(name)
		if err := u.DeclareTable(t.Name); err != nil {
			return err
		}
		for _, c := range t.Columns {
			if err := declareColumn(u, t.Name, c); err != nil {
				return err
			}
			if c.Tracked {
				if err := u.Track(t.Name, c.Name); err != nil {
					return err
				}
			}
		}
	}

	fks := s.ForeignKeys()
	for _, name := range order {
		for _, fk := range fks {
			if fk.Local != name {
				continue
			}
			fk.Reassign = cfg.reassign[ir.ColumnKey{Table: fk.Local, Column: fk.Column}]
			if err := linkage.Install(u, fk); err != nil {
				return fmt.Errorf("apply: %w", err)
			}
		}
	}
	return nil
}

func declareColumn(u *engine.Universe, t ir.TableName, c Column) error {
	switch c.Type {
	case TypeInt:
		return engine.DeclareColumn[int64](u, t, c.Name)
	case TypeFloat:
		return engine.DeclareColumn[float64](u, t, c.Name)
	case TypeString:
		return engine.DeclareColumn[string](u, t, c.Name)
	case TypeBool:
		return engine.DeclareColumn[bool](u, t, c.Name)
	case TypeRef:
		return engine.DeclareColumn[ir.RowID](u, t, c.Name)
	}
	return fmt.Errorf("column %s.%s: unknown type %q", t, c.Name, c.Type)
}
