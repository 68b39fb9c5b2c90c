package linkage

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/universe/internal/engine"
	"github.com/roach88/universe/internal/ir"
)

// Policy says what happens to rows whose reference was removed.
type Policy string

const (
	Cascade  Policy = "cascade"
	Nullify  Policy = "nullify"
	Reassign Policy = "reassign"
)

// ParsePolicy converts a policy name. The empty string means Cascade.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Cascade:
		return Cascade, nil
	case Nullify, Reassign:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown on_remove policy %q (want cascade, nullify or reassign)", s)
}

// ErrInvalidForeignKey is returned by Install for a malformed foreign key.
var ErrInvalidForeignKey = errors.New("invalid foreign key")

// ReassignFunc picks the new target of a reference whose row was removed.
// It receives the removed fact and the removed row, and returns an id
// valid after the removal, or ir.InvalidRow to nullify.
type ReassignFunc func(f *ir.Fact, removed ir.RemovedRow) ir.RowID

// ForeignKey declares that Local.Column references rows of Foreign.
type ForeignKey struct {
	Local    ir.TableName
	Column   ir.ColumnName
	Foreign  ir.TableName
	OnRemove Policy
	Reassign ReassignFunc
}

// Name identifies the foreign key's reaction.
func (fk ForeignKey) Name() string {
	return fmt.Sprintf("fk:%s.%s->%s", fk.Local, fk.Column, fk.Foreign)
}

// Validate checks fk against the declared tables of u.
func (fk ForeignKey) Validate(u *engine.Universe) error {
	switch fk.OnRemove {
	case Cascade, Nullify:
	case Reassign:
		if fk.Reassign == nil {
			return fmt.Errorf("%s: reassign policy needs a Reassign func: %w", fk.Name(), ErrInvalidForeignKey)
		}
	default:
		return fmt.Errorf("%s: unknown policy %q: %w", fk.Name(), fk.OnRemove, ErrInvalidForeignKey)
	}

	cols, err := u.Columns(fk.Local)
	if err != nil {
		return fmt.Errorf("%s: %w", fk.Name(), err)
	}
	if _, err := u.Columns(fk.Foreign); err != nil {
		return fmt.Errorf("%s: %w", fk.Name(), err)
	}
	for _, c := range cols {
		if c.Name != fk.Column {
			continue
		}
		if c.Type != reflect.TypeFor[ir.RowID]() {
			return fmt.Errorf("%s: column holds %s, want ir.RowID: %w", fk.Name(), c.Type, ErrInvalidForeignKey)
		}
		return nil
	}
	return fmt.Errorf("%s: no column %s.%s: %w", fk.Name(), fk.Local, fk.Column, ErrInvalidForeignKey)
}

// Install validates fk and registers the reaction that keeps its
// references consistent when rows of the foreign table are removed.
func Install(u *engine.Universe, fk ForeignKey) error {
	if fk.OnRemove == "" {
		fk.OnRemove = Cascade
	}
	if err := fk.Validate(u); err != nil {
		return err
	}
	return u.React(engine.OnRemoved(fk.Foreign), fk.kernel())
}

// kernel builds the reaction. It runs once per removed fact of the
// foreign table: references to removed rows get the policy, references
// to moved rows follow the move.
func (fk ForeignKey) kernel() engine.Kernel {
	refs := engine.Edit[ir.RowID](fk.Local, fk.Column)
	params := []engine.Param{refs}
	var take *engine.RowsParam
	if fk.OnRemove == Cascade {
		take = engine.TakeRows(fk.Local)
		params = append(params, take)
	}

	return engine.Kernel{
		Name:   fk.Name(),
		Params: params,
		Body: func(tx *engine.Tx) error {
			f := tx.Fact()
			if f == nil || f.Kind != ir.FactRemoved {
				return nil
			}
			removed := make(map[ir.RowID]ir.RemovedRow, len(f.Removed))
			for _, r := range f.Removed {
				removed[r.ID] = r
			}

			col := refs.In(tx)
			var doomed []ir.RowID
			for id, target := range col.All() {
				if !target.Valid() {
					continue
				}
				gone, ok := removed[target]
				if !ok {
					if to := f.MovedTo(target); to != target {
						col.Set(id, to)
					}
					continue
				}
				switch fk.OnRemove {
				case Cascade:
					doomed = append(doomed, id)
				case Nullify:
					col.Set(id, ir.InvalidRow)
				case Reassign:
					col.Set(id, fk.Reassign(f, gone))
				}
			}
			if len(doomed) == 0 {
				return nil
			}
			return take.In(tx).Remove(doomed...)
		},
	}
}

// Dangling returns the local rows whose reference names no live foreign
// row. Nullified references (ir.InvalidRow) are not dangling.
func Dangling(ctx context.Context, u *engine.Universe, fk ForeignKey) ([]ir.RowID, error) {
	refs := engine.Read[ir.RowID](fk.Local, fk.Column)
	foreign := engine.ReadRows(fk.Foreign)

	var out []ir.RowID
	err := u.Run(ctx, engine.Kernel{
		Name:   "dangling:" + fk.Name(),
		Params: []engine.Param{refs, foreign},
		Body: func(tx *engine.Tx) error {
			live := foreign.In(tx)
			for id, target := range refs.In(tx).All() {
				if target.Valid() && !live.Valid(target) {
					out = append(out, id)
				}
			}
			return nil
		},
	})
	return out, err
}
