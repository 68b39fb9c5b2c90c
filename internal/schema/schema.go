package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/linkage"
)

// Column types accepted in a schema.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
	TypeBool   = "bool"
	TypeRef    = "ref"
)

// Schema is a compiled universe declaration. Tables keep their CUE
// declaration order.
type Schema struct {
	Tables []Table
}

// Table declares one table.
type Table struct {
	Name    ir.TableName
	Columns []Column
	Pos     token.Pos
}

// Column declares one column. Ref and OnRemove are set for ref columns
// only.
type Column struct {
	Name     ir.ColumnName
	Type     string
	Ref      ir.TableName
	OnRemove linkage.Policy
	Tracked  bool
	Pos      token.Pos
}

// Table returns the table called name.
func (s *Schema) Table(name ir.TableName) (*Table, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// ForeignKeys returns one foreign key per ref column, in declaration
// order. An empty on_remove means cascade.
func (s *Schema) ForeignKeys() []linkage.ForeignKey {
	var fks []linkage.ForeignKey
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.Type != TypeRef {
				continue
			}
			policy := c.OnRemove
			if policy == "" {
				policy = linkage.Cascade
			}
			fks = append(fks, linkage.ForeignKey{
				Local:    t.Name,
				Column:   c.Name,
				Foreign:  c.Ref,
				OnRemove: policy,
			})
		}
	}
	return fks
}

// Compile builds a Schema from a CUE value holding a top-level table
// field. Structural problems (wrong kinds, non-concrete values) are
// reported as *CompileError; semantic problems are left to Validate.
func Compile(v cue.Value) (*Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return nil, &CompileError{Field: "table", Message: "no table declarations", Pos: v.Pos()}
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	s := &Schema{}
	for iter.Next() {
		t, err := compileTable(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

func compileTable(name string, v cue.Value) (Table, error) {
	t := Table{Name: ir.TableName(name), Pos: v.Pos()}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return t, nil // a table may be rows only
	}

	iter, err := colsVal.Fields()
	if err != nil {
		return t, &CompileError{Field: "table." + name + ".columns", Message: "must be a struct", Pos: colsVal.Pos()}
	}
	for iter.Next() {
		c, err := compileColumn("table."+name+".columns."+iter.Label(), iter.Label(), iter.Value())
		if err != nil {
			return t, err
		}
		t.Columns = append(t.Columns, c)
	}
	return t, nil
}

func compileColumn(field, name string, v cue.Value) (Column, error) {
	c := Column{Name: ir.ColumnName(name), Pos: v.Pos()}

	// Shorthand: `qty: "int"`.
	if v.IncompleteKind() == cue.StringKind {
		typ, err := v.String()
		if err != nil {
			return c, &CompileError{Field: field, Message: "type must be a concrete string", Pos: v.Pos()}
		}
		c.Type = typ
		return c, nil
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return c, &CompileError{Field: field + ".type", Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return c, &CompileError{Field: field + ".type", Message: "type must be a concrete string", Pos: typeVal.Pos()}
	}
	c.Type = typ

	if refVal := v.LookupPath(cue.ParsePath("ref")); refVal.Exists() {
		ref, err := refVal.String()
		if err != nil {
			return c, &CompileError{Field: field + ".ref", Message: "ref must be a table name", Pos: refVal.Pos()}
		}
		c.Ref = ir.TableName(ref)
	}
	if policyVal := v.LookupPath(cue.ParsePath("on_remove")); policyVal.Exists() {
		policy, err := policyVal.String()
		if err != nil {
			return c, &CompileError{Field: field + ".on_remove", Message: "on_remove must be a string", Pos: policyVal.Pos()}
		}
		c.OnRemove = linkage.Policy(policy)
	}
	if trackedVal := v.LookupPath(cue.ParsePath("tracked")); trackedVal.Exists() {
		tracked, err := trackedVal.Bool()
		if err != nil {
			return c, &CompileError{Field: field + ".tracked", Message: "tracked must be a bool", Pos: trackedVal.Pos()}
		}
		c.Tracked = tracked
	}
	return c, nil
}

// CompileError is a structural error with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
