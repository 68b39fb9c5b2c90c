package schema

import (
	"context"
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/universe/internal/engine"
	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/linkage"
	"github.com/roach88/universe/internal/table"
)

func compileString(t *testing.T, src string) (*Schema, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src, cue.Filename("test.cue"))
	return Compile(v)
}

func TestCompileBasic(t *testing.T) {
	s, err := compileString(t, `
		table: containers: columns: {
			id:    {type: "int"}
			label: "string"
		}
		table: items: columns: {
			qty:      {type: "int", tracked: true}
			location: {type: "ref", ref: "containers", on_remove: "nullify"}
		}
	`)
	require.NoError(t, err)
	require.Len(t, s.Tables, 2)

	assert.Equal(t, ir.TableName("containers"), s.Tables[0].Name)
	assert.Equal(t, ir.TableName("items"), s.Tables[1].Name)

	containers := s.Tables[0]
	require.Len(t, containers.Columns, 2)
	assert.Equal(t, Column{Name: "id", Type: TypeInt, Pos: containers.Columns[0].Pos}, containers.Columns[0])
	assert.Equal(t, TypeString, containers.Columns[1].Type, "shorthand column")

	items, ok := s.Table("items")
	require.True(t, ok)
	assert.True(t, items.Columns[0].Tracked)
	assert.Equal(t, ir.TableName("containers"), items.Columns[1].Ref)
	assert.Equal(t, linkage.Nullify, items.Columns[1].OnRemove)

	assert.Empty(t, Validate(s))
}

func TestCompileRowsOnlyTable(t *testing.T) {
	s, err := compileString(t, `table: events: {}`)
	require.NoError(t, err)
	require.Len(t, s.Tables, 1)
	assert.Empty(t, s.Tables[0].Columns)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "no tables",
			src:   `other: 1`,
			field: "table",
		},
		{
			name:  "missing type",
			src:   `table: items: columns: qty: {tracked: true}`,
			field: "table.items.columns.qty.type",
		},
		{
			name:  "non-concrete type",
			src:   `table: items: columns: qty: {type: string}`,
			field: "table.items.columns.qty.type",
		},
		{
			name:  "tracked not bool",
			src:   `table: items: columns: qty: {type: "int", tracked: "yes"}`,
			field: "table.items.columns.qty.tracked",
		},
		{
			name:  "columns not struct",
			src:   `table: items: columns: 3`,
			field: "table.items.columns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.src)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "want *CompileError, got %T", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileCUEErrorHasPosition(t *testing.T) {
	_, err := compileString(t, `
		table: items: columns: {
	`)
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, ce.Error(), "test.cue:")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		col  Column
		code string
	}{
		{"unknown type", Column{Name: "qty", Type: "decimal"}, ErrUnknownType},
		{"bad name", Column{Name: "9lives", Type: TypeInt}, ErrInvalidName},
		{"ref without target", Column{Name: "loc", Type: TypeRef}, ErrMissingRef},
		{"ref to undeclared", Column{Name: "loc", Type: TypeRef, Ref: "shelves"}, ErrUnknownRef},
		{"ref on scalar", Column{Name: "qty", Type: TypeInt, Ref: "containers"}, ErrRefOnScalar},
		{"bad policy", Column{Name: "loc", Type: TypeRef, Ref: "containers", OnRemove: "explode"}, ErrInvalidPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Schema{Tables: []Table{
				{Name: "containers"},
				{Name: "items", Columns: []Column{tt.col}},
			}}
			errs := Validate(s)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0].Code)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	s := &Schema{Tables: []Table{
		{Name: "bad-name", Columns: []Column{
			{Name: "a", Type: "nope"},
			{Name: "b", Type: TypeRef},
		}},
	}}
	errs := Validate(s)
	require.Len(t, errs, 3)
	assert.Equal(t, ErrInvalidName, errs[0].Code)
	assert.Equal(t, ErrUnknownType, errs[1].Code)
	assert.Equal(t, ErrMissingRef, errs[2].Code)
}

func TestForeignKeysDefaultCascade(t *testing.T) {
	s := &Schema{Tables: []Table{
		{Name: "containers"},
		{Name: "items", Columns: []Column{
			{Name: "location", Type: TypeRef, Ref: "containers"},
			{Name: "qty", Type: TypeInt},
		}},
	}}
	fks := s.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, linkage.ForeignKey{Local: "items", Column: "location", Foreign: "containers", OnRemove: linkage.Cascade}, fks[0])
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("testdata/warehouse.cue")
	require.NoError(t, err)
	require.Len(t, s.Tables, 2)
	assert.Empty(t, Validate(s))
	assert.Equal(t, 4, s.Tables[0].Columns[0].Pos.Line())
}

func TestLoadDirUnifiesFiles(t *testing.T) {
	s, err := Load("testdata/split")
	require.NoError(t, err)
	require.Len(t, s.Tables, 2)
	assert.Empty(t, Validate(s))

	items, ok := s.Table("items")
	require.True(t, ok)
	assert.Len(t, items.Columns, 3)
}

func TestLoadPath(t *testing.T) {
	_, err := LoadPath("testdata/warehouse.cue")
	require.NoError(t, err)
	_, err = LoadPath("testdata/split")
	require.NoError(t, err)
	_, err = LoadPath("testdata/missing.cue")
	require.Error(t, err)
}

func TestLoadNoFiles(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CUE files")
}

func TestApplyDeclaresAndLinks(t *testing.T) {
	s, err := LoadFile("testdata/warehouse.cue")
	require.NoError(t, err)

	u := engine.New()
	t.Cleanup(func() { u.Close() })
	require.NoError(t, Apply(u, s))

	assert.Equal(t, []ir.TableName{"containers", "items"}, u.Tables())
	cols, err := u.Columns("items")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	for _, c := range cols {
		assert.Equal(t, c.Name == "qty", c.Tracked, "column %s", c.Name)
	}

	ctx := context.Background()
	var box ir.RowID
	newContainers, newItems := engine.NewRows("containers"), engine.NewRows("items")
	require.NoError(t, u.Run(ctx, engine.Kernel{
		Name:   "fill",
		Params: []engine.Param{newContainers, newItems},
		Body: func(tx *engine.Tx) error {
			var err error
			box, err = newContainers.In(tx).Push(table.Row{"id": int64(1), "label": "box"})
			if err != nil {
				return err
			}
			for i := range 3 {
				if _, err := newItems.In(tx).Push(table.Row{"id": int64(i), "location": box}); err != nil {
					return err
				}
			}
			return nil
		},
	}))

	take := engine.TakeRows("containers")
	require.NoError(t, u.Run(ctx, engine.Kernel{
		Name:   "empty",
		Params: []engine.Param{take},
		Body:   func(tx *engine.Tx) error { return take.In(tx).Remove(box) },
	}))

	rows := engine.ReadRows("items")
	var left int
	require.NoError(t, u.Run(ctx, engine.Kernel{
		Name:   "count",
		Params: []engine.Param{rows},
		Body: func(tx *engine.Tx) error {
			left = rows.In(tx).Len()
			return nil
		},
	}))
	assert.Zero(t, left, "cascade removed every item of the container")
}

func TestApplyDependencyOrder(t *testing.T) {
	s, err := compileString(t, `
		table: items: columns: location: {type: "ref", ref: "containers"}
		table: containers: columns: label: "string"
	`)
	require.NoError(t, err)
	assert.Equal(t, []ir.TableName{"containers", "items"}, applyOrder(s))

	u := engine.New()
	t.Cleanup(func() { u.Close() })
	require.NoError(t, Apply(u, s))
}

func TestApplyRejectsInvalid(t *testing.T) {
	s := &Schema{Tables: []Table{{Name: "items", Columns: []Column{{Name: "qty", Type: "decimal"}}}}}
	u := engine.New()
	t.Cleanup(func() { u.Close() })

	err := Apply(u, s)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, u.Tables())
}

func TestApplyReassignNeedsFunc(t *testing.T) {
	s := &Schema{Tables: []Table{
		{Name: "containers"},
		{Name: "items", Columns: []Column{{Name: "location", Type: TypeRef, Ref: "containers", OnRemove: linkage.Reassign}}},
	}}

	u := engine.New()
	t.Cleanup(func() { u.Close() })
	require.ErrorIs(t, Apply(u, s), linkage.ErrInvalidForeignKey)

	u2 := engine.New()
	t.Cleanup(func() { u2.Close() })
	pick := func(*ir.Fact, ir.RemovedRow) ir.RowID { return ir.InvalidRow }
	require.NoError(t, Apply(u2, s, WithReassign("items", "location", pick)))
}
