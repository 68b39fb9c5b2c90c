package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/table"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestUniverse creates a universe with an items table (id, qty,
// location) and a containers table (id, label).
func newTestUniverse(t *testing.T, opts ...Option) *Universe {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	u := New(opts...)
	t.Cleanup(func() { u.Close() })

	require.NoError(t, u.DeclareTable("items"))
	require.NoError(t, DeclareColumn[int64](u, "items", "id"))
	require.NoError(t, DeclareColumn[int64](u, "items", "qty"))
	require.NoError(t, DeclareColumn[ir.RowID](u, "items", "location"))
	require.NoError(t, u.DeclareTable("containers"))
	require.NoError(t, DeclareColumn[int64](u, "containers", "id"))
	require.NoError(t, DeclareColumn[string](u, "containers", "label"))
	return u
}

// push inserts rows into a table through a kernel.
func push(t *testing.T, u *Universe, name ir.TableName, rows ...table.Row) []ir.RowID {
	t.Helper()
	p := NewRows(name)
	var ids []ir.RowID
	err := u.Run(context.Background(), Kernel{
		Name:   "push-" + string(name),
		Params: []Param{p},
		Body: func(tx *Tx) error {
			for _, row := range rows {
				id, err := p.In(tx).Push(row)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return nil
		},
	})
	require.NoError(t, err)
	return ids
}

// column reads every value of a column through a kernel.
func column[T any](t *testing.T, u *Universe, name ir.TableName, col ir.ColumnName) []T {
	t.Helper()
	p := Read[T](name, col)
	var out []T
	err := u.Run(context.Background(), Kernel{
		Name:   "read",
		Params: []Param{p},
		Body: func(tx *Tx) error {
			for _, v := range p.In(tx).All() {
				out = append(out, v)
			}
			return nil
		},
	})
	require.NoError(t, err)
	return out
}

// recorder is an Observer keeping every record in memory.
type recorder struct {
	mu          sync.Mutex
	invocations []ir.Invocation
	facts       []ir.Fact
	firings     []ir.Firing
	outcomes    []ir.Outcome
}

func (r *recorder) ObserveInvocation(_ context.Context, inv ir.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)
	return nil
}

func (r *recorder) ObserveFact(_ context.Context, f ir.Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, f)
	return nil
}

func (r *recorder) ObserveFiring(_ context.Context, f ir.Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firings = append(r.firings, f)
	return nil
}

func (r *recorder) ObserveOutcome(_ context.Context, o ir.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *recorder) kinds() []ir.FactKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.FactKind, len(r.facts))
	for i, f := range r.facts {
		out[i] = f.Kind
	}
	return out
}
