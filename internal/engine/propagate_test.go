package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/table"
)

// newCounterUniverse adds a counters table with x, y, z and flag columns
// and one row.
func newCounterUniverse(t *testing.T, opts ...Option) *Universe {
	t.Helper()
	u := newTestUniverse(t, opts...)
	require.NoError(t, u.DeclareTable("counters"))
	require.NoError(t, DeclareColumn[int64](u, "counters", "x"))
	require.NoError(t, DeclareColumn[int64](u, "counters", "y"))
	require.NoError(t, DeclareColumn[int64](u, "counters", "z"))
	require.NoError(t, DeclareColumn[bool](u, "counters", "flag"))
	push(t, u, "counters", table.Row{})
	return u
}

func setX(v int64) Kernel {
	x := Edit[int64]("counters", "x")
	return Kernel{
		Name:   "set-x",
		Params: []Param{x},
		Body: func(tx *Tx) error {
			x.In(tx).Set(0, v)
			return nil
		},
	}
}

func TestTrigger_Matches(t *testing.T) {
	f := &ir.Fact{Kind: ir.FactEdited, Table: "counters", Column: "x"}
	assert.True(t, OnEdited("counters", "x").Matches(f))
	assert.False(t, OnEdited("counters", "y").Matches(f))
	assert.False(t, OnPushed("counters").Matches(f))
	assert.True(t, OnRemoved("items").Matches(&ir.Fact{Kind: ir.FactRemoved, Table: "items"}))
	assert.Equal(t, "edited counters.x", OnEdited("counters", "x").String())
}

func TestReact_Validation(t *testing.T) {
	u := newCounterUniverse(t)
	assert.Error(t, u.React(Trigger{Kind: "renamed", Table: "counters"}, Kernel{Name: "r"}))
	assert.Error(t, u.React(OnPushed("counters"), Kernel{}))
	assert.Error(t, u.React(OnPushed("ghosts"), Kernel{Name: "r"}))
	assert.Error(t, u.React(OnEdited("counters", "ghost"), Kernel{Name: "r"}))

	require.NoError(t, u.React(OnEdited("counters", "x"), Kernel{Name: "r"}))
	cols, err := u.Columns("counters")
	require.NoError(t, err)
	assert.True(t, cols[0].Tracked, "edited trigger tracks its column")
}

func TestPropagate_Fixpoint(t *testing.T) {
	rec := &recorder{}
	u := newCounterUniverse(t, WithObserver(rec))

	x := Read[int64]("counters", "x")
	y := Edit[int64]("counters", "y")
	require.NoError(t, u.React(OnEdited("counters", "x"), Kernel{
		Name:   "y-doubles-x",
		Params: []Param{x, y},
		Body: func(tx *Tx) error {
			require.NotNil(t, tx.Fact())
			assert.Equal(t, 1, tx.Depth())
			for _, row := range tx.Fact().Rows {
				y.In(tx).Set(row, 2*x.In(tx).At(row))
			}
			return nil
		},
	}))

	yr := Read[int64]("counters", "y")
	z := Edit[int64]("counters", "z")
	require.NoError(t, u.React(OnEdited("counters", "y"), Kernel{
		Name:   "z-follows-y",
		Params: []Param{yr, z},
		Body: func(tx *Tx) error {
			assert.Equal(t, 2, tx.Depth())
			for _, row := range tx.Fact().Rows {
				z.In(tx).Set(row, yr.In(tx).At(row)+1)
			}
			return nil
		},
	}))

	require.NoError(t, u.Run(context.Background(), setX(21)))

	assert.Equal(t, []int64{21}, column[int64](t, u, "counters", "x"))
	assert.Equal(t, []int64{42}, column[int64](t, u, "counters", "y"))
	assert.Equal(t, []int64{43}, column[int64](t, u, "counters", "z"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.firings, 2)
	assert.Equal(t, "y-doubles-x", rec.firings[0].Reaction)
	assert.Equal(t, "z-follows-y", rec.firings[1].Reaction)
	assert.Equal(t, rec.firings[0].Invocation, rec.firings[1].Invocation)
	assert.Equal(t, ir.StatusOK, rec.outcomes[len(rec.outcomes)-1].Status)
}

func TestPropagate_ClosureAcquiresReactionLocksUpFront(t *testing.T) {
	u := newCounterUniverse(t)
	y := Edit[int64]("counters", "y")
	require.NoError(t, u.React(OnEdited("counters", "x"), Kernel{
		Name:   "touch-y",
		Params: []Param{y},
		Body:   func(tx *Tx) error { y.In(tx).Set(0, 1); return nil },
	}))

	x := Edit[int64]("counters", "x")
	require.NoError(t, u.Run(context.Background(), Kernel{
		Name:   "set-x",
		Params: []Param{x},
		Body: func(tx *Tx) error {
			held := map[string]string{}
			for _, s := range u.Locks().Snapshot() {
				if s.Writer == tx.Token() {
					held[s.Key.String()] = "write"
				}
			}
			assert.Equal(t, "write", held["counters.y"], "reaction lock held before the body runs")
			x.In(tx).Set(0, 1)
			return nil
		},
	}))
}

func TestPropagate_CycleDetected(t *testing.T) {
	u := newCounterUniverse(t)
	require.NoError(t, u.Track("counters", "flag"))

	flag := Edit[bool]("counters", "flag")
	require.NoError(t, u.React(OnEdited("counters", "flag"), Kernel{
		Name:   "flip",
		Params: []Param{flag},
		Body: func(tx *Tx) error {
			for _, row := range tx.Fact().Rows {
				flag.In(tx).Update(row, func(v *bool) { *v = !*v })
			}
			return nil
		},
	}))

	err := u.Run(context.Background(), Kernel{
		Name:   "raise",
		Params: []Param{flag},
		Body:   func(tx *Tx) error { flag.In(tx).Set(0, true); return nil },
	})
	require.Error(t, err)
	assert.True(t, IsPropagationFailure(err))
	assert.True(t, IsCycleError(err))

	var ke *KernelError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, "flip", ke.Kernel)
	require.NotNil(t, ke.Fact)
	assert.Equal(t, ir.FactEdited, ke.Fact.Kind)

	// raise, flip, flip: completed steps stay applied.
	assert.Equal(t, []bool{true}, column[bool](t, u, "counters", "flag"))
	assert.Empty(t, u.Locks().Snapshot())
}

func TestPropagate_StepsExceeded(t *testing.T) {
	u := newCounterUniverse(t, WithMaxSteps(5))

	x := Edit[int64]("counters", "x")
	require.NoError(t, u.React(OnEdited("counters", "x"), Kernel{
		Name:   "bump",
		Params: []Param{x},
		Body: func(tx *Tx) error {
			x.In(tx).Update(0, func(v *int64) { *v++ })
			return nil
		},
	}))

	err := u.Run(context.Background(), setX(1))
	require.Error(t, err)
	assert.True(t, IsPropagationFailure(err))
	assert.True(t, IsStepsExceededError(err))
	assert.False(t, IsCycleError(err))

	var se *StepsExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 5, se.Limit)

	assert.Equal(t, []int64{6}, column[int64](t, u, "counters", "x"))
}

func TestPropagate_FailureAbortsInvocation(t *testing.T) {
	u := newCounterUniverse(t)

	boom := errors.New("no container available")
	boxes := NewRows("containers")
	require.NoError(t, u.React(OnPushed("items"), Kernel{
		Name:   "box-item",
		Params: []Param{boxes},
		Body: func(tx *Tx) error {
			if _, err := boxes.In(tx).Push(table.Row{"label": "tmp"}); err != nil {
				return err
			}
			return boom
		},
	}))
	secondRan := false
	require.NoError(t, u.React(OnPushed("items"), Kernel{
		Name: "audit",
		Body: func(*Tx) error { secondRan = true; return nil },
	}))

	rows := NewRows("items")
	err := u.Run(context.Background(), Kernel{
		Name:   "receive",
		Params: []Param{rows},
		Body: func(tx *Tx) error {
			_, err := rows.In(tx).Push(table.Row{"id": int64(7)})
			return err
		},
	})

	require.Error(t, err)
	assert.True(t, IsPropagationFailure(err))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrPropagation)
	assert.Contains(t, err.Error(), "box-item")
	assert.Contains(t, err.Error(), "pushed items")

	assert.False(t, secondRan, "later reactions do not run after a failure")
	assert.Equal(t, []int64{7}, column[int64](t, u, "items", "id"), "the kernel's own step stays applied")
	assert.Empty(t, column[int64](t, u, "containers", "id"), "the failing reaction is rolled back")
}

func TestPropagate_ReactionResolutionFailure(t *testing.T) {
	u := newCounterUniverse(t)
	require.NoError(t, u.React(OnEdited("counters", "x"), Kernel{
		Name:   "needs-ghost",
		Params: []Param{Read[int64]("ghosts", "id")},
	}))

	err := u.Run(context.Background(), setX(1))
	require.Error(t, err)
	assert.True(t, IsPropagationFailure(err))
	assert.ErrorIs(t, err, ErrMissingResource)
}
