package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
	"github.com/roach88/universe/internal/table"
)

// Kernel is a unit of work whose parameters declare every table, column
// and resource it touches. Arguments from the caller are captured by the
// Body closure.
type Kernel struct {
	Name   string
	Params []Param
	Body   func(tx *Tx) error
}

// invocation is the state shared by a top-level run and every reaction
// and nested run it causes.
type invocation struct {
	token  string
	kernel string
	owner  *lock.Owner
	quota  *QuotaEnforcer
	facts  int
	steps  int

	// removals lists the removed facts of the invocation in seq order.
	// Facts still waiting for their reactions are remapped through the
	// removals that followed them.
	removals  []*ir.Fact
	delivered map[delivery]bool
}

// delivery identifies one reaction receiving one fact.
type delivery struct {
	reaction *reaction
	seq      int64
}

type txKey struct{}

// Tx is the context of one kernel step. Parameter values are obtained
// with the parameter's In method. A Tx must not be used after the body
// returns.
type Tx struct {
	ctx    context.Context
	u      *Universe
	inv    *invocation
	kernel string
	fact   *ir.Fact
	depth  int
	done   bool

	values map[Param]any
	rows   map[ir.TableName]*rowState
	writes map[ir.ColumnKey]table.AnyColumn

	// step is the outermost Tx of the step. Nested runs share its row
	// and write bookkeeping; failed records a nested body failure.
	step   *Tx
	failed error
}

func newTx(ctx context.Context, u *Universe, inv *invocation, kernel string, fact *ir.Fact, depth int) *Tx {
	tx := &Tx{
		u:      u,
		inv:    inv,
		kernel: kernel,
		fact:   fact,
		depth:  depth,
		values: make(map[Param]any),
		rows:   make(map[ir.TableName]*rowState),
		writes: make(map[ir.ColumnKey]table.AnyColumn),
	}
	tx.step = tx
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx
}

// nested returns the Tx of a kernel run inside tx's step.
func (tx *Tx) nested(kernel string) *Tx {
	child := &Tx{
		u:      tx.u,
		inv:    tx.inv,
		kernel: kernel,
		fact:   tx.fact,
		depth:  tx.depth + 1,
		values: make(map[Param]any),
		rows:   tx.rows,
		writes: tx.writes,
		step:   tx.step,
	}
	child.ctx = context.WithValue(tx.ctx, txKey{}, child)
	return child
}

// Context returns the step's context. Passing it to Universe.Run makes
// the nested run join this invocation and reuse its locks.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Fact returns the fact that triggered a reaction, or nil for kernels run
// directly. Row ids of pushed and edited facts are current: removals made
// by reactions that ran since the fact was produced are applied, and rows
// they removed are left out. Removed facts keep the ids and moves of the
// removal itself; each reaction receives the removals of a table in the
// order they happened.
func (tx *Tx) Fact() *ir.Fact { return tx.fact }

// Token returns the invocation token shared by every step of the
// invocation.
func (tx *Tx) Token() string { return tx.inv.token }

// Kernel returns the name of the running kernel.
func (tx *Tx) Kernel() string { return tx.kernel }

// Depth is 0 for the top-level kernel and grows by one per reaction or
// nested run.
func (tx *Tx) Depth() int { return tx.depth }

// value returns the bound value of p.
func (tx *Tx) value(p Param) any {
	tx.check()
	v, ok := tx.values[p]
	if !ok {
		panic(fmt.Sprintf("engine: parameter %s is not declared by kernel %s", p.Describe(), tx.kernel))
	}
	return v
}

func (tx *Tx) check() {
	if tx.done {
		panic(fmt.Sprintf("engine: accessor of kernel %s used after its body returned", tx.kernel))
	}
}

// rowState returns the per-step row bookkeeping of t.
func (tx *Tx) rowState(t *table.Table) *rowState {
	rs, ok := tx.rows[t.Name()]
	if !ok {
		rs = &rowState{table: t, start: t.Len()}
		tx.rows[t.Name()] = rs
	}
	return rs
}

// rowState records the row lifecycle requests of one step against one
// table. Pushes are applied immediately; removals wait for the end of
// the step.
type rowState struct {
	table    *table.Table
	start    int
	removals []ir.RowID
}

func (rs *rowState) removing(id ir.RowID) bool {
	return slices.Contains(rs.removals, id)
}
