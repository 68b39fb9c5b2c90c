package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
	"github.com/roach88/universe/internal/table"
)

// Run executes k as one invocation: resolve its parameters, acquire every
// lock it and its reachable reactions need in global order, run the body,
// propagate the resulting facts through reactions until nothing is
// pending, then release every lock in reverse order.
//
// If ctx comes from Tx.Context, k joins the running invocation instead:
// it reuses the invocation's locks and acquires only what is missing.
func (u *Universe) Run(ctx context.Context, k Kernel) error {
	if parent, ok := ctx.Value(txKey{}).(*Tx); ok && !parent.done {
		return u.runNested(parent, k)
	}

	if err := u.enter(); err != nil {
		return err
	}
	defer u.running.Done()

	start := time.Now()
	inv := &invocation{
		token:  u.tokens.Generate(),
		kernel: k.Name,
		quota:  NewQuotaEnforcer(u.maxSteps),

		delivered: make(map[delivery]bool),
	}
	defer u.cycles.Clear(inv.token)

	err := u.invoke(ctx, inv, k)
	u.finish(ctx, inv, err, time.Since(start))
	return err
}

func (u *Universe) invoke(ctx context.Context, inv *invocation, k Kernel) error {
	u.observeInvocation(ctx, inv, k.Name, false, 0)

	reqs, err := u.resolve(k, inv.token)
	if err != nil {
		return err
	}

	inv.owner = u.locks.NewOwner(inv.token)
	defer inv.owner.ReleaseAll()

	if err := inv.owner.Acquire(ctx, u.closure(reqs)); err != nil {
		return acquireError(err, k.Name, inv.token)
	}
	u.logger.Debug("locks acquired", "kernel", k.Name, "invocation", inv.token, "locks", len(inv.owner.Held()))

	return u.step(ctx, inv, k, nil, 0)
}

// runNested runs k inside the step of parent. The nested body shares the
// step's row and write bookkeeping: its pushes, removals and edits are
// finalized with the enclosing step, propagate only once that step
// succeeds, and roll back with it. A nested body failure fails the
// enclosing step even when the caller drops the error.
func (u *Universe) runNested(parent *Tx, k Kernel) error {
	inv := parent.inv
	tx := parent.nested(k.Name)
	defer func() { tx.done = true }()

	u.observeInvocation(parent.ctx, inv, k.Name, false, tx.depth)

	reqs, err := u.resolve(k, inv.token)
	if err != nil {
		return err
	}
	if err := u.extend(parent.ctx, inv, reqs); err != nil {
		return acquireError(err, k.Name, inv.token)
	}
	inv.steps++

	for i, p := range k.Params {
		v, err := p.Bind(tx)
		if err != nil {
			return paramError(err, k.Name, i, p, inv.token)
		}
		tx.values[p] = v
	}

	if err := callBody(k, tx); err != nil {
		ke := &KernelError{
			Code:       ErrCodeKernelBodyFailed,
			Kernel:     k.Name,
			Param:      -1,
			Invocation: inv.token,
			Fact:       parent.fact,
			Err:        err,
		}
		if tx.step.failed == nil {
			tx.step.failed = ke
		}
		return ke
	}
	return nil
}

// resolve collects the lock requests of every parameter of k. No lock is
// taken.
func (u *Universe) resolve(k Kernel, token string) ([]lock.Request, error) {
	var reqs []lock.Request
	for i, p := range k.Params {
		r, err := p.Requests(u)
		if err != nil {
			return nil, paramError(err, k.Name, i, p, token)
		}
		reqs = append(reqs, r...)
	}
	return reqs, nil
}

// paramError attaches kernel and parameter details to a resolution error.
func paramError(err error, kernel string, i int, p Param, token string) error {
	var ke *KernelError
	if !errors.As(err, &ke) {
		ke = &KernelError{Code: ErrCodeMissingResource, Err: err}
	} else {
		cp := *ke
		ke = &cp
	}
	ke.Kernel = kernel
	ke.Param = i
	ke.ParamDesc = p.Describe()
	ke.Invocation = token
	return ke
}

// extend acquires the requests inv does not hold yet, together with the
// requests of the reactions they can trigger.
func (u *Universe) extend(ctx context.Context, inv *invocation, reqs []lock.Request) error {
	if inv.owner.Covers(reqs) {
		return nil
	}
	return inv.owner.Acquire(ctx, u.closure(reqs))
}

// step executes one kernel body and propagates the facts it produced.
// Body failures are rolled back and reported as KERNEL_BODY_FAILED.
func (u *Universe) step(ctx context.Context, inv *invocation, k Kernel, fact *ir.Fact, depth int) error {
	tx := newTx(ctx, u, inv, k.Name, fact, depth)
	defer func() { tx.done = true }()
	inv.steps++

	for i, p := range k.Params {
		v, err := p.Bind(tx)
		if err != nil {
			return paramError(err, k.Name, i, p, inv.token)
		}
		tx.values[p] = v
	}

	err := callBody(k, tx)
	if err == nil && tx.failed != nil {
		err = tx.failed
	}
	var facts []*ir.Fact
	if err == nil {
		facts, err = u.finalize(tx)
	}
	if err != nil {
		tx.rollback()
		u.logger.Debug("kernel body failed", "kernel", k.Name, "invocation", inv.token, "error", err)
		return &KernelError{
			Code:       ErrCodeKernelBodyFailed,
			Kernel:     k.Name,
			Param:      -1,
			Invocation: inv.token,
			Fact:       fact,
			Err:        err,
		}
	}
	tx.done = true

	for _, f := range facts {
		u.observeFact(ctx, inv, f)
	}
	return u.propagate(ctx, inv, facts, depth)
}

// callBody runs the body, converting a panic into a *PanicError.
func callBody(k Kernel, tx *Tx) (err error) {
	if k.Body == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return k.Body(tx)
}

// finalize applies the step's deferred removals and turns its row and
// change-log activity into facts: removed first, then pushed, then
// edited. Pushed and edited rows are reported with their ids after
// compaction; rows removed in the same step are dropped from both.
func (u *Universe) finalize(tx *Tx) ([]*ir.Fact, error) {
	tables := slices.Sorted(maps.Keys(tx.rows))

	for _, name := range tables {
		rs := tx.rows[name]
		for _, id := range rs.removals {
			if !rs.table.Valid(id) {
				return nil, fmt.Errorf("remove %s %s: %w", name, id, table.ErrInvalidRow)
			}
		}
	}

	var facts []*ir.Fact
	type pushRange struct{ from, to int }
	pushes := make(map[ir.TableName]pushRange)
	removals := make(map[ir.TableName]table.Removal)

	for _, name := range tables {
		rs := tx.rows[name]
		pushes[name] = pushRange{rs.start, rs.table.Len()}
		if len(rs.removals) == 0 {
			continue
		}
		rem, err := rs.table.Remove(rs.removals...)
		if err != nil {
			return nil, err
		}
		removals[name] = rem
		facts = append(facts, &ir.Fact{
			Kind:    ir.FactRemoved,
			Table:   name,
			Rows:    rem.IDs(),
			Removed: rem.Rows,
			Moves:   rem.Moves,
		})
	}

	// New rows, by final id.
	fresh := make(map[ir.TableName]map[ir.RowID]bool)
	for _, name := range tables {
		pr := pushes[name]
		if pr.to <= pr.from {
			continue
		}
		rem := removals[name]
		var rows []ir.RowID
		for i := pr.from; i < pr.to; i++ {
			id := ir.RowID(i)
			if removedIn(rem, id) {
				continue
			}
			rows = append(rows, movedTo(rem, id))
		}
		if len(rows) == 0 {
			continue
		}
		slices.Sort(rows)
		t := tx.rows[name].table
		values := make([]any, len(rows))
		fresh[name] = make(map[ir.RowID]bool, len(rows))
		for i, id := range rows {
			values[i] = t.Snapshot(id)
			fresh[name][id] = true
		}
		facts = append(facts, &ir.Fact{
			Kind:  ir.FactPushed,
			Table: name,
			Rows:  rows,
			New:   values,
		})
	}

	keys := slices.SortedFunc(maps.Keys(tx.writes), func(a, b ir.ColumnKey) int { return a.Compare(b) })
	for _, key := range keys {
		col := tx.writes[key]
		if !col.Tracked() {
			continue
		}
		f := &ir.Fact{Kind: ir.FactEdited, Table: key.Table, Column: key.Column}
		for _, ch := range col.Drain() {
			if fresh[key.Table][ch.Row] {
				continue
			}
			f.Rows = append(f.Rows, ch.Row)
			f.Old = append(f.Old, ch.Old)
			f.New = append(f.New, col.Value(ch.Row))
		}
		if len(f.Rows) > 0 {
			facts = append(facts, f)
		}
	}

	for _, f := range facts {
		f.Seq = u.clock.Next()
		f.Invocation = tx.inv.token
		digest, err := ir.FactDigest(f)
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", f, err)
		}
		f.Digest = digest
	}
	tx.inv.facts += len(facts)
	return facts, nil
}

// rollback undoes the pushes and tracked edits of a failed step. Deferred
// removals were never applied.
func (tx *Tx) rollback() {
	for _, rs := range tx.rows {
		rs.table.Truncate(rs.start)
		rs.removals = nil
	}
	for _, col := range tx.writes {
		if col.Tracked() {
			col.Restore(col.Drain())
		}
	}
}

func removedIn(rem table.Removal, id ir.RowID) bool {
	_, found := slices.BinarySearchFunc(rem.Rows, id, func(r ir.RemovedRow, id ir.RowID) int {
		return cmp.Compare(r.ID, id)
	})
	return found
}

func movedTo(rem table.Removal, id ir.RowID) ir.RowID {
	for _, m := range rem.Moves {
		if m.From == id {
			return m.To
		}
	}
	return id
}

// finish records the outcome of a top-level invocation.
func (u *Universe) finish(ctx context.Context, inv *invocation, err error, elapsed time.Duration) {
	outcome := ir.Outcome{Token: inv.token, Seq: u.clock.Next(), Status: ir.StatusOK}
	if err != nil {
		outcome.Status = ir.StatusFailed
		outcome.Code = string(CodeOf(err))
		outcome.Message = err.Error()
		u.logger.Error("kernel failed",
			"kernel", inv.kernel,
			"invocation", inv.token,
			"code", outcome.Code,
			"error", err)
	} else {
		u.logger.Debug("kernel completed",
			"kernel", inv.kernel,
			"invocation", inv.token,
			"steps", inv.steps,
			"facts", inv.facts,
			"elapsed", elapsed)
	}
	if u.metrics != nil {
		u.metrics.observeRun(inv, outcome, elapsed)
	}
	u.emit(ctx, "outcome", func(ctx context.Context) error {
		return u.observer.ObserveOutcome(ctx, outcome)
	})
}
