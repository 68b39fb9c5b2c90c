package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
)

// Trigger selects the facts a reaction fires on.
type Trigger struct {
	Kind   ir.FactKind
	Table  ir.TableName
	Column ir.ColumnName // edited facts only
}

// OnPushed fires on rows pushed to tableName.
func OnPushed(tableName ir.TableName) Trigger {
	return Trigger{Kind: ir.FactPushed, Table: tableName}
}

// OnRemoved fires on rows removed from tableName.
func OnRemoved(tableName ir.TableName) Trigger {
	return Trigger{Kind: ir.FactRemoved, Table: tableName}
}

// OnEdited fires on writes to the tracked column tableName.column.
func OnEdited(tableName ir.TableName, column ir.ColumnName) Trigger {
	return Trigger{Kind: ir.FactEdited, Table: tableName, Column: column}
}

// Matches reports whether f satisfies the trigger.
func (t Trigger) Matches(f *ir.Fact) bool {
	if f.Kind != t.Kind || f.Table != t.Table {
		return false
	}
	return t.Kind != ir.FactEdited || f.Column == t.Column
}

func (t Trigger) String() string {
	if t.Column != "" {
		return fmt.Sprintf("%s %s.%s", t.Kind, t.Table, t.Column)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Table)
}

type reaction struct {
	trigger Trigger
	kernel  Kernel
}

// React registers k to run whenever a fact matching trigger is produced.
// Reactions run on the goroutine of the invocation that produced the
// fact, before its locks are released, in registration order. An edited
// trigger turns on tracking for its column.
func (u *Universe) React(trigger Trigger, k Kernel) error {
	if !trigger.Kind.Valid() {
		return fmt.Errorf("react %s: invalid fact kind %q", k.Name, trigger.Kind)
	}
	if k.Name == "" {
		return errors.New("react: reaction kernel needs a name")
	}
	if trigger.Kind == ir.FactEdited {
		if err := u.Track(trigger.Table, trigger.Column); err != nil {
			return fmt.Errorf("react %s: %w", k.Name, err)
		}
	} else if _, err := u.lookupTable(trigger.Table); err != nil {
		return fmt.Errorf("react %s: %w", k.Name, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	// Copy on write: running propagations keep iterating their snapshot.
	next := make([]*reaction, len(u.reactions), len(u.reactions)+1)
	copy(next, u.reactions)
	u.reactions = append(next, &reaction{trigger: trigger, kernel: k})
	u.logger.Debug("reaction registered", "reaction", k.Name, "trigger", trigger.String())
	return nil
}

func (u *Universe) snapshotReactions() []*reaction {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.reactions
}

// propagate fires the reactions of every fact, depth first. Each reaction
// is a full step whose own facts propagate before the next reaction of
// the current fact runs.
func (u *Universe) propagate(ctx context.Context, inv *invocation, facts []*ir.Fact, depth int) error {
	if len(facts) == 0 {
		return nil
	}
	for _, f := range facts {
		if f.Kind == ir.FactRemoved {
			inv.removals = append(inv.removals, f)
		}
	}
	reactions := u.snapshotReactions()
	for _, f := range facts {
		for _, r := range reactions {
			if !r.trigger.Matches(f) {
				continue
			}
			if err := u.deliver(ctx, inv, r, f, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliver fires r for f unless r already received it. Removed facts of
// the same table that r has not seen yet are delivered first, so a
// reaction translating ids through moves applies every removal in order.
func (u *Universe) deliver(ctx context.Context, inv *invocation, r *reaction, f *ir.Fact, depth int) error {
	key := delivery{reaction: r, seq: f.Seq}
	if inv.delivered[key] {
		return nil
	}
	if f.Kind == ir.FactRemoved {
		for _, prev := range inv.removals {
			if prev.Seq >= f.Seq {
				break
			}
			if prev.Table != f.Table || !r.trigger.Matches(prev) {
				continue
			}
			if err := u.deliver(ctx, inv, r, prev, depth); err != nil {
				return err
			}
		}
	}
	inv.delivered[key] = true

	current := inv.current(f)
	if current == nil {
		// Every row of f was removed after f was produced.
		return nil
	}
	return u.fire(ctx, inv, r, current, depth)
}

// current returns f with its row ids translated through the removals of
// f's table that happened after f. Rows those removals deleted are
// dropped; nil means none is left. Removed facts are returned as is.
func (inv *invocation) current(f *ir.Fact) *ir.Fact {
	if f.Kind == ir.FactRemoved {
		return f
	}
	var later []*ir.Fact
	for _, rm := range inv.removals {
		if rm.Seq > f.Seq && rm.Table == f.Table {
			later = append(later, rm)
		}
	}
	if len(later) == 0 {
		return f
	}

	view := *f
	view.Rows, view.Old, view.New = nil, nil, nil
	for i, id := range f.Rows {
		live := true
		for _, rm := range later {
			if rm.WasRemoved(id) {
				live = false
				break
			}
			id = rm.MovedTo(id)
		}
		if !live {
			continue
		}
		view.Rows = append(view.Rows, id)
		if i < len(f.Old) {
			view.Old = append(view.Old, f.Old[i])
		}
		if i < len(f.New) {
			view.New = append(view.New, f.New[i])
		}
	}
	if len(view.Rows) == 0 {
		return nil
	}
	return &view
}

// fire runs one reaction for one fact. Any failure becomes a
// PROPAGATION_FAILED error naming the reaction and the fact; a failure
// that already is one passes through unchanged.
func (u *Universe) fire(ctx context.Context, inv *invocation, r *reaction, f *ir.Fact, depth int) error {
	name := r.kernel.Name

	fail := func(err error) error {
		if IsPropagationFailure(err) {
			return err
		}
		return &KernelError{
			Code:       ErrCodePropagationFailed,
			Kernel:     name,
			Param:      -1,
			Invocation: inv.token,
			Fact:       f,
			Message:    "reaction to " + f.String(),
			Err:        err,
		}
	}

	if err := inv.quota.Check(inv.token); err != nil {
		return fail(err)
	}
	if u.cycles.WouldCycle(inv.token, name, f.Digest) {
		return fail(&CycleError{Invocation: inv.token, Reaction: name, Digest: f.Digest})
	}
	u.cycles.Record(inv.token, name, f.Digest)

	u.observeFiring(ctx, inv, name, f, depth)
	u.logger.Debug("reaction fired",
		"reaction", name,
		"fact", f.String(),
		"invocation", inv.token,
		"depth", depth)

	reqs, err := u.resolve(r.kernel, inv.token)
	if err != nil {
		return fail(err)
	}
	if err := u.extend(ctx, inv, reqs); err != nil {
		return fail(acquireError(err, name, inv.token))
	}
	u.observeInvocation(ctx, inv, name, true, depth)
	if err := u.step(ctx, inv, r.kernel, f, depth); err != nil {
		return fail(err)
	}
	return nil
}

// closure extends reqs with the requests of every reaction that facts
// reachable from reqs could trigger, so propagation finds its locks
// already held and never has to acquire out of order.
//
// A write on a table's row key can produce pushed and removed facts; a
// write on a tracked column can produce edited facts.
func (u *Universe) closure(reqs []lock.Request) []lock.Request {
	reactions := u.snapshotReactions()
	if len(reactions) == 0 {
		return reqs
	}

	held := make(map[ir.ColumnKey]ir.Access, len(reqs))
	out := append([]lock.Request(nil), reqs...)
	for _, r := range reqs {
		held[r.Key] = held[r.Key].Merge(r.Access)
	}
	included := make([]bool, len(reactions))

	for changed := true; changed; {
		changed = false
		for i, rx := range reactions {
			if included[i] || !u.canTrigger(rx.trigger, held) {
				continue
			}
			included[i] = true
			rr, err := u.resolve(rx.kernel, "")
			if err != nil {
				// Resolution fails again when the reaction fires.
				continue
			}
			for _, r := range rr {
				if have, ok := held[r.Key]; ok && have.Covers(r.Access) {
					continue
				}
				held[r.Key] = held[r.Key].Merge(r.Access)
				out = append(out, r)
				changed = true
			}
		}
	}
	return out
}

func (u *Universe) canTrigger(t Trigger, held map[ir.ColumnKey]ir.Access) bool {
	if t.Kind == ir.FactEdited {
		key := ir.ColumnKey{Table: t.Table, Column: t.Column}
		return held[key] == ir.Write && u.isTracked(key)
	}
	return held[ir.RowsKey(t.Table)] == ir.Write
}
