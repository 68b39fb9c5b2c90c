package lock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/roach88/universe/internal/ir"
)

// Owner is the affinity token of one in-flight invocation. All locks of
// the invocation, including those taken while propagating reactions, are
// held by the same Owner. An Owner must only be used by one goroutine at a
// time; concurrent use panics.
type Owner struct {
	m     *Manager
	token string

	held  map[ir.ColumnKey]ir.Access
	order []ir.ColumnKey
	max   ir.ColumnKey

	busy atomic.Bool
}

// NewOwner creates an owner identified by token in logs and errors.
func (m *Manager) NewOwner(token string) *Owner {
	return &Owner{
		m:     m,
		token: token,
		held:  make(map[ir.ColumnKey]ir.Access),
	}
}

// Token returns the token the owner was created with.
func (o *Owner) Token() string { return o.token }

// Holds reports the access o holds on key, if any.
func (o *Owner) Holds(key ir.ColumnKey) (ir.Access, bool) {
	a, ok := o.held[key]
	return a, ok
}

// Covers reports whether every request is already satisfied by held locks.
func (o *Owner) Covers(reqs []Request) bool {
	for _, r := range reqs {
		a, ok := o.held[r.Key]
		if !ok || !a.Covers(r.Access) {
			return false
		}
	}
	return true
}

// Held returns the held locks in acquisition order.
func (o *Owner) Held() []Request {
	out := make([]Request, len(o.order))
	for i, key := range o.order {
		out[i] = Request{Key: key, Access: o.held[key]}
	}
	return out
}

// Acquire takes every request not already held. Requests are normalized
// into the global order first. Keys o already holds with sufficient access
// are skipped; a read-held key requested for writing fails with
// ErrUpgrade. If any acquisition fails, the keys taken by this call are
// released again and the error is returned.
func (o *Owner) Acquire(ctx context.Context, reqs []Request) error {
	o.enter()
	defer o.exit()

	mark := len(o.order)
	for _, r := range Normalize(reqs) {
		if have, ok := o.held[r.Key]; ok {
			if have.Covers(r.Access) {
				continue
			}
			o.releaseFrom(mark)
			return fmt.Errorf("%s: %w", r.Key, ErrUpgrade)
		}
		outOfOrder := len(o.order) > 0 && r.Key.Less(o.max)
		if err := o.m.acquire(ctx, o, r, outOfOrder); err != nil {
			o.releaseFrom(mark)
			return err
		}
		o.held[r.Key] = r.Access
		o.order = append(o.order, r.Key)
		if len(o.order) == 1 || o.max.Less(r.Key) {
			o.max = r.Key
		}
	}
	return nil
}

// ReleaseAll releases every held lock in reverse acquisition order.
func (o *Owner) ReleaseAll() {
	o.enter()
	defer o.exit()
	o.releaseFrom(0)
}

// releaseFrom releases the locks acquired at positions >= mark, last
// acquired first.
func (o *Owner) releaseFrom(mark int) {
	for i := len(o.order) - 1; i >= mark; i-- {
		key := o.order[i]
		o.m.release(o, key)
		delete(o.held, key)
	}
	o.order = o.order[:mark]
	o.max = ir.ColumnKey{}
	for _, key := range o.order {
		if o.max.Less(key) {
			o.max = key
		}
	}
}

func (o *Owner) enter() {
	if !o.busy.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("lock: owner %s used from two goroutines at once", o.token))
	}
}

func (o *Owner) exit() {
	o.busy.Store(false)
}
