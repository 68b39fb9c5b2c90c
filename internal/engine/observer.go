package engine

import (
	"context"
	"errors"

	"github.com/roach88/universe/internal/ir"
)

// Observer receives the records of every invocation. Calls happen on the
// invocation's goroutine while its locks are held, so implementations
// must not run kernels. Errors are logged and never fail a kernel.
type Observer interface {
	ObserveInvocation(ctx context.Context, inv ir.Invocation) error
	ObserveFact(ctx context.Context, f ir.Fact) error
	ObserveFiring(ctx context.Context, f ir.Firing) error
	ObserveOutcome(ctx context.Context, o ir.Outcome) error
}

// MultiObserver fans every record out to each of obs in order. All
// observers see every record; their errors are joined.
func MultiObserver(obs ...Observer) Observer {
	return multiObserver(obs)
}

type multiObserver []Observer

func (m multiObserver) ObserveInvocation(ctx context.Context, inv ir.Invocation) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.ObserveInvocation(ctx, inv))
	}
	return errors.Join(errs...)
}

func (m multiObserver) ObserveFact(ctx context.Context, f ir.Fact) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.ObserveFact(ctx, f))
	}
	return errors.Join(errs...)
}

func (m multiObserver) ObserveFiring(ctx context.Context, f ir.Firing) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.ObserveFiring(ctx, f))
	}
	return errors.Join(errs...)
}

func (m multiObserver) ObserveOutcome(ctx context.Context, o ir.Outcome) error {
	var errs []error
	for _, ob := range m {
		errs = append(errs, ob.ObserveOutcome(ctx, o))
	}
	return errors.Join(errs...)
}

func (u *Universe) observeInvocation(ctx context.Context, inv *invocation, kernel string, reaction bool, depth int) {
	rec := ir.Invocation{
		Token:    inv.token,
		Kernel:   kernel,
		Seq:      u.clock.Next(),
		Reaction: reaction,
		Depth:    depth,
	}
	u.emit(ctx, "invocation", func(ctx context.Context) error {
		return u.observer.ObserveInvocation(ctx, rec)
	})
}

func (u *Universe) observeFact(ctx context.Context, inv *invocation, f *ir.Fact) {
	if u.metrics != nil {
		u.metrics.facts.WithLabelValues(string(f.Kind)).Inc()
	}
	u.emit(ctx, "fact", func(ctx context.Context) error {
		return u.observer.ObserveFact(ctx, *f)
	})
}

func (u *Universe) observeFiring(ctx context.Context, inv *invocation, reaction string, f *ir.Fact, depth int) {
	rec := ir.Firing{
		FactSeq:    f.Seq,
		Reaction:   reaction,
		Invocation: inv.token,
		Depth:      depth,
		Seq:        u.clock.Next(),
	}
	u.emit(ctx, "firing", func(ctx context.Context) error {
		return u.observer.ObserveFiring(ctx, rec)
	})
}

// emit delivers one record to the observer. Records are written even when
// the caller's context is already cancelled, so a failed invocation still
// leaves a complete trace.
func (u *Universe) emit(ctx context.Context, what string, fn func(ctx context.Context) error) {
	if u.observer == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		u.logger.Warn("observer failed", "record", what, "error", err)
	}
}
