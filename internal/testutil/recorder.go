package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/universe/internal/ir"
)

// Recorder is an in-memory engine.Observer. It keeps every record in the
// order the universe emitted it.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex, so one Recorder can watch kernels running on many goroutines.
type Recorder struct {
	mu          sync.Mutex
	invocations []ir.Invocation
	facts       []ir.Fact
	firings     []ir.Firing
	outcomes    []ir.Outcome
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) ObserveInvocation(_ context.Context, inv ir.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)
	return nil
}

func (r *Recorder) ObserveFact(_ context.Context, f ir.Fact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.facts = append(r.facts, f)
	return nil
}

func (r *Recorder) ObserveFiring(_ context.Context, f ir.Firing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firings = append(r.firings, f)
	return nil
}

func (r *Recorder) ObserveOutcome(_ context.Context, o ir.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

// Invocations returns a copy of the recorded invocations.
func (r *Recorder) Invocations() []ir.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.invocations)
}

// Facts returns a copy of the recorded facts.
func (r *Recorder) Facts() []ir.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.facts)
}

// FactsOf returns the recorded facts of one kind on one table.
func (r *Recorder) FactsOf(kind ir.FactKind, table ir.TableName) []ir.Fact {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ir.Fact
	for _, f := range r.facts {
		if f.Kind == kind && f.Table == table {
			out = append(out, f)
		}
	}
	return out
}

// Firings returns a copy of the recorded firings.
func (r *Recorder) Firings() []ir.Firing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.firings)
}

// Outcomes returns a copy of the recorded outcomes.
func (r *Recorder) Outcomes() []ir.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.outcomes)
}

// Reset forgets every record.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = nil
	r.facts = nil
	r.firings = nil
	r.outcomes = nil
}
