package journal

import (
	"context"
	"fmt"

	"github.com/roach88/universe/internal/ir"
)

// WriteInvocation records one kernel step. Writing the same (token, seq)
// twice is a no-op.
func (s *Store) WriteInvocation(ctx context.Context, inv ir.Invocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations
		(token, seq, kernel, reaction, depth, engine_version, record_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token, seq) DO NOTHING
	`,
		inv.Token,
		inv.Seq,
		inv.Kernel,
		inv.Reaction,
		inv.Depth,
		ir.EngineVersion,
		ir.RecordVersion,
	)
	if err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}
	return nil
}

// WriteFact records one fact together with its canonical body.
func (s *Store) WriteFact(ctx context.Context, f ir.Fact) error {
	if !f.Kind.Valid() {
		return fmt.Errorf("write fact: invalid kind %q", f.Kind)
	}
	rows, err := marshalRows(f.Rows)
	if err != nil {
		return fmt.Errorf("write fact: %w", err)
	}
	moves, err := marshalMoves(f.Moves)
	if err != nil {
		return fmt.Errorf("write fact: %w", err)
	}
	body, err := marshalBody(f)
	if err != nil {
		return fmt.Errorf("write fact: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO facts
		(token, seq, kind, table_name, column_name, rows, moves, body, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token, seq) DO NOTHING
	`,
		f.Invocation,
		f.Seq,
		string(f.Kind),
		string(f.Table),
		string(f.Column),
		rows,
		moves,
		body,
		f.Digest,
	)
	if err != nil {
		return fmt.Errorf("write fact: %w", err)
	}
	return nil
}

// WriteFiring records that a reaction ran because of a fact.
func (s *Store) WriteFiring(ctx context.Context, f ir.Firing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firings
		(token, seq, fact_seq, reaction, depth)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token, seq) DO NOTHING
	`,
		f.Invocation,
		f.Seq,
		f.FactSeq,
		f.Reaction,
		f.Depth,
	)
	if err != nil {
		return fmt.Errorf("write firing: %w", err)
	}
	return nil
}

// FinishInvocation records the outcome of a top-level invocation. Each
// token has exactly one outcome; a second write is silently ignored.
func (s *Store) FinishInvocation(ctx context.Context, o ir.Outcome) error {
	if o.Status != ir.StatusOK && o.Status != ir.StatusFailed {
		return fmt.Errorf("finish invocation %s: invalid status %q", o.Token, o.Status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes
		(token, seq, status, code, message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		o.Token,
		o.Seq,
		o.Status,
		o.Code,
		o.Message,
	)
	if err != nil {
		return fmt.Errorf("finish invocation: %w", err)
	}
	return nil
}

// The Observe methods let a Store be passed to engine.WithObserver.

// ObserveInvocation journals a kernel step.
func (s *Store) ObserveInvocation(ctx context.Context, inv ir.Invocation) error {
	return s.WriteInvocation(ctx, inv)
}

// ObserveFact journals a fact.
func (s *Store) ObserveFact(ctx context.Context, f ir.Fact) error {
	return s.WriteFact(ctx, f)
}

// ObserveFiring journals a reaction firing.
func (s *Store) ObserveFiring(ctx context.Context, f ir.Firing) error {
	return s.WriteFiring(ctx, f)
}

// ObserveOutcome journals the outcome of a top-level invocation.
func (s *Store) ObserveOutcome(ctx context.Context, o ir.Outcome) error {
	if err := s.FinishInvocation(ctx, o); err != nil {
		return err
	}
	s.logger.Debug("invocation journaled", "invocation", o.Token, "status", o.Status)
	return nil
}
