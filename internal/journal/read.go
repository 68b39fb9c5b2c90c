package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/universe/internal/ir"
)

// ErrNotFound is returned when a token has no journaled invocation.
var ErrNotFound = errors.New("not found")

// FactRecord is a journaled fact. Column values are not kept as Go
// values; Body holds the canonical JSON structure the digest covers.
type FactRecord struct {
	Token  string        `json:"token"`
	Seq    int64         `json:"seq"`
	Kind   ir.FactKind   `json:"kind"`
	Table  ir.TableName  `json:"table"`
	Column ir.ColumnName `json:"column,omitempty"`
	Rows   []ir.RowID    `json:"rows"`
	Moves  []ir.Move     `json:"moves,omitempty"`
	Body   string        `json:"body"`
	Digest string        `json:"digest"`
}

// Summary describes one top-level invocation.
type Summary struct {
	Token   string `json:"token"`
	Kernel  string `json:"kernel"`
	Seq     int64  `json:"seq"`
	Steps   int    `json:"steps"`
	Facts   int    `json:"facts"`
	Status  string `json:"status"` // "ok", "failed" or "running"
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusRunning marks an invocation without a journaled outcome.
const StatusRunning = "running"

// ReadInvocation returns every step of the invocation token in seq
// order. The first step is the top-level kernel. Returns ErrNotFound if
// nothing was journaled for token.
func (s *Store) ReadInvocation(ctx context.Context, token string) ([]ir.Invocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, seq, kernel, reaction, depth
		FROM invocations
		WHERE token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var out []ir.Invocation
	for rows.Next() {
		var inv ir.Invocation
		if err := rows.Scan(&inv.Token, &inv.Seq, &inv.Kernel, &inv.Reaction, &inv.Depth); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invocations: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invocation %s: %w", token, ErrNotFound)
	}
	return out, nil
}

// ReadFacts returns the facts of invocation token in seq order.
//
// Returns empty slice (not nil) if no facts exist.
func (s *Store) ReadFacts(ctx context.Context, token string) ([]FactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, seq, kind, table_name, column_name, rows, moves, body, digest
		FROM facts
		WHERE token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []FactRecord{}
	for rows.Next() {
		var (
			f          FactRecord
			kind       string
			table, col string
			ids, moves string
		)
		if err := rows.Scan(&f.Token, &f.Seq, &kind, &table, &col, &ids, &moves, &f.Body, &f.Digest); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Kind = ir.FactKind(kind)
		f.Table = ir.TableName(table)
		f.Column = ir.ColumnName(col)
		if f.Rows, err = unmarshalRows(ids); err != nil {
			return nil, err
		}
		if f.Moves, err = unmarshalMoves(moves); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return facts, nil
}

// ReadFirings returns the reaction firings of invocation token in seq
// order.
//
// Returns empty slice (not nil) if no firings exist.
func (s *Store) ReadFirings(ctx context.Context, token string) ([]ir.Firing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, seq, fact_seq, reaction, depth
		FROM firings
		WHERE token = ?
		ORDER BY seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	firings := []ir.Firing{}
	for rows.Next() {
		var f ir.Firing
		if err := rows.Scan(&f.Invocation, &f.Seq, &f.FactSeq, &f.Reaction, &f.Depth); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// ReadOutcome returns the outcome of invocation token. Returns
// ErrNotFound while the invocation has none.
func (s *Store) ReadOutcome(ctx context.Context, token string) (ir.Outcome, error) {
	var o ir.Outcome
	err := s.db.QueryRowContext(ctx, `
		SELECT token, seq, status, code, message
		FROM outcomes
		WHERE token = ?
	`, token).Scan(&o.Token, &o.Seq, &o.Status, &o.Code, &o.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return o, fmt.Errorf("outcome %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return o, fmt.Errorf("read outcome: %w", err)
	}
	return o, nil
}

// ListInvocations summarizes top-level invocations in the order they
// started. limit <= 0 means no limit.
func (s *Store) ListInvocations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.token, i.kernel, i.seq,
			(SELECT COUNT(*) FROM invocations s WHERE s.token = i.token),
			(SELECT COUNT(*) FROM facts f WHERE f.token = i.token),
			COALESCE(o.status, ?), COALESCE(o.code, ''), COALESCE(o.message, '')
		FROM invocations i
		LEFT JOIN outcomes o ON o.token = i.token
		WHERE i.seq = (SELECT MIN(seq) FROM invocations m WHERE m.token = i.token)
		ORDER BY i.seq ASC, i.token COLLATE BINARY ASC
		LIMIT ?
	`, StatusRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Token, &sum.Kernel, &sum.Seq, &sum.Steps, &sum.Facts, &sum.Status, &sum.Code, &sum.Message); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, nil
}
