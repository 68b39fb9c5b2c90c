package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/universe/internal/ir"
)

// Trace is everything journaled for one invocation.
type Trace struct {
	Token       string          `json:"token"`
	Invocations []ir.Invocation `json:"invocations"`
	Facts       []FactRecord    `json:"facts"`
	Firings     []ir.Firing     `json:"firings"`
	Outcome     *ir.Outcome     `json:"outcome,omitempty"`
	LastSeq     int64           `json:"last_seq"`

	// UnmatchedFirings counts firings that point at a fact seq with no
	// journaled fact, which happens when fact writes failed.
	UnmatchedFirings int `json:"unmatched_firings"`
}

// Complete reports whether the invocation reached an outcome.
func (t *Trace) Complete() bool { return t.Outcome != nil }

// ReadTrace collects the trace of invocation token.
func (s *Store) ReadTrace(ctx context.Context, token string) (*Trace, error) {
	invs, err := s.ReadInvocation(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	facts, err := s.ReadFacts(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	firings, err := s.ReadFirings(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}

	t := &Trace{Token: token, Invocations: invs, Facts: facts, Firings: firings}

	o, err := s.ReadOutcome(ctx, token)
	switch {
	case err == nil:
		t.Outcome = &o
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("read trace: %w", err)
	}

	seqs := make(map[int64]bool, len(facts))
	for _, f := range facts {
		seqs[f.Seq] = true
		t.LastSeq = max(t.LastSeq, f.Seq)
	}
	for _, inv := range invs {
		t.LastSeq = max(t.LastSeq, inv.Seq)
	}
	for _, f := range firings {
		t.LastSeq = max(t.LastSeq, f.Seq)
		if !seqs[f.FactSeq] {
			t.UnmatchedFirings++
		}
	}
	if t.Outcome != nil {
		t.LastSeq = max(t.LastSeq, t.Outcome.Seq)
	}
	return t, nil
}

// FindIncomplete returns the tokens of invocations that started but never
// journaled an outcome, in start order. A process that crashed mid
// invocation leaves such traces behind.
func (s *Store) FindIncomplete(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.token
		FROM invocations i
		LEFT JOIN outcomes o ON o.token = i.token
		WHERE o.token IS NULL
		GROUP BY i.token
		ORDER BY MIN(i.seq) ASC, i.token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("find incomplete: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// DigestMismatch is a fact whose stored digest does not match its body.
type DigestMismatch struct {
	Token    string `json:"token"`
	Seq      int64  `json:"seq"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
}

// Verify recomputes the digest of every fact of token from its stored
// body and returns the facts that disagree.
func (s *Store) Verify(ctx context.Context, token string) ([]DigestMismatch, error) {
	facts, err := s.ReadFacts(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	var bad []DigestMismatch
	for _, f := range facts {
		if got := ir.BodyDigest([]byte(f.Body)); got != f.Digest {
			bad = append(bad, DigestMismatch{Token: token, Seq: f.Seq, Stored: f.Digest, Computed: got})
		}
	}
	return bad, nil
}
