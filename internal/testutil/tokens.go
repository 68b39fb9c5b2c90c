package testutil

import (
	"fmt"
	"sync"
)

// SequentialTokens generates invocation tokens "<prefix>-0001",
// "<prefix>-0002", ... so the same scenario run twice produces identical
// traces.
//
// Unlike engine.FixedGenerator, which hands out a fixed list and panics
// when it runs out, SequentialTokens never runs out.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokens creates a generator for prefix.
//
// The prefix is typically set in the scenario YAML:
//
//	token: "warehouse"
//
// If prefix is empty, "test-token" is used.
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "test-token"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token.
//
// Implements engine.TokenGenerator.
func (g *SequentialTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequentialTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
