package engine

import "sync"

// CycleDetector tracks reaction firings per invocation so a reaction that
// keeps re-triggering itself without progress stops instead of looping.
//
// A cycle is the same (reaction, fact digest) pair firing twice within one
// invocation. Fact digests cover the fact's rows and old/new values, so a
// reaction that rewrites a tracked column with the value it already holds
// produces the same digest on its second round.
//
// Example cycle:
//
//	Edit items.qty row 3 → edited fact D → clamp reaction writes row 3
//	→ edited fact D again → clamp would fire again... ← CYCLE DETECTED
//
// CRITICAL DISTINCTION from the step quota:
//   - Cycle detection: catches repeating patterns (A → B → A)
//   - Step quota: catches long chains of distinct firings (A → B → C → ... → Z)
type CycleDetector struct {
	mu      sync.Mutex
	history map[string]map[string]bool // map[invocation]map[reaction:digest]bool
}

// NewCycleDetector creates an empty cycle detector.
func NewCycleDetector() *CycleDetector {
	return &CycleDetector{
		history: make(map[string]map[string]bool),
	}
}

// WouldCycle reports whether reaction already fired on digest in this
// invocation.
//
// Thread-safe: Can be called concurrently.
func (c *CycleDetector) WouldCycle(token, reaction, digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.history[token][reaction+":"+digest]
}

// Record marks that reaction fired on digest in this invocation.
// Call it right after WouldCycle returns false, before running the reaction.
//
// Thread-safe: Can be called concurrently.
func (c *CycleDetector) Record(token, reaction, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.history[token] == nil {
		c.history[token] = make(map[string]bool)
	}
	c.history[token][reaction+":"+digest] = true
}

// Clear drops the history of an invocation once it ends, whatever its
// outcome.
func (c *CycleDetector) Clear(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.history, token)
}

// HistorySize returns the number of invocations with tracked history.
func (c *CycleDetector) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.history)
}

// InvocationHistorySize returns the number of (reaction, digest) pairs
// recorded for an invocation.
func (c *CycleDetector) InvocationHistorySize(token string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.history[token])
}
