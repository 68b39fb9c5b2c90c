package lock

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/universe/internal/ir"
)

// DefaultReorderTimeout bounds how long an out-of-order request waits.
const DefaultReorderTimeout = 250 * time.Millisecond

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds every blocking acquisition. Zero (the default) waits
// until the lock is released or the context is done.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithReorderTimeout bounds waits for requests ordered before a key the
// owner already holds.
func WithReorderTimeout(d time.Duration) Option {
	return func(m *Manager) { m.reorderTimeout = d }
}

// WithWaitObserver registers fn to be called after every acquisition that
// had to wait, with the time spent waiting.
func WithWaitObserver(fn func(key ir.ColumnKey, waited time.Duration)) Option {
	return func(m *Manager) { m.observe = fn }
}

// WithLogger sets the logger used for wait diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// Manager owns the lock table.
type Manager struct {
	mu      sync.Mutex
	entries map[ir.ColumnKey]*entry

	timeout        time.Duration
	reorderTimeout time.Duration
	observe        func(ir.ColumnKey, time.Duration)
	logger         *slog.Logger
}

type entry struct {
	writer         *Owner
	readers        map[*Owner]struct{}
	waitingWriters int
	released       chan struct{}
}

// NewManager creates an empty lock table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries:        make(map[ir.ColumnKey]*entry),
		reorderTimeout: DefaultReorderTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the configured acquisition timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Lock creates an owner for token and acquires reqs. On error nothing is
// held. Callers release with ReleaseAll, typically deferred.
func (m *Manager) Lock(ctx context.Context, token string, reqs ...Request) (*Owner, error) {
	o := m.NewOwner(token)
	if err := o.Acquire(ctx, reqs); err != nil {
		return nil, err
	}
	return o, nil
}

// entryFor returns the entry for key, creating it. Caller holds m.mu.
func (m *Manager) entryFor(key ir.ColumnKey) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{
			readers:  make(map[*Owner]struct{}),
			released: make(chan struct{}),
		}
		m.entries[key] = e
	}
	return e
}

func (e *entry) grantable(access ir.Access) bool {
	if e.writer != nil {
		return false
	}
	if access == ir.Write {
		return len(e.readers) == 0
	}
	return e.waitingWriters == 0
}

func (e *entry) signal() {
	close(e.released)
	e.released = make(chan struct{})
}

// acquire blocks until o holds r.Key in r.Access mode, the context is
// done, or the applicable timeout elapses.
func (m *Manager) acquire(ctx context.Context, o *Owner, r Request, outOfOrder bool) error {
	timeout := m.timeout
	if outOfOrder && (timeout == 0 || m.reorderTimeout < timeout) {
		timeout = m.reorderTimeout
	}

	start := time.Now()
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	m.mu.Lock()
	e := m.entryFor(r.Key)
	queued := false
	waited := false
	for {
		// A queued writer must not be blocked by its own queue entry.
		if queued {
			e.waitingWriters--
		}
		if e.grantable(r.Access) {
			if r.Access == ir.Write {
				e.writer = o
			} else {
				e.readers[o] = struct{}{}
			}
			m.mu.Unlock()
			if waited {
				m.logger.Debug("lock acquired after wait",
					"key", r.Key.String(),
					"access", r.Access.String(),
					"owner", o.token,
					"waited", time.Since(start))
				if m.observe != nil {
					m.observe(r.Key, time.Since(start))
				}
			}
			return nil
		}
		if r.Access == ir.Write {
			e.waitingWriters++
			queued = true
		}
		released := e.released
		m.mu.Unlock()

		waited = true
		var cause error
		select {
		case <-released:
		case <-ctx.Done():
			cause = ctx.Err()
		case <-deadline:
			cause = ErrTimeout
		}

		m.mu.Lock()
		if cause != nil {
			if queued {
				e.waitingWriters--
				// Readers parked behind this writer may proceed now.
				e.signal()
			}
			m.mu.Unlock()
			return &ContentionError{
				Key:        r.Key,
				Access:     r.Access,
				Owner:      o.token,
				Waited:     time.Since(start),
				OutOfOrder: outOfOrder,
				Cause:      cause,
			}
		}
	}
}

// release drops o's hold on key. Releasing a key o does not hold is an
// invariant violation and panics.
func (m *Manager) release(o *Owner, key ir.ColumnKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		panic(fmt.Sprintf("lock: %s released by %s but never locked", key, o.token))
	}
	if e.writer == o {
		e.writer = nil
	} else if _, ok := e.readers[o]; ok {
		delete(e.readers, o)
	} else {
		panic(fmt.Sprintf("lock: %s released by %s which does not hold it", key, o.token))
	}
	e.signal()
}

// State describes one key of the lock table.
type State struct {
	Key            ir.ColumnKey `json:"key"`
	Writer         string       `json:"writer,omitempty"`
	Readers        []string     `json:"readers,omitempty"`
	WaitingWriters int          `json:"waiting_writers,omitempty"`
}

// Snapshot returns the state of every key that is held or waited on,
// ordered by key.
func (m *Manager) Snapshot() []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []State
	for key, e := range m.entries {
		if e.writer == nil && len(e.readers) == 0 && e.waitingWriters == 0 {
			continue
		}
		s := State{Key: key, WaitingWriters: e.waitingWriters}
		if e.writer != nil {
			s.Writer = e.writer.token
		}
		for r := range e.readers {
			s.Readers = append(s.Readers, r.token)
		}
		slices.Sort(s.Readers)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b State) int { return a.Key.Compare(b.Key) })
	return out
}
