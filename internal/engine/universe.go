package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
	"github.com/roach88/universe/internal/table"
)

// ErrDuplicateTable is returned when a table name is declared twice.
var ErrDuplicateTable = errors.New("table already declared")

// Option configures a Universe.
type Option func(*Universe)

// WithLockTimeout bounds every lock acquisition. A kernel that cannot get
// its locks in time fails with LOCK_CONTENTION_TIMEOUT. Zero (the
// default) blocks until the locks are released or the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(u *Universe) { u.lockTimeout = d }
}

// WithReorderTimeout bounds waits for locks that propagation discovers
// out of global order.
func WithReorderTimeout(d time.Duration) Option {
	return func(u *Universe) { u.reorderTimeout = d }
}

// WithMaxSteps sets the reaction firing quota of one invocation.
func WithMaxSteps(n int) Option {
	return func(u *Universe) { u.maxSteps = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Universe) { u.logger = logger }
}

// WithObserver registers an observer for invocation, fact, firing and
// outcome records.
func WithObserver(o Observer) Option {
	return func(u *Universe) { u.observer = o }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(u *Universe) { u.metrics = m }
}

// WithTokenGenerator replaces the UUIDv7 invocation token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(u *Universe) { u.tokens = g }
}

// WithClock replaces the logical clock.
func WithClock(c *Clock) Option {
	return func(u *Universe) { u.clock = c }
}

// Universe owns every table, installed resource and registered reaction
// of one store. It is explicitly constructed and explicitly closed; there
// is no process-wide instance.
//
// u.mu guards the registries only. It is never held while waiting for a
// column lock.
type Universe struct {
	mu        sync.RWMutex
	tables    map[ir.TableName]*table.Table
	tracked   map[ir.ColumnKey]bool
	resources map[reflect.Type]any
	reactions []*reaction
	closed    bool
	running   sync.WaitGroup

	locks  *lock.Manager
	cycles *CycleDetector
	clock  *Clock
	tokens TokenGenerator

	lockTimeout    time.Duration
	reorderTimeout time.Duration
	maxSteps       int

	logger   *slog.Logger
	observer Observer
	metrics  *Metrics
}

// New creates an empty universe.
func New(opts ...Option) *Universe {
	u := &Universe{
		tables:         make(map[ir.TableName]*table.Table),
		tracked:        make(map[ir.ColumnKey]bool),
		resources:      make(map[reflect.Type]any),
		cycles:         NewCycleDetector(),
		clock:          NewClock(),
		tokens:         UUIDv7Generator{},
		reorderTimeout: lock.DefaultReorderTimeout,
		maxSteps:       DefaultMaxSteps,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.locks = lock.NewManager(
		lock.WithTimeout(u.lockTimeout),
		lock.WithReorderTimeout(u.reorderTimeout),
		lock.WithLogger(u.logger),
		lock.WithWaitObserver(u.observeLockWait),
	)
	return u
}

// Locks exposes the lock manager for diagnostics.
func (u *Universe) Locks() *lock.Manager {
	return u.locks
}

// Clock returns the universe's logical clock.
func (u *Universe) Clock() *Clock {
	return u.clock
}

// DeclareTable creates an empty table without columns.
func (u *Universe) DeclareTable(name ir.TableName) error {
	n, err := ir.NormalizeName(string(name))
	if err != nil {
		return fmt.Errorf("declare table: %w", err)
	}
	name = ir.TableName(n)

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	if _, ok := u.tables[name]; ok {
		return fmt.Errorf("declare table %s: %w", name, ErrDuplicateTable)
	}
	u.tables[name] = table.New(name)
	u.logger.Debug("table declared", "table", name)
	return nil
}

// DeclareColumn adds a column of type T to a declared table. Existing rows
// get the zero value. The table's row lock is held while the column is
// attached, so declarations never race with running kernels.
func DeclareColumn[T any](u *Universe, tableName ir.TableName, column ir.ColumnName) error {
	n, err := ir.NormalizeName(string(column))
	if err != nil {
		return fmt.Errorf("declare column %s: %w", tableName, err)
	}
	column = ir.ColumnName(n)

	owner, err := u.locks.Lock(context.Background(), "declare", lock.WriteOf(ir.RowsKey(tableName)))
	if err != nil {
		return fmt.Errorf("declare column %s.%s: %w", tableName, column, err)
	}
	defer owner.ReleaseAll()

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	t, ok := u.tables[tableName]
	if !ok {
		return &KernelError{Code: ErrCodeUnknownTable, Param: -1, Message: fmt.Sprintf("declare column %s.%s", tableName, column)}
	}
	if _, err := table.AddColumn[T](t, column); err != nil {
		return fmt.Errorf("declare column: %w", err)
	}
	u.logger.Debug("column declared", "table", tableName, "column", column, "type", reflect.TypeFor[T]().String())
	return nil
}

// Track turns on change tracking for a column. Writes to tracked columns
// produce edited facts. The table's row lock is taken as well, since
// removals rekey the change log.
func (u *Universe) Track(tableName ir.TableName, column ir.ColumnName) error {
	key := ir.ColumnKey{Table: tableName, Column: column}
	owner, err := u.locks.Lock(context.Background(), "track", lock.WriteOf(key), lock.WriteOf(ir.RowsKey(tableName)))
	if err != nil {
		return fmt.Errorf("track %s: %w", key, err)
	}
	defer owner.ReleaseAll()

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	t, ok := u.tables[tableName]
	if !ok {
		return &KernelError{Code: ErrCodeUnknownTable, Param: -1, Message: "track " + key.String()}
	}
	col, ok := t.Column(column)
	if !ok {
		return missingResource("track: no column %s", key)
	}
	col.SetTracked(true)
	u.tracked[key] = true
	return nil
}

// Tables returns the declared table names, sorted.
func (u *Universe) Tables() []ir.TableName {
	u.mu.RLock()
	defer u.mu.RUnlock()

	names := make([]ir.TableName, 0, len(u.tables))
	for name := range u.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ColumnInfo describes a declared column.
type ColumnInfo struct {
	Name    ir.ColumnName
	Type    reflect.Type
	Tracked bool
}

// Columns describes the columns of a table in declaration order.
func (u *Universe) Columns(tableName ir.TableName) ([]ColumnInfo, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	t, ok := u.tables[tableName]
	if !ok {
		return nil, missingResource("no table %s", tableName)
	}
	var out []ColumnInfo
	for _, name := range t.Columns() {
		col, _ := t.Column(name)
		out = append(out, ColumnInfo{
			Name:    name,
			Type:    col.Type(),
			Tracked: u.tracked[ir.ColumnKey{Table: tableName, Column: name}],
		})
	}
	return out, nil
}

// lookupTable returns a declared table.
func (u *Universe) lookupTable(name ir.TableName) (*table.Table, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	t, ok := u.tables[name]
	if !ok {
		return nil, missingResource("no table %s", name)
	}
	return t, nil
}

// lookupColumn returns a declared column, checking its element type when
// want is non-nil.
func (u *Universe) lookupColumn(tableName ir.TableName, column ir.ColumnName, want reflect.Type) (*table.Table, table.AnyColumn, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	t, ok := u.tables[tableName]
	if !ok {
		return nil, nil, missingResource("no table %s", tableName)
	}
	col, ok := t.Column(column)
	if !ok {
		return nil, nil, missingResource("no column %s.%s", tableName, column)
	}
	if want != nil && col.Type() != want {
		return nil, nil, typeMismatch("column %s.%s holds %s, requested %s", tableName, column, col.Type(), want)
	}
	return t, col, nil
}

// isTracked reports whether key is a tracked column.
func (u *Universe) isTracked(key ir.ColumnKey) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.tracked[key]
}

// enter registers a running invocation, failing once the universe is
// closed.
func (u *Universe) enter() error {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if u.closed {
		return ErrClosed
	}
	u.running.Add(1)
	return nil
}

// Close rejects new invocations, waits for running ones, closes installed
// resources implementing io.Closer and drops every table.
func (u *Universe) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	u.running.Wait()

	u.mu.Lock()
	defer u.mu.Unlock()

	var errs []error
	types := make([]reflect.Type, 0, len(u.resources))
	for typ := range u.resources {
		types = append(types, typ)
	}
	slices.SortFunc(types, func(a, b reflect.Type) int { return cmp.Compare(a.String(), b.String()) })
	for _, typ := range types {
		if c, ok := closerOf(u.resources[typ]); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close resource %s: %w", typ, err))
			}
		}
	}
	clear(u.resources)
	clear(u.tables)
	clear(u.tracked)
	u.reactions = nil
	u.logger.Debug("universe closed")
	return errors.Join(errs...)
}

// closerOf finds an io.Closer in a stored resource pointer or the value
// it points to.
func closerOf(ptr any) (io.Closer, bool) {
	if c, ok := ptr.(io.Closer); ok {
		return c, true
	}
	v := reflect.ValueOf(ptr)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		if c, ok := v.Elem().Interface().(io.Closer); ok {
			return c, true
		}
	}
	return nil, false
}

func (u *Universe) observeLockWait(key ir.ColumnKey, waited time.Duration) {
	if u.metrics != nil {
		u.metrics.lockWait.Observe(waited.Seconds())
	}
}
