package lock

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/universe/internal/ir"
)

var (
	// ErrTimeout is the cause of a ContentionError raised by a lock timeout.
	ErrTimeout = errors.New("lock wait timed out")

	// ErrUpgrade is returned when an owner holding a read lock asks for
	// the same key for writing.
	ErrUpgrade = errors.New("cannot upgrade a held read lock to write")
)

// ContentionError reports an acquisition that gave up waiting.
type ContentionError struct {
	Key        ir.ColumnKey
	Access     ir.Access
	Owner      string
	Waited     time.Duration
	OutOfOrder bool
	Cause      error
}

func (e *ContentionError) Error() string {
	order := ""
	if e.OutOfOrder {
		order = " out of order"
	}
	return fmt.Sprintf("lock contention on %s (%s%s) for owner %s after %s: %v",
		e.Key, e.Access, order, e.Owner, e.Waited.Round(time.Microsecond), e.Cause)
}

func (e *ContentionError) Unwrap() error {
	return e.Cause
}

// IsContention returns true if err is or wraps a ContentionError.
func IsContention(err error) bool {
	var ce *ContentionError
	return errors.As(err, &ce)
}
