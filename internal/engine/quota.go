package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps is the reaction firing budget of one invocation.
const DefaultMaxSteps = 10000

// QuotaEnforcer counts reaction firings within one invocation and
// enforces a maximum.
//
// Each top-level invocation gets its own QuotaEnforcer; reactions run
// during its propagation share it. It catches propagation that keeps
// producing new, distinct facts, which cycle detection cannot see.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one step and fails once the limit is exceeded.
func (q *QuotaEnforcer) Check(token string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			Invocation: token,
			Steps:      q.current,
			Limit:      q.maxSteps,
		}
	}
	return nil
}

// Current returns the number of steps taken so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when propagation exceeds the step quota.
// It terminates the whole invocation.
type StepsExceededError struct {
	Invocation string
	Steps      int
	Limit      int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("%s: invocation %s exceeded max steps quota: %d steps > %d limit",
		ErrCodeStepsExceeded, e.Invocation, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if err is or wraps a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
