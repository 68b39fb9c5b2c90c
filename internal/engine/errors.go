package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
)

// ErrorCode categorizes kernel failures.
type ErrorCode string

const (
	// ErrCodeMissingResource indicates a parameter names a table, column or
	// resource type that was never declared or installed.
	ErrCodeMissingResource ErrorCode = "MISSING_RESOURCE"

	// ErrCodeTypeMismatch indicates a parameter's element type differs from
	// the stored type.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeKernelBodyFailed indicates the kernel body returned an error
	// or panicked. Locks were released and no propagation ran.
	ErrCodeKernelBodyFailed ErrorCode = "KERNEL_BODY_FAILED"

	// ErrCodePropagationFailed indicates a reaction failed while the
	// invocation's locks were held.
	ErrCodePropagationFailed ErrorCode = "PROPAGATION_FAILED"

	// ErrCodeLockContention indicates lock acquisition timed out or was
	// cancelled.
	ErrCodeLockContention ErrorCode = "LOCK_CONTENTION_TIMEOUT"

	// ErrCodeLockUpgrade indicates an invocation holding a read lock asked
	// for write access to the same key, from a nested run or a reaction
	// outside the lock-set closure.
	ErrCodeLockUpgrade ErrorCode = "LOCK_UPGRADE"

	// ErrCodeAlreadyInstalled indicates a resource type is already installed.
	ErrCodeAlreadyInstalled ErrorCode = "ALREADY_INSTALLED"

	// ErrCodeUnknownTable indicates a registration named a table that was
	// never declared.
	ErrCodeUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// ErrCodeClosed indicates the universe was closed.
	ErrCodeClosed ErrorCode = "UNIVERSE_CLOSED"

	// ErrCodeCycleDetected indicates a reaction fired twice on the same fact
	// content within one invocation.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeStepsExceeded indicates propagation exceeded the step quota.
	ErrCodeStepsExceeded ErrorCode = "STEPS_EXCEEDED"
)

// Sentinels for errors.Is. A *KernelError matches the sentinel of its code.
var (
	ErrMissingResource  = &KernelError{Code: ErrCodeMissingResource}
	ErrTypeMismatch     = &KernelError{Code: ErrCodeTypeMismatch}
	ErrKernelBodyFailed = &KernelError{Code: ErrCodeKernelBodyFailed}
	ErrPropagation      = &KernelError{Code: ErrCodePropagationFailed}
	ErrLockContention   = &KernelError{Code: ErrCodeLockContention}
	ErrLockUpgrade      = &KernelError{Code: ErrCodeLockUpgrade}
	ErrAlreadyInstalled = &KernelError{Code: ErrCodeAlreadyInstalled}
	ErrUnknownTable     = &KernelError{Code: ErrCodeUnknownTable}
	ErrClosed           = &KernelError{Code: ErrCodeClosed}
)

// KernelError is the typed failure of a kernel invocation or registration.
type KernelError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Kernel names the kernel (or reaction) that failed.
	Kernel string

	// Param is the index of the failing parameter, -1 when not applicable.
	Param int

	// ParamDesc describes the failing parameter.
	ParamDesc string

	// Invocation is the token of the affected invocation.
	Invocation string

	// Fact is the fact that triggered a failing reaction.
	Fact *ir.Fact

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

func (e *KernelError) Error() string {
	msg := string(e.Code)
	if e.Kernel != "" {
		msg += " in " + e.Kernel
	}
	if e.ParamDesc != "" {
		msg += fmt.Sprintf(" (param %d %s)", e.Param, e.ParamDesc)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code, so errors.Is(err, ErrMissingResource)
// holds for any MISSING_RESOURCE failure.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok {
		return false
	}
	return t.Kernel == "" && t.Err == nil && t.Message == "" && t.Code == e.Code
}

// CodeOf returns the code of the outermost KernelError in err's chain,
// or "" when there is none.
func CodeOf(err error) ErrorCode {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// IsResolutionError reports whether err is a MissingResource or
// TypeMismatch failure. Resolution errors happen before any lock is taken.
func IsResolutionError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeMissingResource, ErrCodeTypeMismatch:
		return true
	}
	return false
}

// IsKernelBodyFailure reports whether err is a body failure.
func IsKernelBodyFailure(err error) bool {
	return CodeOf(err) == ErrCodeKernelBodyFailed
}

// IsPropagationFailure reports whether err is a propagation failure.
func IsPropagationFailure(err error) bool {
	return CodeOf(err) == ErrCodePropagationFailed
}

// IsLockContention reports whether err is, or was caused by, a lock
// acquisition that gave up.
func IsLockContention(err error) bool {
	return CodeOf(err) == ErrCodeLockContention || lock.IsContention(err)
}

// acquireError classifies a failed lock acquisition of kernel.
func acquireError(err error, kernel, token string) *KernelError {
	code := ErrCodeLockContention
	if errors.Is(err, lock.ErrUpgrade) {
		code = ErrCodeLockUpgrade
	}
	return &KernelError{Code: code, Kernel: kernel, Param: -1, Invocation: token, Err: err}
}

func missingResource(format string, args ...any) *KernelError {
	return &KernelError{Code: ErrCodeMissingResource, Param: -1, Message: fmt.Sprintf(format, args...)}
}

func typeMismatch(format string, args ...any) *KernelError {
	return &KernelError{Code: ErrCodeTypeMismatch, Param: -1, Message: fmt.Sprintf(format, args...)}
}

// PanicError carries a value recovered from a panicking kernel body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// CycleError reports a reaction that would fire twice on the same fact
// content within one invocation.
type CycleError struct {
	Invocation string
	Reaction   string
	Digest     string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: reaction %s would fire twice on fact %s (invocation=%s)",
		ErrCodeCycleDetected, e.Reaction, shortDigest(e.Digest), e.Invocation)
}

// IsCycleError returns true if err is or wraps a CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
