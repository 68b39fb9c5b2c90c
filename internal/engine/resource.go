package engine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
)

// Resources are singleton values keyed by their Go type. Kernels reach
// them through Res and Mut parameters, which lock the resource's key like
// a column.

func resourceKey(typ reflect.Type) ir.ColumnKey {
	return ir.ResourceKey(typ.String())
}

// Install makes v available to kernels requesting T. Installing a type
// that is already installed fails with ALREADY_INSTALLED; use Replace to
// swap the value.
func Install[T any](u *Universe, v T) error {
	typ := reflect.TypeFor[T]()
	return u.withResourceLock(typ, func() error {
		if _, ok := u.resources[typ]; ok {
			return &KernelError{Code: ErrCodeAlreadyInstalled, Param: -1, Message: "resource " + typ.String()}
		}
		ptr := new(T)
		*ptr = v
		u.resources[typ] = ptr
		u.logger.Debug("resource installed", "type", typ.String())
		return nil
	})
}

// Replace installs v for T, discarding any previous value. It waits for
// kernels holding the resource to finish.
func Replace[T any](u *Universe, v T) error {
	typ := reflect.TypeFor[T]()
	return u.withResourceLock(typ, func() error {
		ptr := new(T)
		*ptr = v
		u.resources[typ] = ptr
		return nil
	})
}

// Uninstall removes the resource of type T and returns it.
func Uninstall[T any](u *Universe) (T, error) {
	typ := reflect.TypeFor[T]()
	var out T
	err := u.withResourceLock(typ, func() error {
		ptr, ok := u.resources[typ]
		if !ok {
			return missingResource("no resource %s", typ)
		}
		out = *ptr.(*T)
		delete(u.resources, typ)
		return nil
	})
	return out, err
}

// Lookup returns a copy of the installed resource of type T. Kernels
// should use Res or Mut instead; Lookup is for setup and teardown code.
func Lookup[T any](u *Universe) (T, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	ptr, ok := u.resources[reflect.TypeFor[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return *ptr.(*T), true
}

// withResourceLock runs fn holding the resource's write lock and u.mu.
func (u *Universe) withResourceLock(typ reflect.Type, fn func() error) error {
	owner, err := u.locks.Lock(context.Background(), "install", lock.WriteOf(resourceKey(typ)))
	if err != nil {
		return fmt.Errorf("resource %s: %w", typ, err)
	}
	defer owner.ReleaseAll()

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	return fn()
}

// lookupResource returns the stored pointer for typ.
func (u *Universe) lookupResource(typ reflect.Type) (any, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	ptr, ok := u.resources[typ]
	if !ok {
		return nil, missingResource("no resource %s", typ)
	}
	return ptr, nil
}
