// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock is already held elsewhere.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is an acquired lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker guards jobs whose ConcurrencyPolicy is Forbid.
type Locker interface {
	// Lock must not wait for a held lock; it returns ErrLockNotAcquired instead.
	Lock(ctx context.Context, name string) (Lock, error)
}
