package memory

import (
	"context"
	"sync"

	"timed-dispatch/internal/domain"
)

type locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocker returns a process-local Locker.
func NewLocker() domain.Locker {
	return &locker{held: make(map[string]struct{})}
}

func (l *locker) Lock(ctx context.Context, name string) (domain.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[name] = struct{}{}
	return &lock{owner: l, name: name}, nil
}

type lock struct {
	owner *locker
	name  string
	once  sync.Once
}

// Unlock is idempotent.
func (k *lock) Unlock(context.Context) error {
	k.once.Do(func() {
		k.owner.mu.Lock()
		delete(k.owner.held, k.name)
		k.owner.mu.Unlock()
	})
	return nil
}
