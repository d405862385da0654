package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// Locker acquires a scoped exclusive lock on a file. Backends are
// interchangeable so tests and platforms without advisory locking can
// substitute their own.
type Locker interface {
	// Acquire blocks until the lock is held or ctx expires. The returned
	// release function must be called exactly once.
	Acquire(ctx context.Context, path string) (release func() error, err error)
}

// flockLocker implements Locker with OS-level advisory locks, polling at a
// fixed interval until the context deadline.
type flockLocker struct {
	retryDelay time.Duration
}

// NewFlockLocker returns the default advisory-lock backend.
func NewFlockLocker() Locker {
	return &flockLocker{retryDelay: 100 * time.Millisecond}
}

func (l *flockLocker) Acquire(ctx context.Context, path string) (func() error, error) {
	fl := flock.New(path)

	locked, err := fl.TryLockContext(ctx, l.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: %w", path, context.DeadlineExceeded)
	}

	return fl.Unlock, nil
}
