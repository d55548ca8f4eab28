// Package lock provides coordination helpers built on top of a blocking
// distributed lock, such as leader election across service instances.
package lock

import (
	"context"
)

// Locker is a blocking, session-scoped distributed lock.
// *advisory.Session satisfies it.
type Locker interface {
	// Acquire blocks until the lock is held, ctx is done, or acquisition fails.
	Acquire(ctx context.Context) error

	// Release releases the lock if it's held by this instance.
	// It's safe to call Release even if the lock is not held.
	Release(ctx context.Context) error

	// IsLocked returns true if this instance currently holds the lock.
	IsLocked() bool

	// Lost returns a channel that is closed when the current hold ends,
	// including when the lock is lost without Release being called.
	Lost() <-chan struct{}
}
