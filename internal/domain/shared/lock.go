package shared

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when a lock is already held by another owner
var ErrLockHeld = errors.New("lock is held by another owner")

// Lock is a held lease on a named key
type Lock interface {
	// Key returns the locked key
	Key() string
	// Release gives the lease back. Releasing a lease that already expired is not an error.
	Release(ctx context.Context) error
}

// Locker hands out exclusive, expiring leases on named keys.
// Implementations must be safe for use across processes when they back a
// multi-instance deployment.
type Locker interface {
	// TryLock acquires the key without waiting. It returns ErrLockHeld when
	// another owner holds an unexpired lease.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
