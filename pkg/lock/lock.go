// Package lock provides short-lived exclusive leases keyed by name.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotAcquired = errors.New("lock held by another owner")

type Locker interface {
	// Acquire returns ErrNotAcquired when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type Lease interface {
	Release(ctx context.Context) error
}
