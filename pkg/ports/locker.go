package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates clients of the same session, e.g. so only one of them
// answers for a role nobody plays.
type DistributedLocker interface {
	// TryLock attempts to acquire the lock for key without blocking.
	// It returns ok=false when someone else holds it.
	// The returned UnlockFunc releases the lock early; otherwise it expires after ttl.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock UnlockFunc, ok bool, err error)
}
