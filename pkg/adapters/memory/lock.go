package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/audiencia/pkg/ports"
)

type lease struct {
	token   uint64
	expires time.Time
}

// Locker implements ports.DistributedLocker inside a single process.
// It is what clients sharing one process (tests, the bridge) use instead of redis.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewLocker creates an empty in-process locker.
func NewLocker() *Locker {
	return &Locker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// TryLock acquires key if it is free or its lease expired.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	l.next++
	token := l.next
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}, true, nil
}
