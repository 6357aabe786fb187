package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/audiencia/pkg/adapters/memory"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	count := 1000

	for i := 1; i <= count; i++ {
		id := int64(i)
		_ = mgr.Save(ctx, id, &domain.Snapshot{SessionID: id})
		_ = mgr.Delete(ctx, id)
	}

	if lockCount := len(mgr.locks); lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", lockCount)
	}
}

func TestManager_SerializesPerSession(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.WithLock(ctx, 7, func(context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestManager_DistributedLockContention(t *testing.T) {
	locker := memory.NewLocker()
	store := memory.NewStore()
	a := NewManager(store, WithLocker(locker))
	b := NewManager(store, WithLocker(locker))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = a.WithLock(context.Background(), 7, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := b.Save(ctx, 7, &domain.Snapshot{SessionID: 7})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "other process must wait for the lock")

	close(release)
	require.Eventually(t, func() bool {
		return b.Save(context.Background(), 7, &domain.Snapshot{SessionID: 7}) == nil
	}, time.Second, 10*time.Millisecond)
}
