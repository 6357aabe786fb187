package dedup_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aretw0/audiencia/pkg/dedup"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_OnceAbsorbsRepeats(t *testing.T) {
	g := dedup.New()
	id := domain.Identity{SessionID: 7}
	runs := 0
	fn := func() error { runs++; return nil }

	require.NoError(t, g.Once("facade", id, fn))
	require.NoError(t, g.Once("facade", id, fn))
	assert.Equal(t, 1, runs)
	assert.Equal(t, int64(1), g.Suppressed())

	// Other keys are independent subscribers.
	require.NoError(t, g.Once("machine", id, fn))
	assert.Equal(t, 2, runs)

	// A new identity runs, and going back to the old one runs again.
	require.NoError(t, g.Once("facade", domain.Identity{SessionID: 8}, fn))
	require.NoError(t, g.Once("facade", id, fn))
	assert.Equal(t, 4, runs)
}

func TestGuard_FailureIsNotRecorded(t *testing.T) {
	g := dedup.New()
	id := domain.Identity{SessionID: 7, DialogueID: 4, NodeID: 12}
	boom := errors.New("boom")

	err := g.Once("k", id, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.Seen("k", id))

	runs := 0
	require.NoError(t, g.Once("k", id, func() error { runs++; return nil }))
	assert.Equal(t, 1, runs, "a failed delivery may be retried")
}

func TestGuard_FailureRestoresPrevious(t *testing.T) {
	g := dedup.New()
	a := domain.Identity{SessionID: 7, NodeID: 12}
	b := domain.Identity{SessionID: 7, NodeID: 13}

	require.NoError(t, g.Once("k", a, func() error { return nil }))
	_ = g.Once("k", b, func() error { return errors.New("fail") })

	assert.True(t, g.Seen("k", a))
}

func TestGuard_ForgetAndReset(t *testing.T) {
	g := dedup.New()
	id := domain.Identity{SessionID: 7}
	runs := 0
	fn := func() error { runs++; return nil }

	_ = g.Once("k", id, fn)
	g.Forget("k")
	_ = g.Once("k", id, fn)
	assert.Equal(t, 2, runs)

	g.Reset()
	_ = g.Once("k", id, fn)
	assert.Equal(t, 3, runs)
}

func TestGuard_Wrap(t *testing.T) {
	var dups []string
	g := dedup.New(dedup.WithDuplicateHook(func(key string) { dups = append(dups, key) }))
	bus := event.NewBus()

	joined := 0
	bus.Subscribe(domain.EventSessionJoined, g.Wrap("facade", func(domain.Event) error {
		joined++
		return nil
	}))

	ev := domain.NewEvent(domain.EventSessionJoined, domain.Identity{SessionID: 7}, nil)
	bus.Publish(ev)
	bus.Publish(ev)

	assert.Equal(t, 1, joined)
	assert.Equal(t, []string{"facade"}, dups)
}

func TestGuard_ConcurrentDuplicates(t *testing.T) {
	g := dedup.New()
	id := domain.Identity{SessionID: 7, NodeID: 12}
	var runs atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Once("k", id, func() error {
				runs.Add(1)
				<-release
				return nil
			})
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
}
