// Package dedup suppresses re-delivered events.
//
// Each subscriber owns a key. The Guard remembers, per key, the identity of the last event
// that was processed successfully; an event carrying the same identity again is absorbed.
// This is the only place in the client where duplicate suppression happens.
package dedup

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aretw0/audiencia/internal/logging"
	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/event"
)

type entry struct {
	identity domain.Identity
	token    uint64
}

// Guard tracks the last processed identity per subscriber key.
// Safe for concurrent use.
type Guard struct {
	mu         sync.Mutex
	last       map[string]entry
	next       uint64
	suppressed atomic.Int64
	logger     *slog.Logger
	onDup      func(key string)
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithDuplicateHook is called with the key of every absorbed duplicate.
func WithDuplicateHook(fn func(key string)) Option {
	return func(g *Guard) {
		g.onDup = fn
	}
}

// New creates an empty guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		last:   make(map[string]entry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Once runs fn unless identity equals the last identity recorded under key.
// The identity is recorded as soon as fn starts, so a concurrent duplicate is absorbed too.
// If fn fails the previous identity is restored and a later delivery will run again.
func (g *Guard) Once(key string, identity domain.Identity, fn func() error) error {
	g.mu.Lock()
	prev, had := g.last[key]
	if had && prev.identity == identity {
		g.mu.Unlock()
		g.suppressed.Add(1)
		g.logger.Debug("Duplicate event absorbed", "key", key, "identity", identity.String())
		if g.onDup != nil {
			g.onDup(key)
		}
		return nil
	}
	g.next++
	token := g.next
	g.last[key] = entry{identity: identity, token: token}
	g.mu.Unlock()

	if err := fn(); err != nil {
		g.mu.Lock()
		if cur, ok := g.last[key]; ok && cur.token == token {
			if had {
				g.last[key] = prev
			} else {
				delete(g.last, key)
			}
		}
		g.mu.Unlock()
		return err
	}
	return nil
}

// Wrap adapts handler into an event.Handler guarded under key by the event identity.
// Handler errors are logged; the event stays unrecorded.
func (g *Guard) Wrap(key string, handler func(domain.Event) error) event.Handler {
	return func(ev domain.Event) {
		err := g.Once(key, ev.Identity, func() error { return handler(ev) })
		if err != nil {
			g.logger.Warn("Event handler failed", "key", key, "event", ev.Type, "identity", ev.Identity.String(), "err", err)
		}
	}
}

// Seen reports whether identity is the one recorded under key.
func (g *Guard) Seen(key string, identity domain.Identity) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.last[key]
	return ok && cur.identity == identity
}

// Forget drops the identity recorded under key, so the next delivery runs.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, key)
}

// Reset forgets every key.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[string]entry)
}

// Suppressed returns how many duplicates were absorbed.
func (g *Guard) Suppressed() int64 {
	return g.suppressed.Load()
}
