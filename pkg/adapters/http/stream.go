package http

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/audiencia/internal/logging"
)

// Message is one SSE frame.
type Message struct {
	Type      string
	SessionID int64
	Data      string
}

// Filter selects the messages a subscriber receives. Zero values match everything.
type Filter struct {
	SessionID int64
	Types     []string
}

func (f Filter) match(msg Message) bool {
	if f.SessionID != 0 && msg.SessionID != f.SessionID {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, msg.Type)
}

// StreamManager handles active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan Message]Filter
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager. A nil logger discards output.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[chan Message]Filter),
		logger:      logger,
	}
}

// Subscribe registers a buffered channel. The returned func unregisters and closes it.
func (sm *StreamManager) Subscribe(filter Filter) (<-chan Message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Message, 10)
	sm.subscribers[ch] = filter

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			delete(sm.subscribers, ch)
			close(ch)
		})
	}
}

// Broadcast delivers msg to every matching subscriber without blocking.
func (sm *StreamManager) Broadcast(msg Message) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch, filter := range sm.subscribers {
		if !filter.match(msg) {
			continue
		}
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: client buffer full, dropping message", "session_id", msg.SessionID, "type", msg.Type)
		}
	}
}

// Count returns the number of subscribers.
func (sm *StreamManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}
