package web

import (
	"sync"
	"time"

	"github.com/cjeanneret/PolarGo/internal/logic/alignment"
)

// subscriberBuffer is how many events a slow client may lag before drops start.
const subscriberBuffer = 64

// StatusBroadcaster fans alignment events out to SSE and websocket clients.
// It implements alignment.EventSink; Emit never blocks.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan alignment.Event]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan alignment.Event]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast events and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan alignment.Event, func()) {
	ch := make(chan alignment.Event, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Emit delivers ev to every subscriber. Slow clients miss events.
func (b *StatusBroadcaster) Emit(ev alignment.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a plain message that did not come from the alignment loop.
func (b *StatusBroadcaster) Broadcast(level alignment.Level, msg string) {
	b.Emit(alignment.Event{Time: time.Now(), Level: level, Message: msg})
}

// Subscribers returns the number of connected clients.
func (b *StatusBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
