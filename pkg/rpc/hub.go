package rpc

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ja7ad/policyd/pkg/engine"
)

// subscriberBuffer is how many changes a slow subscriber may lag behind
// before changes are dropped for it.
const subscriberBuffer = 64

// Hub fans engine change notifications out to subscribers. Notify never
// blocks: a subscriber whose buffer is full misses the change.
type Hub struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]chan engine.Change
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]chan engine.Change)}
}

func (h *Hub) Notify(c engine.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. Call Unsubscribe with the returned
// id when done.
func (h *Hub) Subscribe() (uuid.UUID, <-chan engine.Change) {
	id := uuid.New()
	ch := make(chan engine.Change, subscriberBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts changes lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
