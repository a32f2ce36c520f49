package realtime

import (
	"log/slog"
	"sync"

	"vfxhub/internal/domain"
)

// Subscription receives changes for one scope. C is closed when the
// subscription is cancelled or the hub drops it for falling behind.
type Subscription struct {
	C      <-chan domain.Change
	ch     chan domain.Change
	scope  string
	hub    *Hub
	mu     sync.Mutex
	closed bool
	lagged bool
}

// Lagged reports whether the hub disconnected the subscriber because its
// buffer was full.
func (s *Subscription) Lagged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lagged
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.hub.remove(s, false)
}

// Hub fans changes out to per-scope subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer, logger: logger}
}

func (h *Hub) Subscribe(scope string) *Subscription {
	ch := make(chan domain.Change, h.buffer)
	sub := &Subscription{C: ch, ch: ch, scope: scope, hub: h}
	h.mu.Lock()
	if h.subs[scope] == nil {
		h.subs[scope] = make(map[*Subscription]struct{})
	}
	h.subs[scope][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers changes to the subscribers of each change's scope. A
// subscriber with a full buffer is disconnected instead of skipped, so it
// observes the loss through its closed channel.
func (h *Hub) Publish(changes ...domain.Change) {
	for _, c := range changes {
		var slow []*Subscription
		h.mu.RLock()
		for sub := range h.subs[c.Scope] {
			select {
			case sub.ch <- c:
			default:
				slow = append(slow, sub)
			}
		}
		h.mu.RUnlock()
		for _, sub := range slow {
			h.logger.Warn("realtime subscriber lagging, disconnecting", "scope", c.Scope, "seq", c.Seq)
			h.remove(sub, true)
		}
	}
}

// Subscribers returns the number of live subscriptions on a scope.
func (h *Hub) Subscribers(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()
	for _, subs := range all {
		for sub := range subs {
			sub.close(false)
		}
	}
}

func (h *Hub) remove(sub *Subscription, lagged bool) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.scope]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.scope)
		}
	}
	h.mu.Unlock()
	sub.close(lagged)
}

func (s *Subscription) close(lagged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.lagged = lagged
	close(s.ch)
}
