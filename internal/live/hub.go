package live

import (
	"sync"
	"time"

	"github.com/suPer8Hu/mindflow/internal/observability"
)

// Event is one server-sent notification for a user.
type Event struct {
	Kind string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

const defaultBuffer = 16

// Hub is the registry of live connections, keyed by user. Subscribe and
// cancel are the only mutations; Publish never blocks and drops events for
// subscribers whose buffer is full.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]map[*subscriber]struct{}
	buffer int
	closed bool
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[uint64]map[*subscriber]struct{}), buffer: buffer}
}

// Subscribe registers a connection for userID. The channel is closed after
// cancel is called or the hub shuts down.
func (h *Hub) Subscribe(userID uint64) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	observability.LiveSubscribers.Inc()

	return s.ch, func() { h.remove(userID, s) }
}

func (h *Hub) remove(userID uint64, s *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	s.close()
	h.mu.Unlock()
	observability.LiveSubscribers.Dec()
}

func (h *Hub) Publish(userID uint64, kind string, data any) {
	ev := Event{Kind: kind, Data: data, At: time.Now().UTC()}

	// sends happen under the read lock so remove cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- ev:
		default:
			observability.Logger().Debug("live event dropped", "user_id", userID, "kind", kind)
		}
	}
}

// Subscribers reports how many connections userID has open.
func (h *Hub) Subscribers(userID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Close disconnects every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for uid, set := range h.subs {
		for s := range set {
			s.close()
			observability.LiveSubscribers.Dec()
		}
		delete(h.subs, uid)
	}
}
