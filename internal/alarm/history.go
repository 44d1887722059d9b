package alarm

import "sync"

// DefaultHistoryCapacity bounds the routing history ring.
const DefaultHistoryCapacity = 100

// historyRing keeps the most recent routing results, oldest evicted
// first once the ring is full.
type historyRing struct {
	mu      sync.RWMutex
	results []RoutingResult
	cap     int
	head    int
	full    bool
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &historyRing{
		results: make([]RoutingResult, capacity),
		cap:     capacity,
	}
}

func (h *historyRing) Add(r RoutingResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results[h.head] = r
	h.head = (h.head + 1) % h.cap
	if h.head == 0 {
		h.full = true
	}
}

// Snapshot returns the retained results newest first.
func (h *historyRing) Snapshot() []RoutingResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.head
	if h.full {
		count = h.cap
	}
	out := make([]RoutingResult, 0, count)
	for i := 0; i < count; i++ {
		idx := (h.head - 1 - i + h.cap) % h.cap
		out = append(out, h.results[idx])
	}
	return out
}

func (h *historyRing) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return h.cap
	}
	return h.head
}
