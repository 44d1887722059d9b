package alarm

import (
	"container/heap"
	"sync"
)

// DefaultQueueCapacity bounds the pending alarm queue.
const DefaultQueueCapacity = 1000

type queueItem struct {
	payload *Payload
	seq     uint64
}

// itemHeap orders by priority descending, then arrival order ascending,
// so equal-priority alarms pop FIFO.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].payload.Priority != h[j].payload.Priority {
		return h[i].payload.Priority > h[j].payload.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// alarmQueue is a bounded priority queue. When full, enqueuing a higher
// priority alarm evicts the lowest-priority pending one; enqueuing an
// alarm at or below the current minimum rejects the new alarm instead.
// The queue is volatile, nothing is replayed after a restart.
type alarmQueue struct {
	mu      sync.Mutex
	items   itemHeap
	cap     int
	seq     uint64
	dropped uint64
	notify  chan struct{}
}

func newAlarmQueue(capacity int) *alarmQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &alarmQueue{
		items:  make(itemHeap, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a payload. accepted is false when the queue was full and
// the new alarm lost the eviction contest; evicted is true when a
// lower-priority payload was removed to make room.
func (q *alarmQueue) Enqueue(p *Payload) (accepted, evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		victim := q.lowestIndex()
		if q.items[victim].payload.Priority >= p.Priority {
			q.dropped++
			return false, false
		}
		heap.Remove(&q.items, victim)
		q.dropped++
		evicted = true
	}

	q.seq++
	heap.Push(&q.items, &queueItem{payload: p, seq: q.seq})

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true, evicted
}

// Dequeue removes the highest-priority payload, or returns nil when
// the queue is empty.
func (q *alarmQueue) Dequeue() *Payload {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*queueItem)
	return item.payload
}

// lowestIndex finds the pending item that loses every comparison, the
// lowest priority with the largest arrival order among ties.
func (q *alarmQueue) lowestIndex() int {
	worst := 0
	for i := 1; i < len(q.items); i++ {
		w, c := q.items[worst], q.items[i]
		if c.payload.Priority < w.payload.Priority ||
			(c.payload.Priority == w.payload.Priority && c.seq > w.seq) {
			worst = i
		}
	}
	return worst
}

func (q *alarmQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *alarmQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
