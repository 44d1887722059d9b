package videobuf

import (
	"sync"
)

// Manager owns one frame ring per video source.
type Manager struct {
	mu       sync.RWMutex
	buffers  map[string]*Buffer
	capacity int
}

// NewManager creates a manager whose per-source rings hold capacity
// frames each.
func NewManager(capacity int) *Manager {
	if capacity < 1 {
		capacity = 1
	}
	return &Manager{
		buffers:  make(map[string]*Buffer),
		capacity: capacity,
	}
}

// Buffer returns the ring for sourceID, creating it on first use.
func (m *Manager) Buffer(sourceID string) *Buffer {
	m.mu.RLock()
	b, ok := m.buffers[sourceID]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buffers[sourceID]; ok {
		return b
	}
	b = NewBuffer(m.capacity)
	m.buffers[sourceID] = b
	return b
}

// Append adds a frame to the ring for sourceID.
func (m *Manager) Append(sourceID string, frame FrameRecord) error {
	return m.Buffer(sourceID).Append(frame)
}

// Snapshot returns the buffered frames for sourceID, oldest-first.
func (m *Manager) Snapshot(sourceID string) []FrameRecord {
	m.mu.RLock()
	b, ok := m.buffers[sourceID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Snapshot()
}

// Remove closes and forgets the ring for sourceID.
func (m *Manager) Remove(sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buffers[sourceID]; ok {
		b.Close()
		delete(m.buffers, sourceID)
	}
}

// Sources returns the ids of all sources with a ring.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.buffers))
	for id := range m.buffers {
		out = append(out, id)
	}
	return out
}

// Close closes every ring.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, b := range m.buffers {
		b.Close()
		delete(m.buffers, id)
	}
}
