// Package videobuf keeps a short rolling window of decoded frames per
// video source so event recordings can include footage from before the
// trigger.
package videobuf

import (
	"image"
	"sync"
	"time"
)

// Overlay is an annotation to draw on a frame when it is rendered into
// a recording.
type Overlay struct {
	Bbox       image.Rectangle
	Label      string
	Confidence float32
}

// FrameRecord is one buffered frame. Frames are treated as immutable
// once appended; renderers draw on clones, never on the stored image.
type FrameRecord struct {
	Image     image.Image
	Timestamp time.Time
	Overlays  []Overlay
}

// BufferError represents a frame buffer error
type BufferError string

func (e BufferError) Error() string { return string(e) }

// ErrBufferClosed is returned when appending to a closed buffer
const ErrBufferClosed = BufferError("frame buffer is closed")

// Buffer is a fixed-capacity ring of frames for one source. Append
// never blocks; once full, the oldest frame is overwritten.
type Buffer struct {
	mu         sync.RWMutex
	frames     []FrameRecord
	head       int
	tail       int
	count      int
	capacity   int
	overwrites uint64
	closed     bool
}

// NewBuffer creates a frame ring with the given capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		frames:   make([]FrameRecord, capacity),
		capacity: capacity,
	}
}

// Append adds a frame to the ring, overwriting the oldest when full.
func (b *Buffer) Append(frame FrameRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	b.frames[b.head] = frame
	b.head = (b.head + 1) % b.capacity

	if b.count < b.capacity {
		b.count++
	} else {
		b.tail = (b.tail + 1) % b.capacity
		b.overwrites++
	}

	return nil
}

// Snapshot returns the buffered frames oldest-first. The returned slice
// is independent of the ring, so later appends never mutate it.
func (b *Buffer) Snapshot() []FrameRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	frames := make([]FrameRecord, b.count)
	idx := b.tail
	for i := 0; i < b.count; i++ {
		frames[i] = b.frames[idx]
		idx = (idx + 1) % b.capacity
	}
	return frames
}

// SnapshotSince returns buffered frames at or after the given time,
// oldest-first.
func (b *Buffer) SnapshotSince(since time.Time) []FrameRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	var frames []FrameRecord
	idx := b.tail
	for i := 0; i < b.count; i++ {
		if !b.frames[idx].Timestamp.Before(since) {
			frames = append(frames, b.frames[idx])
		}
		idx = (idx + 1) % b.capacity
	}
	return frames
}

// Duration returns the span between the oldest and newest buffered
// frames.
func (b *Buffer) Duration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count < 2 {
		return 0
	}
	oldest := b.frames[b.tail]
	newest := b.frames[(b.head-1+b.capacity)%b.capacity]
	return newest.Timestamp.Sub(oldest.Timestamp)
}

// Count returns the number of buffered frames.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Overwrites returns how many frames have been displaced since the
// buffer was created.
func (b *Buffer) Overwrites() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overwrites
}

// Clear drops all buffered frames but keeps the buffer usable.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = make([]FrameRecord, b.capacity)
	b.head = 0
	b.tail = 0
	b.count = 0
}

// Close marks the buffer closed and releases the frame storage.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.frames = nil
	return nil
}
