package videobuf

import (
	"image"
	"testing"
	"time"
)

func frameAt(ts time.Time, id int) FrameRecord {
	return FrameRecord{
		Image:     image.NewRGBA(image.Rect(0, 0, 4, 4)),
		Timestamp: ts,
		Overlays:  []Overlay{{Bbox: image.Rect(id, id, id+1, id+1)}},
	}
}

func TestNewBuffer(t *testing.T) {
	buf := NewBuffer(10)
	if buf == nil {
		t.Fatal("NewBuffer returned nil")
	}
	if buf.capacity != 10 {
		t.Errorf("Expected capacity 10, got %d", buf.capacity)
	}
}

func TestNewBuffer_MinimumCapacity(t *testing.T) {
	buf := NewBuffer(0)
	if buf.capacity != 1 {
		t.Errorf("Expected capacity clamped to 1, got %d", buf.capacity)
	}
}

func TestBuffer_Append(t *testing.T) {
	buf := NewBuffer(5)

	if err := buf.Append(frameAt(time.Now(), 0)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if buf.Count() != 1 {
		t.Errorf("Expected count 1, got %d", buf.Count())
	}
}

func TestBuffer_Append_Overflow(t *testing.T) {
	buf := NewBuffer(3)

	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := buf.Append(frameAt(now.Add(time.Duration(i)*time.Second), i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if buf.Count() != 3 {
		t.Errorf("Expected count 3, got %d", buf.Count())
	}
	if buf.Overwrites() != 2 {
		t.Errorf("Expected 2 overwrites, got %d", buf.Overwrites())
	}

	// Oldest surviving frame should be the third appended.
	frames := buf.Snapshot()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		wantID := i + 2
		if f.Overlays[0].Bbox.Min.X != wantID {
			t.Errorf("Frame %d: expected id %d, got %d", i, wantID, f.Overlays[0].Bbox.Min.X)
		}
	}
}

func TestBuffer_Snapshot_Empty(t *testing.T) {
	buf := NewBuffer(5)
	if frames := buf.Snapshot(); frames != nil {
		t.Errorf("Expected nil for empty buffer, got %v", frames)
	}
}

func TestBuffer_Snapshot_SurvivesOverwrites(t *testing.T) {
	buf := NewBuffer(3)

	now := time.Now()
	for i := 0; i < 3; i++ {
		_ = buf.Append(frameAt(now.Add(time.Duration(i)*time.Second), i))
	}

	snap := buf.Snapshot()

	// Push the whole ring past the snapshotted frames.
	for i := 3; i < 9; i++ {
		_ = buf.Append(frameAt(now.Add(time.Duration(i)*time.Second), i))
	}

	for i, f := range snap {
		if f.Overlays[0].Bbox.Min.X != i {
			t.Errorf("Snapshot frame %d mutated by later appends: got id %d", i, f.Overlays[0].Bbox.Min.X)
		}
	}
}

func TestBuffer_SnapshotSince(t *testing.T) {
	buf := NewBuffer(10)

	now := time.Now()
	for i := 0; i < 5; i++ {
		_ = buf.Append(frameAt(now.Add(time.Duration(i)*time.Second), i))
	}

	frames := buf.SnapshotSince(now.Add(2 * time.Second))
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames at or after cutoff, got %d", len(frames))
	}
	if frames[0].Overlays[0].Bbox.Min.X != 2 {
		t.Errorf("Expected first frame id 2, got %d", frames[0].Overlays[0].Bbox.Min.X)
	}
}

func TestBuffer_Duration(t *testing.T) {
	buf := NewBuffer(10)

	if buf.Duration() != 0 {
		t.Errorf("Expected 0 duration for empty buffer, got %v", buf.Duration())
	}

	now := time.Now()
	_ = buf.Append(frameAt(now, 0))
	if buf.Duration() != 0 {
		t.Errorf("Expected 0 duration for single frame, got %v", buf.Duration())
	}

	_ = buf.Append(frameAt(now.Add(5*time.Second), 1))
	if buf.Duration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", buf.Duration())
	}
}

func TestBuffer_Clear(t *testing.T) {
	buf := NewBuffer(5)

	_ = buf.Append(frameAt(time.Now(), 0))
	buf.Clear()

	if buf.Count() != 0 {
		t.Errorf("Expected count 0 after clear, got %d", buf.Count())
	}
	if err := buf.Append(frameAt(time.Now(), 1)); err != nil {
		t.Errorf("Expected buffer usable after clear, got %v", err)
	}
}

func TestBuffer_Close(t *testing.T) {
	buf := NewBuffer(5)

	if err := buf.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := buf.Append(frameAt(time.Now(), 0)); err != ErrBufferClosed {
		t.Errorf("Expected ErrBufferClosed, got %v", err)
	}
}

func TestBuffer_ConcurrentAccess(t *testing.T) {
	buf := NewBuffer(100)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				_ = buf.Append(frameAt(time.Now(), id))
				buf.Snapshot()
			}
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if buf.Count() == 0 {
		t.Error("Expected some frames after concurrent appends")
	}
}

func TestManager_PerSourceIsolation(t *testing.T) {
	m := NewManager(5)

	now := time.Now()
	_ = m.Append("cam-a", frameAt(now, 0))
	_ = m.Append("cam-a", frameAt(now.Add(time.Second), 1))
	_ = m.Append("cam-b", frameAt(now, 2))

	if n := len(m.Snapshot("cam-a")); n != 2 {
		t.Errorf("Expected 2 frames for cam-a, got %d", n)
	}
	if n := len(m.Snapshot("cam-b")); n != 1 {
		t.Errorf("Expected 1 frame for cam-b, got %d", n)
	}
	if frames := m.Snapshot("cam-c"); frames != nil {
		t.Errorf("Expected nil for unknown source, got %v", frames)
	}
}

func TestManager_Remove(t *testing.T) {
	m := NewManager(5)

	buf := m.Buffer("cam-a")
	m.Remove("cam-a")

	if err := buf.Append(frameAt(time.Now(), 0)); err != ErrBufferClosed {
		t.Errorf("Expected removed buffer to be closed, got %v", err)
	}
	if len(m.Sources()) != 0 {
		t.Errorf("Expected no sources after removal, got %v", m.Sources())
	}
}
