package recording

import (
	"context"
	"image"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aibox-vision/aibox/internal/events"
	"github.com/aibox-vision/aibox/internal/videobuf"
)

// memStore captures persisted recordings without a database.
type memStore struct {
	mu         sync.Mutex
	recordings []*Recording
}

func (s *memStore) Create(ctx context.Context, rec *Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings = append(s.recordings, rec)
	return nil
}

func (s *memStore) all() []*Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Recording, len(s.recordings))
	copy(out, s.recordings)
	return out
}

func testFrame(ts time.Time) videobuf.FrameRecord {
	return videobuf.FrameRecord{
		Image:     image.NewRGBA(image.Rect(0, 0, 64, 48)),
		Timestamp: ts,
		Overlays:  []videobuf.Overlay{{Bbox: image.Rect(10, 10, 30, 40)}},
	}
}

func newTestRecorder(t *testing.T) (*Recorder, *videobuf.Manager, *memStore, *time.Time) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.PreEventSeconds = 30
	cfg.PostEventSeconds = 30

	buffers := videobuf.NewManager(300)
	store := &memStore{}
	r := NewRecorder(cfg, buffers, store)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	r.now = func() time.Time { return *clock }
	return r, buffers, store, clock
}

func behaviorEvent(cameraID string) *events.BehaviorEvent {
	return &events.BehaviorEvent{
		CameraID:   cameraID,
		EventType:  events.EventIntrusion,
		Confidence: 0.9,
		Bbox:       image.Rect(10, 10, 30, 40),
		Timestamp:  time.Now(),
	}
}

func TestTrigger_DrainsPreEventWindow(t *testing.T) {
	r, buffers, _, clock := newTestRecorder(t)

	// 30 s of frames at 10 fps ending at the trigger instant, plus a few
	// frames old enough to fall outside the pre-event window.
	start := *clock
	for i := 0; i < 5; i++ {
		ts := start.Add(time.Duration(-31000+i*100) * time.Millisecond)
		_ = buffers.Append("cam1", testFrame(ts))
	}
	for i := 0; i < 300; i++ {
		ts := start.Add(time.Duration(-30000+i*100) * time.Millisecond)
		_ = buffers.Append("cam1", testFrame(ts))
	}

	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	status, ok := r.Status("cam1")
	if !ok {
		t.Fatal("Expected active job after trigger")
	}
	// Ring capacity 300 means the oldest of the 305 appended frames were
	// displaced; everything still buffered is inside the window.
	if status.FrameCount < 299 {
		t.Errorf("Expected at least 299 pre-event frames, got %d", status.FrameCount)
	}
	if status.FrameCount > 300 {
		t.Errorf("Expected at most 300 pre-event frames, got %d", status.FrameCount)
	}
	if status.State != JobStateStreaming {
		t.Errorf("Expected streaming state, got %s", status.State)
	}
}

func TestOnFrame_StreamsUntilDeadline(t *testing.T) {
	r, _, store, clock := newTestRecorder(t)

	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	// Frames inside the 30 s post-event window are written.
	for i := 1; i <= 10; i++ {
		*clock = clock.Add(time.Second)
		r.OnFrame(context.Background(), "cam1", testFrame(*clock))
	}

	status, ok := r.Status("cam1")
	if !ok {
		t.Fatal("Expected job still active inside post-event window")
	}
	if status.FrameCount != 10 {
		t.Errorf("Expected 10 streamed frames, got %d", status.FrameCount)
	}

	// Past the deadline, the next frame finalizes instead of writing.
	*clock = clock.Add(21 * time.Second)
	r.OnFrame(context.Background(), "cam1", testFrame(*clock))

	if _, ok := r.Status("cam1"); ok {
		t.Error("Expected job finalized after deadline")
	}

	recs := store.all()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 persisted recording, got %d", len(recs))
	}
	if recs[0].FrameCount != 10 {
		t.Errorf("Expected 10 frames persisted, got %d", recs[0].FrameCount)
	}
	if recs[0].EventType != string(events.EventIntrusion) {
		t.Errorf("Expected intrusion event type, got %s", recs[0].EventType)
	}
	if _, err := os.Stat(recs[0].OutputPath); err != nil {
		t.Errorf("Expected output file on disk: %v", err)
	}
}

func TestTrigger_ExtendsDeadline(t *testing.T) {
	r, _, _, clock := newTestRecorder(t)

	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	first, _ := r.Status("cam1")

	// Re-trigger at t=20: deadline moves to t=50.
	*clock = clock.Add(20 * time.Second)
	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Re-trigger failed: %v", err)
	}

	second, ok := r.Status("cam1")
	if !ok {
		t.Fatal("Expected job still active")
	}
	want := first.StartTime.Add(50 * time.Second)
	if !second.Deadline.Equal(want) {
		t.Errorf("Expected deadline %v, got %v", want, second.Deadline)
	}

	// Frames keep flowing until the extended deadline.
	*clock = clock.Add(25 * time.Second) // t=45
	r.OnFrame(context.Background(), "cam1", testFrame(*clock))
	if _, ok := r.Status("cam1"); !ok {
		t.Error("Expected job alive at t=45 after extension")
	}

	*clock = clock.Add(6 * time.Second) // t=51
	r.OnFrame(context.Background(), "cam1", testFrame(*clock))
	if _, ok := r.Status("cam1"); ok {
		t.Error("Expected job finalized at t=51")
	}
}

func TestTrigger_DeadlineNeverShrinks(t *testing.T) {
	r, _, _, clock := newTestRecorder(t)

	if err := r.StartManual(context.Background(), "cam1", 2*time.Minute); err != nil {
		t.Fatalf("StartManual failed: %v", err)
	}
	long, _ := r.Status("cam1")

	// An event trigger with a shorter window must not pull the deadline in.
	*clock = clock.Add(time.Second)
	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	status, _ := r.Status("cam1")
	if status.Deadline.Before(long.Deadline) {
		t.Errorf("Deadline shrank from %v to %v", long.Deadline, status.Deadline)
	}
}

func TestManualRecording(t *testing.T) {
	r, _, store, clock := newTestRecorder(t)

	if err := r.StartManual(context.Background(), "cam1", time.Minute); err != nil {
		t.Fatalf("StartManual failed: %v", err)
	}

	status, ok := r.Status("cam1")
	if !ok {
		t.Fatal("Expected active manual job")
	}
	if status.EventType != EventTypeManual {
		t.Errorf("Expected manual event type, got %s", status.EventType)
	}

	*clock = clock.Add(5 * time.Second)
	r.OnFrame(context.Background(), "cam1", testFrame(*clock))

	if err := r.StopManual(context.Background(), "cam1"); err != nil {
		t.Fatalf("StopManual failed: %v", err)
	}
	if _, ok := r.Status("cam1"); ok {
		t.Error("Expected job gone after StopManual")
	}

	recs := store.all()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 persisted recording, got %d", len(recs))
	}
	if recs[0].EventType != EventTypeManual {
		t.Errorf("Expected manual event type persisted, got %s", recs[0].EventType)
	}
}

func TestStartManual_InvalidDuration(t *testing.T) {
	r, _, _, _ := newTestRecorder(t)

	if err := r.StartManual(context.Background(), "cam1", 0); err == nil {
		t.Error("Expected error for zero duration")
	}
}

func TestStopManual_NoJob(t *testing.T) {
	r, _, _, _ := newTestRecorder(t)

	if err := r.StopManual(context.Background(), "cam1"); err == nil {
		t.Error("Expected error stopping without an active job")
	}
}

func TestOnFrame_NoActiveJob(t *testing.T) {
	r, _, store, _ := newTestRecorder(t)

	// Must be a no-op, not a panic or a stray recording.
	r.OnFrame(context.Background(), "cam1", testFrame(time.Now()))

	if len(store.all()) != 0 {
		t.Error("Expected no recordings without a trigger")
	}
}

func TestFinalizeExpired(t *testing.T) {
	r, _, store, clock := newTestRecorder(t)

	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	// Source stops producing frames; the sweep must still finalize.
	*clock = clock.Add(31 * time.Second)
	r.finalizeExpired(context.Background())

	if _, ok := r.Status("cam1"); ok {
		t.Error("Expected expired job finalized by sweep")
	}
	if len(store.all()) != 1 {
		t.Errorf("Expected 1 persisted recording, got %d", len(store.all()))
	}
}

func TestActiveJobs(t *testing.T) {
	r, _, _, _ := newTestRecorder(t)

	if err := r.Trigger(context.Background(), behaviorEvent("cam1")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	if err := r.Trigger(context.Background(), behaviorEvent("cam2")); err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	jobs := r.ActiveJobs()
	if len(jobs) != 2 {
		t.Errorf("Expected 2 active jobs, got %d", len(jobs))
	}
}
