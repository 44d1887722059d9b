package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aibox-vision/aibox/internal/events"
	"github.com/aibox-vision/aibox/internal/videobuf"
)

// Store persists finished recording metadata.
type Store interface {
	Create(ctx context.Context, rec *Recording) error
}

// Recorder turns behavior events into recorded clips. One job runs per
// source at a time; a trigger while recording extends the post-event
// deadline instead of starting a second clip.
type Recorder struct {
	cfg     Config
	buffers *videobuf.Manager
	store   Store
	logger  *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job

	now func() time.Time // overridable for tests
}

type job struct {
	mu         sync.Mutex
	sourceID   string
	eventType  string
	confidence float64
	metadata   string
	writer     *clipWriter
	state      JobState
	startTime  time.Time
	deadline   time.Time
}

// NewRecorder creates an event recorder backed by the given frame rings
// and metadata store.
func NewRecorder(cfg Config, buffers *videobuf.Manager, store Store) *Recorder {
	if cfg.PreEventSeconds <= 0 {
		cfg.PreEventSeconds = 30
	}
	if cfg.PostEventSeconds <= 0 {
		cfg.PostEventSeconds = 30
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "recordings"
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}

	return &Recorder{
		cfg:     cfg,
		buffers: buffers,
		store:   store,
		logger:  slog.Default().With("component", "recorder"),
		jobs:    make(map[string]*job),
		now:     time.Now,
	}
}

// Run finalizes expired jobs until ctx is cancelled. Without it, a job
// on a source that stops producing frames would never close.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finalizeAll(context.Background())
			return
		case <-ticker.C:
			r.finalizeExpired(ctx)
		}
	}
}

// Trigger starts a recording for the event's camera, or extends the
// deadline of the job already running there.
func (r *Recorder) Trigger(ctx context.Context, event *events.BehaviorEvent) error {
	post := time.Duration(r.cfg.PostEventSeconds) * time.Second
	return r.trigger(ctx, event.CameraID, string(event.EventType), event.Confidence, string(event.Metadata), post)
}

// StartManual begins an operator-initiated recording running for d.
func (r *Recorder) StartManual(ctx context.Context, sourceID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid manual recording duration %v", d)
	}
	return r.trigger(ctx, sourceID, EventTypeManual, 0, "", d)
}

// StopManual moves the deadline of the source's job to now and
// finalizes it.
func (r *Recorder) StopManual(ctx context.Context, sourceID string) error {
	r.mu.Lock()
	j, ok := r.jobs[sourceID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active recording for source %s", sourceID)
	}

	j.mu.Lock()
	j.deadline = r.now()
	j.mu.Unlock()

	r.finalize(ctx, sourceID)
	return nil
}

// OnFrame feeds a live frame to the source's active job, if any. Once
// the deadline passes, the frame is not written and the job finalizes.
func (r *Recorder) OnFrame(ctx context.Context, sourceID string, frame videobuf.FrameRecord) {
	r.mu.Lock()
	j, ok := r.jobs[sourceID]
	r.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	expired := !r.now().Before(j.deadline)
	if !expired {
		if err := j.writer.WriteFrame(renderFrame(frame, r.cfg.TimestampOverlay, r.cfg.BboxOverlay)); err != nil {
			r.logger.Error("Failed to write frame", "source", sourceID, "error", err)
		}
	}
	j.mu.Unlock()

	if expired {
		r.finalize(ctx, sourceID)
	}
}

// Status returns the status of the source's active job.
func (r *Recorder) Status(sourceID string) (*JobStatus, bool) {
	r.mu.Lock()
	j, ok := r.jobs[sourceID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	status := j.status()
	return &status, true
}

// ActiveJobs returns the status of every active job.
func (r *Recorder) ActiveJobs() []JobStatus {
	r.mu.Lock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	return out
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobStatus{
		SourceID:   j.sourceID,
		EventType:  j.eventType,
		State:      j.state,
		OutputPath: j.writer.FirstPath(),
		FrameCount: j.writer.FrameCount(),
		StartTime:  j.startTime,
		Deadline:   j.deadline,
	}
}

func (r *Recorder) trigger(ctx context.Context, sourceID, eventType string, confidence float64, metadata string, post time.Duration) error {
	now := r.now()

	r.mu.Lock()
	if j, ok := r.jobs[sourceID]; ok {
		r.mu.Unlock()
		j.mu.Lock()
		if d := now.Add(post); d.After(j.deadline) {
			j.deadline = d
		}
		deadline := j.deadline
		j.mu.Unlock()
		r.logger.Debug("Extended recording deadline", "source", sourceID, "deadline", deadline)
		return nil
	}

	writer, err := newClipWriter(r.cfg.OutputDir, sourceID, eventType, now, r.cfg.MaxFileSizeMB)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	j := &job{
		sourceID:   sourceID,
		eventType:  eventType,
		confidence: confidence,
		metadata:   metadata,
		writer:     writer,
		state:      JobStateDraining,
		startTime:  now,
		deadline:   now.Add(post),
	}
	j.mu.Lock()
	r.jobs[sourceID] = j
	r.mu.Unlock()

	// Drain the pre-event window from the ring, oldest first.
	cutoff := now.Add(-time.Duration(r.cfg.PreEventSeconds) * time.Second)
	for _, frame := range r.buffers.Snapshot(sourceID) {
		if frame.Timestamp.Before(cutoff) {
			continue
		}
		if err := j.writer.WriteFrame(renderFrame(frame, r.cfg.TimestampOverlay, r.cfg.BboxOverlay)); err != nil {
			r.logger.Error("Failed to write pre-event frame", "source", sourceID, "error", err)
		}
	}
	j.state = JobStateStreaming
	j.mu.Unlock()

	r.logger.Info("Recording started",
		"source", sourceID,
		"event_type", eventType,
		"path", writer.FirstPath(),
	)
	return nil
}

// finalize closes the source's job and persists its metadata row.
func (r *Recorder) finalize(ctx context.Context, sourceID string) {
	r.mu.Lock()
	j, ok := r.jobs[sourceID]
	if ok {
		delete(r.jobs, sourceID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobStateFinalized {
		return
	}
	j.state = JobStateFinalized

	if err := j.writer.Close(); err != nil {
		r.logger.Error("Failed to close recording", "source", sourceID, "error", err)
	}

	rec := &Recording{
		SourceID:   j.sourceID,
		OutputPath: j.writer.FirstPath(),
		EventType:  j.eventType,
		Confidence: j.confidence,
		Metadata:   j.metadata,
		FrameCount: j.writer.FrameCount(),
		SizeBytes:  j.writer.TotalBytes(),
		StartTime:  j.startTime,
		EndTime:    r.now(),
	}
	if err := r.store.Create(ctx, rec); err != nil {
		r.logger.Error("Failed to persist recording", "source", sourceID, "error", err)
		return
	}

	r.logger.Info("Recording finalized",
		"source", sourceID,
		"path", rec.OutputPath,
		"frames", rec.FrameCount,
		"bytes", rec.SizeBytes,
	)
}

func (r *Recorder) finalizeExpired(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	var expired []string
	for id, j := range r.jobs {
		j.mu.Lock()
		if !now.Before(j.deadline) {
			expired = append(expired, id)
		}
		j.mu.Unlock()
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.finalize(ctx, id)
	}
}

func (r *Recorder) finalizeAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.finalize(ctx, id)
	}
}
