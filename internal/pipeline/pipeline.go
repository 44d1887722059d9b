// Package pipeline runs the per-camera analysis loop: detections are
// embedded, fused into cross-camera identities, buffered for recording,
// and evaluated against behavior rules.
package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/aibox-vision/aibox/internal/alarm"
	"github.com/aibox-vision/aibox/internal/core"
	"github.com/aibox-vision/aibox/internal/events"
	"github.com/aibox-vision/aibox/internal/reid"
	"github.com/aibox-vision/aibox/internal/tracker"
	"github.com/aibox-vision/aibox/internal/videobuf"
)

// Detector produces per-frame detections. Inference runs outside this
// process; implementations wrap whatever transport reaches it.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, ts time.Time) ([]tracker.Detection, error)
}

// LocalTracker assigns per-camera track ids to raw detections before
// cross-camera fusion. Implementations wrap the external tracker.
type LocalTracker interface {
	Update(cameraID string, ts time.Time, detections []tracker.Detection) []tracker.Detection
}

// Rule evaluates augmented detections and raises behavior events.
type Rule interface {
	Evaluate(cameraID string, ts time.Time, detections []tracker.Detection) []*events.BehaviorEvent
}

// EventStore persists behavior events.
type EventStore interface {
	Create(ctx context.Context, event *events.BehaviorEvent) error
}

// Publisher pushes events onto the bus.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// AlarmRaiser converts events into queued alarms.
type AlarmRaiser interface {
	Raise(ev *events.BehaviorEvent) (*alarm.Payload, bool)
}

// Recorder receives frames and event triggers.
type Recorder interface {
	Trigger(ctx context.Context, ev *events.BehaviorEvent) error
	OnFrame(ctx context.Context, sourceID string, frame videobuf.FrameRecord)
}

// Pipeline is the analysis loop of one camera.
type Pipeline struct {
	cameraID  string
	extractor *reid.Extractor
	store     *tracker.Store
	buffers   *videobuf.Manager
	rules     []Rule
	events    EventStore
	publisher Publisher
	alarms    AlarmRaiser
	recorder  Recorder
	logger    *slog.Logger
}

// Options wires a pipeline's collaborators. Rules, events, publisher,
// alarms, and recorder may each be nil; the corresponding stage is
// skipped.
type Options struct {
	CameraID  string
	Extractor *reid.Extractor
	Store     *tracker.Store
	Buffers   *videobuf.Manager
	Rules     []Rule
	Events    EventStore
	Publisher Publisher
	Alarms    AlarmRaiser
	Recorder  Recorder
}

// New creates a camera pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		cameraID:  opts.CameraID,
		extractor: opts.Extractor,
		store:     opts.Store,
		buffers:   opts.Buffers,
		rules:     opts.Rules,
		events:    opts.Events,
		publisher: opts.Publisher,
		alarms:    opts.Alarms,
		recorder:  opts.Recorder,
		logger:    slog.Default().With("component", "pipeline", "camera", opts.CameraID),
	}
}

// ProcessFrame runs one frame through the full loop and returns the
// detections augmented with global identities.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image, ts time.Time, detections []tracker.Detection) []tracker.Detection {
	augmented := p.resolveIdentities(frame, detections)

	record := videobuf.FrameRecord{
		Image:     frame,
		Timestamp: ts,
		Overlays:  overlaysFor(augmented),
	}
	p.buffers.Append(p.cameraID, record)
	if p.recorder != nil {
		p.recorder.OnFrame(ctx, p.cameraID, record)
	}

	for _, rule := range p.rules {
		for _, ev := range rule.Evaluate(p.cameraID, ts, augmented) {
			p.handleEvent(ctx, ev)
		}
	}

	return augmented
}

// resolveIdentities embeds each detection and admits it into the
// cross-camera store. Detections whose embedding fails keep a -1
// global id and the frame continues.
func (p *Pipeline) resolveIdentities(frame image.Image, detections []tracker.Detection) []tracker.Detection {
	out := make([]tracker.Detection, len(detections))
	copy(out, detections)

	for i := range out {
		out[i].GlobalID = -1
		feature := p.extractor.Extract(frame, out[i].Bbox)
		if len(feature) == 0 {
			continue
		}
		out[i].GlobalID = p.store.Admit(p.cameraID, out[i].LocalTrackID,
			feature, out[i].Bbox, out[i].ClassID, out[i].Confidence)
	}
	return out
}

// handleEvent persists, publishes, records, and raises one behavior
// event. Failures in one stage never block the others.
func (p *Pipeline) handleEvent(ctx context.Context, ev *events.BehaviorEvent) {
	ev.CameraID = p.cameraID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if p.events != nil {
		if err := p.events.Create(ctx, ev); err != nil {
			p.logger.Error("Failed to persist event", "type", ev.EventType, "error", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.Publish(core.EventSubject(p.cameraID), ev); err != nil {
			p.logger.Error("Failed to publish event", "type", ev.EventType, "error", err)
		}
	}
	if p.recorder != nil {
		if err := p.recorder.Trigger(ctx, ev); err != nil {
			p.logger.Error("Failed to trigger recording", "type", ev.EventType, "error", err)
		}
	}
	if p.alarms != nil {
		if _, ok := p.alarms.Raise(ev); !ok {
			p.logger.Warn("Alarm rejected by full queue", "type", ev.EventType)
		}
	}
}

// Analyzer drives a pipeline from the external detector and local
// tracker collaborators.
type Analyzer struct {
	pipeline *Pipeline
	detector Detector
	local    LocalTracker
}

// NewAnalyzer wires a detector and optional local tracker in front of
// a pipeline.
func NewAnalyzer(p *Pipeline, detector Detector, local LocalTracker) *Analyzer {
	return &Analyzer{pipeline: p, detector: detector, local: local}
}

// OnFrame runs detection, local tracking, and the full pipeline for
// one decoded frame.
func (a *Analyzer) OnFrame(ctx context.Context, frame image.Image, ts time.Time) ([]tracker.Detection, error) {
	detections, err := a.detector.Detect(ctx, frame, ts)
	if err != nil {
		return nil, err
	}
	if a.local != nil {
		detections = a.local.Update(a.pipeline.cameraID, ts, detections)
	}
	return a.pipeline.ProcessFrame(ctx, frame, ts, detections), nil
}

func overlaysFor(detections []tracker.Detection) []videobuf.Overlay {
	if len(detections) == 0 {
		return nil
	}
	overlays := make([]videobuf.Overlay, 0, len(detections))
	for _, det := range detections {
		overlays = append(overlays, videobuf.Overlay{
			Bbox:       det.Bbox,
			Confidence: det.Confidence,
		})
	}
	return overlays
}
