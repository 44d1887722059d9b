package alarm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aibox-vision/aibox/internal/events"
)

// BoundingBox is the alarm wire form of a detection rectangle.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Payload is the alarm wire format. Field order is the canonical key
// order of the serialized JSON, so every sink emits byte-identical
// documents for the same alarm.
type Payload struct {
	AlarmID       string      `json:"alarm_id"`
	EventType     string      `json:"event_type"`
	CameraID      string      `json:"camera_id"`
	RuleID        string      `json:"rule_id"`
	ObjectID      string      `json:"object_id"`
	ReIDID        string      `json:"reid_id"`
	LocalTrackID  int         `json:"local_track_id"`
	GlobalTrackID int64       `json:"global_track_id"`
	Confidence    float64     `json:"confidence"`
	Timestamp     string      `json:"timestamp"`
	BoundingBox   BoundingBox `json:"bounding_box"`
	Metadata      string      `json:"metadata"`
	TestMode      bool        `json:"test_mode"`
	Priority      int         `json:"priority"`
}

// Encode serializes the payload in canonical form.
func (p *Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alarm payload: %w", err)
	}
	return data, nil
}

// basePriority maps an event type to its baseline urgency.
func basePriority(eventType string) int {
	switch events.EventType(eventType) {
	case events.EventIntrusion, events.EventObjectLeft:
		return 4
	case events.EventLoitering, events.EventCrowd:
		return 3
	case events.EventFaceUnknown:
		return 2
	default:
		return 1
	}
}

const highConfidenceBonus = 0.9

// ComputePriority derives the alarm priority from the event type and
// detection confidence, clamped to the 1..5 range.
func ComputePriority(eventType string, confidence float64) int {
	p := basePriority(eventType)
	if confidence >= highConfidenceBonus {
		p++
	}
	if p < 1 {
		p = 1
	}
	if p > 5 {
		p = 5
	}
	return p
}

// NewPayload builds the wire payload for a behavior event. Unresolved
// track identities stay at their sentinel values: -1 for the numeric
// track ids and an empty reid_id.
func NewPayload(ev *events.BehaviorEvent, testMode bool) *Payload {
	reidID := ""
	if ev.GlobalTrackID >= 0 {
		reidID = strconv.FormatInt(ev.GlobalTrackID, 16)
	}

	metadata := ""
	if len(ev.Metadata) > 0 {
		metadata = string(ev.Metadata)
	}

	return &Payload{
		AlarmID:       uuid.New().String(),
		EventType:     string(ev.EventType),
		CameraID:      ev.CameraID,
		RuleID:        ev.RuleID,
		ObjectID:      strconv.Itoa(ev.ObjectID),
		ReIDID:        reidID,
		LocalTrackID:  ev.LocalTrackID,
		GlobalTrackID: ev.GlobalTrackID,
		Confidence:    ev.Confidence,
		Timestamp:     ev.Timestamp.UTC().Format(time.RFC3339),
		BoundingBox: BoundingBox{
			X: ev.Bbox.Min.X,
			Y: ev.Bbox.Min.Y,
			W: ev.Bbox.Dx(),
			H: ev.Bbox.Dy(),
		},
		Metadata: metadata,
		TestMode: testMode,
		Priority: ComputePriority(string(ev.EventType), ev.Confidence),
	}
}
