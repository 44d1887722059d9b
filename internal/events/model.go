// Package events defines behavior events raised by analysis rules and
// their persistence.
package events

import (
	"encoding/json"
	"image"
	"time"
)

// EventType identifies the behavior rule that raised an event.
type EventType string

const (
	EventIntrusion   EventType = "intrusion"
	EventLoitering   EventType = "loitering"
	EventObjectLeft  EventType = "object_left"
	EventCrowd       EventType = "crowd"
	EventFaceUnknown EventType = "face_unknown"
	EventGeneric     EventType = "generic"
)

// BehaviorEvent is a single rule firing on one camera.
type BehaviorEvent struct {
	ID            string          `json:"id"`
	CameraID      string          `json:"camera_id"`
	EventType     EventType       `json:"event_type"`
	RuleID        string          `json:"rule_id,omitempty"`
	ObjectID      int             `json:"object_id"`
	ReIDID        int64           `json:"reid_id"`
	LocalTrackID  int             `json:"local_track_id"`
	GlobalTrackID int64           `json:"global_track_id"` // -1 when no global identity resolved
	Confidence    float64         `json:"confidence"`
	Bbox          image.Rectangle `json:"bbox"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ListOptions filters event queries.
type ListOptions struct {
	CameraID  string    `json:"camera_id,omitempty"`
	EventType EventType `json:"event_type,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}
