// Package recording captures event-triggered video clips from the
// per-source frame rings and persists their metadata.
package recording

import (
	"time"
)

// JobState represents the state of a recording job
type JobState string

const (
	JobStateDraining  JobState = "draining"
	JobStateStreaming JobState = "streaming"
	JobStateFinalized JobState = "finalized"
)

// EventTypeManual marks operator-initiated recordings.
const EventTypeManual = "manual"

// Recording is the persisted metadata row for one recorded clip. When a
// clip rolls over into multiple files, OutputPath points to the first.
type Recording struct {
	ID         int64     `json:"id"`
	SourceID   string    `json:"source_id"`
	OutputPath string    `json:"output_path"`
	EventType  string    `json:"event_type"`
	Confidence float64   `json:"confidence"`
	Metadata   string    `json:"metadata,omitempty"`
	FrameCount int       `json:"frame_count"`
	SizeBytes  int64     `json:"size_bytes"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config holds event recorder settings.
type Config struct {
	PreEventSeconds  int    `yaml:"pre_event_seconds" json:"pre_event_seconds"`
	PostEventSeconds int    `yaml:"post_event_seconds" json:"post_event_seconds"`
	OutputDir        string `yaml:"output_dir" json:"output_dir"`
	MaxFileSizeMB    int    `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	FPS              int    `yaml:"fps" json:"fps"`
	TimestampOverlay bool   `yaml:"timestamp_overlay" json:"timestamp_overlay"`
	BboxOverlay      bool   `yaml:"bbox_overlay" json:"bbox_overlay"`
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		PreEventSeconds:  30,
		PostEventSeconds: 30,
		OutputDir:        "recordings",
		MaxFileSizeMB:    100,
		FPS:              10,
		TimestampOverlay: true,
		BboxOverlay:      true,
	}
}

// JobStatus is a read-only view of an active recording job.
type JobStatus struct {
	SourceID   string    `json:"source_id"`
	EventType  string    `json:"event_type"`
	State      JobState  `json:"state"`
	OutputPath string    `json:"output_path"`
	FrameCount int       `json:"frame_count"`
	StartTime  time.Time `json:"start_time"`
	Deadline   time.Time `json:"deadline"`
}

// ListOptions filters recording queries.
type ListOptions struct {
	SourceID  string
	EventType string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}
