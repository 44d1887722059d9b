// Package tracker maintains appliance-wide track identities fused across
// cameras by appearance similarity.
package tracker

import (
	"image"
	"time"

	"github.com/aibox-vision/aibox/internal/reid"
)

// Detection is a single per-frame detector output.
type Detection struct {
	Bbox         image.Rectangle `json:"bbox"`
	ClassID      int             `json:"class_id"`
	Confidence   float32         `json:"confidence"`
	LocalTrackID int             `json:"local_track_id"` // -1 when unknown
	GlobalID     int64           `json:"global_id"`      // -1 until admitted
}

// GlobalTrack is a cross-camera identity. Reads from the store return
// copies; mutating a returned value never affects the store.
type GlobalTrack struct {
	GlobalID        int64              `json:"global_id"`
	PrimaryCameraID string             `json:"primary_camera_id"`
	Feature         reid.FeatureVector `json:"-"`
	LocalBindings   map[string]int     `json:"local_bindings"` // cameraID -> localID
	LastBbox        image.Rectangle    `json:"last_bbox"`
	ClassID         int                `json:"class_id"`
	LastConfidence  float32            `json:"last_confidence"`
	FirstSeen       time.Time          `json:"first_seen"`
	LastSeen        time.Time          `json:"last_seen"`
	Active          bool               `json:"active"`
}

// binding records the local id bound on one camera and when it was last
// refreshed, which drives the stale-rebind window.
type binding struct {
	localID int
	seen    time.Time
}

// track is the store-internal mutable representation.
type track struct {
	globalID        int64
	primaryCameraID string
	feature         reid.FeatureVector
	bindings        map[string]binding
	lastBbox        image.Rectangle
	classID         int
	lastConfidence  float32
	firstSeen       time.Time
	lastSeen        time.Time
}

// copyOut converts the internal track to its public snapshot form.
func (t *track) copyOut() GlobalTrack {
	bindings := make(map[string]int, len(t.bindings))
	for cam, b := range t.bindings {
		bindings[cam] = b.localID
	}
	return GlobalTrack{
		GlobalID:        t.globalID,
		PrimaryCameraID: t.primaryCameraID,
		Feature:         t.feature.Clone(),
		LocalBindings:   bindings,
		LastBbox:        t.lastBbox,
		ClassID:         t.classID,
		LastConfidence:  t.lastConfidence,
		FirstSeen:       t.firstSeen,
		LastSeen:        t.lastSeen,
		Active:          true,
	}
}
