package tracker

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/aibox-vision/aibox/internal/reid"
)

// scoreEpsilon is the window within which two candidate scores are
// considered tied.
const scoreEpsilon = 1e-6

// Config holds cross-camera store settings.
type Config struct {
	MergeThreshold float32       `yaml:"merge_threshold" json:"merge_threshold"`
	MaxAge         time.Duration `yaml:"max_age" json:"max_age"`
	RebindWindow   time.Duration `yaml:"rebind_window" json:"rebind_window"`
	FeatureAlpha   float32       `yaml:"feature_ema_alpha" json:"feature_ema_alpha"`
	Normalize      bool          `yaml:"normalize" json:"normalize"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		MergeThreshold: 0.75,
		MaxAge:         30 * time.Second,
		RebindWindow:   2 * time.Second,
		FeatureAlpha:   0.3,
		Normalize:      true,
	}
}

// Stats reports store counters.
type Stats struct {
	ActiveTracks  int    `json:"active_tracks"`
	TracksCreated uint64 `json:"tracks_created"`
	TracksMerged  uint64 `json:"tracks_merged"`
	TracksReaped  uint64 `json:"tracks_reaped"`
}

// Store owns the authoritative set of global tracks. Admission and
// reaping serialize on a single mutex; the critical section never does
// I/O. Reads return copies so no internal references escape.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	tracks  map[int64]*track
	nextID  int64
	created uint64
	merged  uint64
	reaped  uint64

	now func() time.Time // overridable for tests
}

// NewStore creates a cross-camera track store.
func NewStore(cfg Config) *Store {
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = 0.75
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
	if cfg.RebindWindow <= 0 {
		cfg.RebindWindow = 2 * time.Second
	}
	if cfg.FeatureAlpha <= 0 || cfg.FeatureAlpha > 1 {
		cfg.FeatureAlpha = 0.3
	}

	return &Store{
		cfg:    cfg,
		logger: slog.Default().With("component", "track-store"),
		tracks: make(map[int64]*track),
		nextID: 1,
		now:    time.Now,
	}
}

// Run drives the periodic reaper until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap()
		}
	}
}

// Admit routes a per-camera observation into the global identity space
// and returns the global id it resolved to. The decision order is:
// same-camera rebinding, appearance match across cameras, then a new
// track.
func (s *Store) Admit(cameraID string, localID int, feature reid.FeatureVector, bbox image.Rectangle, classID int, confidence float32) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Same-camera rebinding: the local tracker already bound this id.
	for _, t := range s.tracks {
		if b, ok := t.bindings[cameraID]; ok && b.localID == localID {
			s.update(t, cameraID, localID, feature, bbox, confidence, now)
			return t.globalID
		}
	}

	// Appearance match across cameras.
	if best := s.bestMatch(cameraID, feature, classID); best != nil {
		if s.bindable(best, cameraID, now) {
			best.bindings[cameraID] = binding{localID: localID, seen: now}
			s.update(best, cameraID, localID, feature, bbox, confidence, now)
			s.merged++
			s.logger.Debug("Merged local track into global identity",
				"global_id", best.globalID,
				"camera_id", cameraID,
				"local_id", localID,
			)
			return best.globalID
		}
	}

	// Admit a new track. Global ids are monotonic and never reused.
	id := s.nextID
	s.nextID++
	t := &track{
		globalID:        id,
		primaryCameraID: cameraID,
		feature:         feature.Clone(),
		bindings:        map[string]binding{cameraID: {localID: localID, seen: now}},
		lastBbox:        bbox,
		classID:         classID,
		lastConfidence:  confidence,
		firstSeen:       now,
		lastSeen:        now,
	}
	s.tracks[id] = t
	s.created++

	s.logger.Debug("Admitted new global track",
		"global_id", id,
		"camera_id", cameraID,
		"local_id", localID,
	)
	return id
}

// bestMatch scores feature against every active track of the same class
// and returns the winner of the tie-break, or nil when no track clears
// the merge threshold.
func (s *Store) bestMatch(cameraID string, feature reid.FeatureVector, classID int) *track {
	if len(feature) == 0 {
		return nil
	}

	var best *track
	var bestScore float32

	for _, t := range s.tracks {
		if t.classID != classID {
			continue
		}
		score := reid.Cosine(feature, t.feature)
		if score < s.cfg.MergeThreshold {
			continue
		}
		if best == nil {
			best, bestScore = t, score
			continue
		}

		switch {
		case score > bestScore+scoreEpsilon:
			best, bestScore = t, score
		case score >= bestScore-scoreEpsilon:
			// Tied: prefer the track born on this camera, else the
			// smaller (older) global id.
			if preferred(t, best, cameraID) {
				best, bestScore = t, score
			}
		}
	}

	return best
}

func preferred(candidate, current *track, cameraID string) bool {
	candPrimary := candidate.primaryCameraID == cameraID
	curPrimary := current.primaryCameraID == cameraID
	if candPrimary != curPrimary {
		return candPrimary
	}
	return candidate.globalID < current.globalID
}

// bindable reports whether the track can accept a binding on cameraID:
// either no binding exists there, or the existing one has gone stale
// beyond the rebind window.
func (s *Store) bindable(t *track, cameraID string, now time.Time) bool {
	b, ok := t.bindings[cameraID]
	if !ok {
		return true
	}
	return now.Sub(b.seen) > s.cfg.RebindWindow
}

// update refreshes track state from an admission. lastSeen never moves
// backwards.
func (s *Store) update(t *track, cameraID string, localID int, feature reid.FeatureVector, bbox image.Rectangle, confidence float32, now time.Time) {
	t.bindings[cameraID] = binding{localID: localID, seen: now}
	t.lastBbox = bbox
	t.lastConfidence = confidence
	if now.After(t.lastSeen) {
		t.lastSeen = now
	}
	s.smooth(t, feature)
}

// smooth blends the incoming feature into the stored one with an
// exponential moving average. A dimension mismatch replaces the stored
// feature outright since blending across dimensions is meaningless.
func (s *Store) smooth(t *track, incoming reid.FeatureVector) {
	if len(incoming) == 0 {
		return
	}
	if len(incoming) != len(t.feature) {
		t.feature = incoming.Clone()
		return
	}

	alpha := s.cfg.FeatureAlpha
	blended := make(reid.FeatureVector, len(incoming))
	for i := range incoming {
		blended[i] = alpha*incoming[i] + (1-alpha)*t.feature[i]
	}
	if s.cfg.Normalize {
		norm := blended.Norm()
		if norm > 0 {
			for i := range blended {
				blended[i] /= norm
			}
		}
	}
	t.feature = blended
}

// Reap removes tracks idle beyond MaxAge and returns how many were
// removed. Removal is irreversible.
func (s *Store) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, t := range s.tracks {
		if now.Sub(t.lastSeen) > s.cfg.MaxAge {
			delete(s.tracks, id)
			removed++
		}
	}
	if removed > 0 {
		s.reaped += uint64(removed)
		s.logger.Debug("Reaped expired tracks", "count", removed)
	}
	return removed
}

// GetByGlobal returns a copy of the track with the given global id.
func (s *Store) GetByGlobal(id int64) (GlobalTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tracks[id]
	if !ok {
		return GlobalTrack{}, false
	}
	return t.copyOut(), true
}

// GetByLocal returns a copy of the track currently bound to
// (cameraID, localID).
func (s *Store) GetByLocal(cameraID string, localID int) (GlobalTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tracks {
		if b, ok := t.bindings[cameraID]; ok && b.localID == localID {
			return t.copyOut(), true
		}
	}
	return GlobalTrack{}, false
}

// ActiveCount returns the number of active tracks.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// Snapshot returns copies of all active tracks.
func (s *Store) Snapshot() []GlobalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GlobalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.copyOut())
	}
	return out
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ActiveTracks:  len(s.tracks),
		TracksCreated: s.created,
		TracksMerged:  s.merged,
		TracksReaped:  s.reaped,
	}
}
