package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aibox-vision/aibox/internal/alarm"
	"github.com/aibox-vision/aibox/internal/events"
)

func (s *Server) handleListAlarmConfigs(w http.ResponseWriter, r *http.Request) {
	OK(w, s.alarms.Configs())
}

func (s *Server) handleGetAlarmConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, ok := s.alarms.GetConfig(id)
	if !ok {
		NotFound(w, "Alarm config not found")
		return
	}
	OK(w, cfg)
}

func (s *Server) handleCreateAlarmConfig(w http.ResponseWriter, r *http.Request) {
	var cfg alarm.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if err := s.alarms.AddConfig(r.Context(), &cfg); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			Conflict(w, err.Error())
			return
		}
		BadRequest(w, err.Error())
		return
	}
	Created(w, cfg)
}

func (s *Server) handleUpdateAlarmConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg alarm.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	cfg.ID = id

	if err := s.alarms.UpdateConfig(r.Context(), &cfg); err != nil {
		if strings.Contains(err.Error(), "not found") {
			NotFound(w, err.Error())
			return
		}
		BadRequest(w, err.Error())
		return
	}
	OK(w, cfg)
}

func (s *Server) handleDeleteAlarmConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.alarms.RemoveConfig(r.Context(), id); err != nil {
		NotFound(w, err.Error())
		return
	}
	NoContent(w)
}

func (s *Server) handleAlarmStats(w http.ResponseWriter, r *http.Request) {
	OK(w, s.alarms.Stats())
}

func (s *Server) handleAlarmHistory(w http.ResponseWriter, r *http.Request) {
	OK(w, s.alarms.History())
}

type testAlarmRequest struct {
	CameraID  string `json:"camera_id"`
	EventType string `json:"event_type"`
}

// handleTestAlarm pushes a synthetic alarm through the full routing
// path so operators can verify their sinks.
func (s *Server) handleTestAlarm(w http.ResponseWriter, r *http.Request) {
	var req testAlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.CameraID == "" {
		req.CameraID = "test-camera"
	}
	eventType := events.EventType(req.EventType)
	if eventType == "" {
		eventType = events.EventIntrusion
	}

	ev := &events.BehaviorEvent{
		ID:            uuid.New().String(),
		CameraID:      req.CameraID,
		EventType:     eventType,
		RuleID:        "manual-test",
		LocalTrackID:  -1,
		GlobalTrackID: -1,
		Confidence:    1.0,
		Timestamp:     time.Now(),
	}

	payload, ok := s.alarms.RaiseTest(ev)
	if !ok {
		Error(w, http.StatusServiceUnavailable, "QUEUE_FULL", "Alarm queue is full")
		return
	}
	OK(w, payload)
}
