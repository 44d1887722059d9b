package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aibox-vision/aibox/internal/recording"
)

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	opts := recording.ListOptions{
		SourceID:  r.URL.Query().Get("camera_id"),
		EventType: r.URL.Query().Get("event_type"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "Invalid start_time, expected RFC3339")
			return
		}
		opts.StartTime = t
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "Invalid end_time, expected RFC3339")
			return
		}
		opts.EndTime = t
	}

	list, total, err := s.recordings.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list recordings", "error", err)
		InternalError(w, "Failed to list recordings")
		return
	}

	page := 1
	if opts.Limit > 0 {
		page = opts.Offset/opts.Limit + 1
	}
	List(w, list, total, page, opts.Limit)
}

func (s *Server) handleActiveRecordings(w http.ResponseWriter, r *http.Request) {
	OK(w, s.recorder.ActiveJobs())
}

type startRecordingRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	if errs := ValidateCameraID(sourceID); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	var req startRecordingRequest
	if r.Body != nil {
		// Body is optional; a bare POST starts an open-ended recording.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	d := time.Duration(req.DurationSeconds) * time.Second
	if err := s.recorder.StartManual(r.Context(), sourceID, d); err != nil {
		if strings.Contains(err.Error(), "already") {
			Conflict(w, err.Error())
			return
		}
		s.logger.Error("Failed to start recording", "camera", sourceID, "error", err)
		InternalError(w, "Failed to start recording")
		return
	}
	OK(w, map[string]string{"status": "recording", "camera_id": sourceID})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	if err := s.recorder.StopManual(r.Context(), sourceID); err != nil {
		if strings.Contains(err.Error(), "not") {
			NotFound(w, err.Error())
			return
		}
		s.logger.Error("Failed to stop recording", "camera", sourceID, "error", err)
		InternalError(w, "Failed to stop recording")
		return
	}
	OK(w, map[string]string{"status": "stopped", "camera_id": sourceID})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		BadRequest(w, "Invalid recording id")
		return
	}

	rec, err := s.recordings.Get(r.Context(), id)
	if err != nil {
		NotFound(w, "Recording not found")
		return
	}

	if err := s.recordings.Delete(r.Context(), id); err != nil {
		s.logger.Error("Failed to delete recording", "id", id, "error", err)
		InternalError(w, "Failed to delete recording")
		return
	}
	if rec.OutputPath != "" {
		if err := os.Remove(rec.OutputPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove recording file",
				"path", rec.OutputPath, "error", err)
		}
	}
	NoContent(w)
}
