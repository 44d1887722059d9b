package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aibox-vision/aibox/internal/events"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	opts := events.ListOptions{
		CameraID:  r.URL.Query().Get("camera_id"),
		EventType: events.EventType(r.URL.Query().Get("event_type")),
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

	list, total, err := s.events.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list events", "error", err)
		InternalError(w, "Failed to list events")
		return
	}

	page := 1
	if opts.Limit > 0 {
		page = opts.Offset/opts.Limit + 1
	}
	List(w, list, total, page, opts.Limit)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.events.Get(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			NotFound(w, "Event not found")
			return
		}
		s.logger.Error("Failed to get event", "id", id, "error", err)
		InternalError(w, "Failed to get event")
		return
	}
	OK(w, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.events.Delete(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			NotFound(w, "Event not found")
			return
		}
		s.logger.Error("Failed to delete event", "id", id, "error", err)
		InternalError(w, "Failed to delete event")
		return
	}
	NoContent(w)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
