package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aibox-vision/aibox/internal/config"
)

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	OK(w, s.cfg.Cameras)
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cam := s.cfg.GetCamera(id)
	if cam == nil {
		NotFound(w, "Camera not found")
		return
	}
	OK(w, cam)
}

func (s *Server) handleUpsertCamera(w http.ResponseWriter, r *http.Request) {
	var cam config.CameraConfig
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if errs := ValidateCamera(cam); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	existed := s.cfg.GetCamera(cam.ID) != nil
	if err := s.cfg.UpsertCamera(cam); err != nil {
		s.logger.Error("Failed to save camera", "id", cam.ID, "error", err)
		InternalError(w, "Failed to save camera")
		return
	}

	if existed {
		OK(w, cam)
		return
	}
	Created(w, cam)
}

func (s *Server) handleRemoveCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.RemoveCamera(id); err != nil {
		NotFound(w, "Camera not found")
		return
	}
	NoContent(w)
}
