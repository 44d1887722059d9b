package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks := s.tracks.Snapshot()
	OK(w, map[string]interface{}{
		"tracks": tracks,
		"stats":  s.tracks.Stats(),
	})
}

func (s *Server) handleGetTrack(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		BadRequest(w, "Invalid track id")
		return
	}

	track, ok := s.tracks.GetByGlobal(id)
	if !ok {
		NotFound(w, "Track not found")
		return
	}
	OK(w, track)
}
