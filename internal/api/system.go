package api

import (
	"net/http"

	"github.com/aibox-vision/aibox/internal/database"
)

// handleSystemStatus reports database health, on-disk size and pool
// statistics for the admin dashboard.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		InternalError(w, "Database not configured")
		return
	}

	status := map[string]interface{}{
		"database": "ok",
		"db_path":  s.db.Path(),
	}
	if err := s.db.Health(r.Context()); err != nil {
		status["database"] = err.Error()
	}
	if size, err := s.db.GetSize(); err == nil {
		status["db_size_bytes"] = size
	}
	pool := s.db.Stats()
	status["db_open_conns"] = pool.OpenConnections
	status["db_in_use"] = pool.InUse

	OK(w, status)
}

// handleMigrationStatus lists every schema step with its applied state.
func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		InternalError(w, "Database not configured")
		return
	}

	status, err := database.NewMigrator(s.db).GetStatus(r.Context())
	if err != nil {
		s.logger.Error("Failed to read migration status", "error", err)
		InternalError(w, "Failed to read migration status")
		return
	}
	OK(w, status)
}

// handleMaintenance runs the database maintenance sweep. It blocks the
// request for the duration; callers should expect seconds on a large
// recordings table.
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		InternalError(w, "Database not configured")
		return
	}

	if err := s.db.Maintain(r.Context()); err != nil {
		s.logger.Error("Database maintenance failed", "error", err)
		InternalError(w, "Maintenance failed")
		return
	}
	OK(w, map[string]string{"status": "completed"})
}
