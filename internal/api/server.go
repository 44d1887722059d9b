// Package api exposes the appliance HTTP surface: alarm configuration,
// routing history, track and recording introspection, and the alarm
// WebSocket feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aibox-vision/aibox/internal/alarm"
	"github.com/aibox-vision/aibox/internal/auth"
	"github.com/aibox-vision/aibox/internal/config"
	"github.com/aibox-vision/aibox/internal/database"
	"github.com/aibox-vision/aibox/internal/events"
	"github.com/aibox-vision/aibox/internal/recording"
	"github.com/aibox-vision/aibox/internal/tracker"
)

// RecorderControl is the manual recording surface of the recorder.
type RecorderControl interface {
	StartManual(ctx context.Context, sourceID string, d time.Duration) error
	StopManual(ctx context.Context, sourceID string) error
	ActiveJobs() []recording.JobStatus
}

// Server hosts the appliance API.
type Server struct {
	cfg        *config.Config
	authMgr    *auth.Manager
	alarms     *alarm.Router
	hub        *alarm.WSHub
	tracks     *tracker.Store
	recordings *recording.Repository
	recorder   RecorderControl
	events     *events.Service
	db         *database.DB
	logger     *slog.Logger

	httpServer *http.Server
}

// Options wires the server's collaborators.
type Options struct {
	Config     *config.Config
	Auth       *auth.Manager
	Alarms     *alarm.Router
	Hub        *alarm.WSHub
	Tracks     *tracker.Store
	Recordings *recording.Repository
	Recorder   RecorderControl
	Events     *events.Service
	DB         *database.DB
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	return &Server{
		cfg:        opts.Config,
		authMgr:    opts.Auth,
		alarms:     opts.Alarms,
		hub:        opts.Hub,
		tracks:     opts.Tracks,
		recordings: opts.Recordings,
		recorder:   opts.Recorder,
		events:     opts.Events,
		db:         opts.DB,
		logger:     slog.Default().With("component", "api"),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws/alarms", s.hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMgr.Middleware)

			r.Get("/cameras", s.handleListCameras)
			r.Get("/cameras/{id}", s.handleGetCamera)
			r.Get("/events", s.handleListEvents)
			r.Get("/events/{id}", s.handleGetEvent)
			r.Get("/tracks", s.handleListTracks)
			r.Get("/tracks/{id}", s.handleGetTrack)
			r.Get("/recordings", s.handleListRecordings)
			r.Get("/recordings/active", s.handleActiveRecordings)
			r.Get("/alarms/configs", s.handleListAlarmConfigs)
			r.Get("/alarms/configs/{id}", s.handleGetAlarmConfig)
			r.Get("/alarms/stats", s.handleAlarmStats)
			r.Get("/alarms/history", s.handleAlarmHistory)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Post("/cameras", s.handleUpsertCamera)
				r.Delete("/cameras/{id}", s.handleRemoveCamera)
				r.Post("/alarms/configs", s.handleCreateAlarmConfig)
				r.Put("/alarms/configs/{id}", s.handleUpdateAlarmConfig)
				r.Delete("/alarms/configs/{id}", s.handleDeleteAlarmConfig)
				r.Post("/alarms/test", s.handleTestAlarm)
				r.Post("/recordings/{sourceID}/start", s.handleStartRecording)
				r.Post("/recordings/{sourceID}/stop", s.handleStopRecording)
				r.Delete("/recordings/{id}", s.handleDeleteRecording)
				r.Delete("/events/{id}", s.handleDeleteEvent)
				r.Get("/system/status", s.handleSystemStatus)
				r.Get("/system/migrations", s.handleMigrationStatus)
				r.Post("/system/maintenance", s.handleMaintenance)
			})
		})
	})

	return r
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("API server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.db != nil {
		if err := s.db.Health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	OK(w, status)
}
