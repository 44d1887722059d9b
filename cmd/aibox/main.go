// Package main is the AIBox appliance entry point. It wires the
// database, event bus, cross-camera tracker, recorder, alarm router,
// and HTTP API, then runs until interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aibox-vision/aibox/internal/alarm"
	"github.com/aibox-vision/aibox/internal/api"
	"github.com/aibox-vision/aibox/internal/auth"
	"github.com/aibox-vision/aibox/internal/config"
	"github.com/aibox-vision/aibox/internal/core"
	"github.com/aibox-vision/aibox/internal/database"
	"github.com/aibox-vision/aibox/internal/events"
	"github.com/aibox-vision/aibox/internal/pipeline"
	"github.com/aibox-vision/aibox/internal/recording"
	"github.com/aibox-vision/aibox/internal/reid"
	"github.com/aibox-vision/aibox/internal/tracker"
	"github.com/aibox-vision/aibox/internal/videobuf"
)

const (
	defaultDataPath = "/data"
	version         = "1.0.0"
)

func main() {
	dataPath := getEnv("DATA_PATH", defaultDataPath)
	os.MkdirAll(dataPath, 0755)

	cfg := loadConfig(dataPath)
	initLogging(cfg)

	slog.Info("Starting AIBox appliance",
		"version", version,
		"config", cfg.GetPath(),
		"data_path", dataPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.Open(&database.Config{Path: cfg.System.Database.Path})
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Embedded event bus
	logger := slog.Default()
	bus, err := core.NewEventBus(core.EventBusConfig{
		Host: cfg.Bus.Host,
		Port: cfg.Bus.Port,
	}, logger)
	if err != nil {
		slog.Error("Failed to start event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Stop()

	// ReID and cross-camera tracking
	extractor, err := reid.NewExtractor(reid.Config{
		InputWidth:      cfg.ReID.InputWidth,
		InputHeight:     cfg.ReID.InputHeight,
		FeatureDim:      cfg.ReID.FeatureDim,
		Normalize:       cfg.ReID.Normalize,
		MinObjectWidth:  cfg.ReID.MinObjectWidth,
		MinObjectHeight: cfg.ReID.MinObjectHeight,
	})
	if err != nil {
		slog.Error("Failed to create feature extractor", "error", err)
		os.Exit(1)
	}

	trackStore := tracker.NewStore(tracker.Config{
		MergeThreshold: float32(cfg.Tracking.MergeThreshold),
		MaxAge:         time.Duration(cfg.Tracking.MaxAgeSeconds) * time.Second,
		RebindWindow:   time.Duration(cfg.Tracking.RebindWindowMs) * time.Millisecond,
		FeatureAlpha:   float32(cfg.Tracking.FeatureAlpha),
		Normalize:      cfg.Tracking.NormalizeFeature,
	})
	go trackStore.Run(ctx)

	// Frame buffers and event recording
	buffers := videobuf.NewManager(cfg.Recording.PreEventSeconds * cfg.Recording.FPS)
	repo := recording.NewRepository(db)
	recorder := recording.NewRecorder(recording.Config{
		PreEventSeconds:  cfg.Recording.PreEventSeconds,
		PostEventSeconds: cfg.Recording.PostEventSeconds,
		OutputDir:        cfg.Recording.OutputDir,
		MaxFileSizeMB:    cfg.Recording.MaxFileSizeMB,
		FPS:              cfg.Recording.FPS,
		TimestampOverlay: cfg.Recording.TimestampOverlay,
		BboxOverlay:      cfg.Recording.BboxOverlay,
	}, buffers, repo)
	go recorder.Run(ctx)

	retention := recording.NewRetentionPolicy(recording.RetentionConfig{
		Days: cfg.Recording.RetentionDays,
	}, repo)
	if err := retention.Start(ctx); err != nil {
		slog.Error("Failed to start retention policy", "error", err)
	}
	defer retention.Stop()

	// Events
	eventService := events.NewService(db)

	// Alarm routing
	hub := alarm.NewWSHub(cfg.Alarms.PingIntervalMs, cfg.Alarms.MaxConnections)
	mqttAdapter := alarm.NewMQTTAdapter()
	defer mqttAdapter.Close()

	router := alarm.NewRouter(alarm.RouterOptions{
		QueueCapacity:    cfg.Alarms.QueueCapacity,
		HistoryCapacity:  cfg.Alarms.HistoryCapacity,
		ChannelTimeoutMs: cfg.Alarms.ChannelTimeoutMs,
		TestMode:         cfg.Alarms.TestMode,
	}, map[alarm.DeliveryMethod]alarm.Adapter{
		alarm.MethodHTTP:      alarm.NewHTTPAdapter(),
		alarm.MethodWebSocket: alarm.NewWebSocketAdapter(hub),
		alarm.MethodMQTT:      mqttAdapter,
	}, alarm.NewSQLiteStore(db))

	if err := router.LoadConfigs(ctx); err != nil {
		slog.Error("Failed to load alarm configs", "error", err)
	}
	seedAlarmSinks(ctx, router, cfg.Alarms.Sinks)
	router.SetPublisher(bus)
	go router.Run(ctx)

	// Per-camera pipelines. Frame sources attach through the Analyzer
	// contract; the appliance itself only hosts the analysis side.
	pipelines := buildPipelines(cfg, pipeline.Options{
		Extractor: extractor,
		Store:     trackStore,
		Buffers:   buffers,
		Events:    eventService,
		Publisher: bus,
		Alarms:    router,
		Recorder:  recorder,
	})
	slog.Info("Pipelines ready", "cameras", len(pipelines))

	// HTTP API
	srv := api.NewServer(api.Options{
		Config:     cfg,
		Auth:       auth.NewManager(cfg.Auth.Secret, time.Duration(cfg.Auth.ExpiryHours)*time.Hour),
		Alarms:     router,
		Hub:        hub,
		Tracks:     trackStore,
		Recordings: repo,
		Recorder:   recorder,
		Events:     eventService,
		DB:         db,
	})

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("API server error", "error", err)
			cancel()
		}
	}()

	cfg.OnChange(func(c *config.Config) {
		if err := bus.Publish(core.SubjectConfigChanged, map[string]string{
			"path": c.GetPath(),
		}); err != nil {
			slog.Warn("Failed to announce config change", "error", err)
		}
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watch disabled", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	if err := bus.Publish(core.SubjectSystemShutdown, map[string]string{"reason": "signal"}); err != nil {
		slog.Debug("Shutdown announcement failed", "error", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("API shutdown error", "error", err)
	}
	hub.Close()

	// Let the alarm worker finish its in-flight dispatch.
	select {
	case <-router.Done():
	case <-shutdownCtx.Done():
	}

	slog.Info("Stopped")
}

func loadConfig(dataPath string) *config.Config {
	path := getEnv("CONFIG_PATH", filepath.Join(dataPath, "config.yml"))

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("Failed to load config", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = config.Default()
		cfg.SetPath(path)
		if saveErr := cfg.Save(); saveErr != nil {
			slog.Warn("Failed to write default config", "path", path, "error", saveErr)
		}
	}
	if dataPath != defaultDataPath && cfg.System.Database.Path == "/data/aibox.db" {
		// Default db location follows a relocated data dir.
		cfg.System.Database.Path = filepath.Join(dataPath, "aibox.db")
	}
	return cfg
}

func initLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch getEnv("LOG_LEVEL", cfg.System.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.System.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// seedAlarmSinks registers sinks declared in the config file. Sinks
// already present in the database win; a config sink with a taken id
// is skipped.
func seedAlarmSinks(ctx context.Context, router *alarm.Router, sinks []alarm.Config) {
	for i := range sinks {
		sink := sinks[i]
		if _, ok := router.GetConfig(sink.ID); ok {
			continue
		}
		if err := router.AddConfig(ctx, &sink); err != nil {
			slog.Warn("Skipping invalid alarm sink", "id", sink.ID, "error", err)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func buildPipelines(cfg *config.Config, base pipeline.Options) map[string]*pipeline.Pipeline {
	pipelines := make(map[string]*pipeline.Pipeline)
	for _, cam := range cfg.Cameras {
		if !cam.Enabled {
			continue
		}
		opts := base
		opts.CameraID = cam.ID
		pipelines[cam.ID] = pipeline.New(opts)
		slog.Info("Camera pipeline created", "camera", cam.ID, "name", cam.Name)
	}
	return pipelines
}
