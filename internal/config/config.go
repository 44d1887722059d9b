// Package config provides configuration management for the appliance.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aibox-vision/aibox/internal/alarm"
)

// Config is the root appliance configuration.
type Config struct {
	Version   string          `yaml:"version"`
	System    SystemConfig    `yaml:"system"`
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Auth      AuthConfig      `yaml:"auth"`
	Cameras   []CameraConfig  `yaml:"cameras"`
	ReID      ReIDConfig      `yaml:"reid"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Recording RecordingConfig `yaml:"recording"`
	Alarms    AlarmsConfig    `yaml:"alarms"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BusConfig holds the embedded event bus settings.
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig holds token settings. An empty password disables login
// for that role.
type AuthConfig struct {
	Secret         string `yaml:"secret"`
	ExpiryHours    int    `yaml:"expiry_hours"`
	AdminPassword  string `yaml:"admin_password"`
	ViewerPassword string `yaml:"viewer_password"`
}

// CameraConfig identifies one analyzed source.
type CameraConfig struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	FPS     int    `yaml:"fps,omitempty" json:"fps,omitempty"`
}

// ReIDConfig holds appearance-embedding settings.
type ReIDConfig struct {
	InputWidth      int  `yaml:"input_width"`
	InputHeight     int  `yaml:"input_height"`
	FeatureDim      int  `yaml:"feature_dim"`
	Normalize       bool `yaml:"normalize"`
	MinObjectWidth  int  `yaml:"min_object_width"`
	MinObjectHeight int  `yaml:"min_object_height"`
}

// TrackingConfig holds cross-camera identity settings.
type TrackingConfig struct {
	MergeThreshold   float64 `yaml:"merge_threshold"`
	MaxAgeSeconds    int     `yaml:"max_age_seconds"`
	RebindWindowMs   int     `yaml:"rebind_window_ms"`
	FeatureAlpha     float64 `yaml:"feature_alpha"`
	NormalizeFeature bool    `yaml:"normalize_feature"`
}

// RecordingConfig holds event recording settings.
type RecordingConfig struct {
	OutputDir        string `yaml:"output_dir"`
	PreEventSeconds  int    `yaml:"pre_event_seconds"`
	PostEventSeconds int    `yaml:"post_event_seconds"`
	MaxFileSizeMB    int    `yaml:"max_file_size_mb"`
	FPS              int    `yaml:"fps"`
	TimestampOverlay bool   `yaml:"timestamp_overlay"`
	BboxOverlay      bool   `yaml:"bbox_overlay"`
	RetentionDays    int    `yaml:"retention_days"`
}

// AlarmsConfig holds alarm routing settings. ChannelTimeoutMs applies
// to sinks that set no timeout of their own.
type AlarmsConfig struct {
	QueueCapacity    int            `yaml:"queue_capacity"`
	HistoryCapacity  int            `yaml:"history_capacity"`
	ChannelTimeoutMs int            `yaml:"channel_timeout_ms"`
	TestMode         bool           `yaml:"test_mode"`
	PingIntervalMs   int            `yaml:"ping_interval_ms"`
	MaxConnections   int            `yaml:"max_connections"`
	Sinks            []alarm.Config `yaml:"sinks,omitempty"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Save writes the configuration back to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

func (c *Config) saveUnlocked() error {
	cfgCopy := &Config{
		Version:   c.Version,
		System:    c.System,
		Server:    c.Server,
		Bus:       c.Bus,
		Auth:      c.Auth,
		Cameras:   c.Cameras,
		ReID:      c.ReID,
		Tracking:  c.Tracking,
		Recording: c.Recording,
		Alarms:    c.Alarms,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# AIBox Appliance Configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.System = newCfg.System
	c.Server = newCfg.Server
	c.Bus = newCfg.Bus
	c.Auth = newCfg.Auth
	c.Cameras = newCfg.Cameras
	c.ReID = newCfg.ReID
	c.Tracking = newCfg.Tracking
	c.Recording = newCfg.Recording
	c.Alarms = newCfg.Alarms
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// GetCamera returns a camera by ID.
func (c *Config) GetCamera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			return &c.Cameras[i]
		}
	}
	return nil
}

// UpsertCamera adds or updates a camera.
func (c *Config) UpsertCamera(cam CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == cam.ID {
			c.Cameras[i] = cam
			return c.saveUnlocked()
		}
	}

	c.Cameras = append(c.Cameras, cam)
	return c.saveUnlocked()
}

// RemoveCamera removes a camera by ID.
func (c *Config) RemoveCamera(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			c.Cameras = append(c.Cameras[:i], c.Cameras[i+1:]...)
			return c.saveUnlocked()
		}
	}

	return fmt.Errorf("camera not found: %s", id)
}

// SetPath sets the path for the config file (used for saving).
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetPath returns the current config file path.
func (c *Config) GetPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// setDefaults sets default values for unset fields.
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if c.System.Database.Path == "" {
		c.System.Database.Path = "/data/aibox.db"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.System.Logging.Format == "" {
		c.System.Logging.Format = "json"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12001
	}
	if c.Auth.ExpiryHours == 0 {
		c.Auth.ExpiryHours = 24
	}

	if c.ReID.InputWidth == 0 {
		c.ReID.InputWidth = 128
	}
	if c.ReID.InputHeight == 0 {
		c.ReID.InputHeight = 256
	}
	if c.ReID.FeatureDim == 0 {
		c.ReID.FeatureDim = 512
		c.ReID.Normalize = true
	}
	if c.ReID.MinObjectWidth == 0 {
		c.ReID.MinObjectWidth = 32
	}
	if c.ReID.MinObjectHeight == 0 {
		c.ReID.MinObjectHeight = 64
	}

	if c.Tracking.MergeThreshold == 0 {
		c.Tracking.MergeThreshold = 0.75
	}
	if c.Tracking.MaxAgeSeconds == 0 {
		c.Tracking.MaxAgeSeconds = 30
	}
	if c.Tracking.RebindWindowMs == 0 {
		c.Tracking.RebindWindowMs = 2000
	}
	if c.Tracking.FeatureAlpha == 0 {
		c.Tracking.FeatureAlpha = 0.3
		c.Tracking.NormalizeFeature = true
	}

	if c.Recording.OutputDir == "" {
		c.Recording.OutputDir = "recordings"
	}
	if c.Recording.PreEventSeconds == 0 {
		c.Recording.PreEventSeconds = 30
	}
	if c.Recording.PostEventSeconds == 0 {
		c.Recording.PostEventSeconds = 30
	}
	if c.Recording.MaxFileSizeMB == 0 {
		c.Recording.MaxFileSizeMB = 100
	}
	if c.Recording.FPS == 0 {
		c.Recording.FPS = 10
		c.Recording.TimestampOverlay = true
		c.Recording.BboxOverlay = true
	}
	if c.Recording.RetentionDays == 0 {
		c.Recording.RetentionDays = 30
	}

	if c.Alarms.QueueCapacity == 0 {
		c.Alarms.QueueCapacity = 1000
	}
	if c.Alarms.HistoryCapacity == 0 {
		c.Alarms.HistoryCapacity = 100
	}
	if c.Alarms.ChannelTimeoutMs == 0 {
		c.Alarms.ChannelTimeoutMs = 5000
	}
	if c.Alarms.PingIntervalMs == 0 {
		c.Alarms.PingIntervalMs = 30000
	}
}
