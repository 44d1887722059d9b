// Package alarm turns behavior events into prioritized alarm payloads
// and routes them to configured delivery sinks.
package alarm

import (
	"fmt"
	"time"
)

// DeliveryMethod identifies a sink kind.
type DeliveryMethod string

const (
	MethodHTTP      DeliveryMethod = "http"
	MethodWebSocket DeliveryMethod = "websocket"
	MethodMQTT      DeliveryMethod = "mqtt"
)

// HTTPConfig holds HTTP sink settings.
type HTTPConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// WebSocketConfig holds WebSocket sink settings. MaxConnections == 0
// enables accept-always mode: a broadcast counts as delivered even with
// no clients connected.
type WebSocketConfig struct {
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
}

// MQTTConfig holds MQTT sink settings.
type MQTTConfig struct {
	Broker            string `yaml:"broker" json:"broker"`
	Topic             string `yaml:"topic" json:"topic"`
	QoS               byte   `yaml:"qos" json:"qos"`
	Retain            bool   `yaml:"retain" json:"retain"`
	ClientID          string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	Username          string `yaml:"username,omitempty" json:"username,omitempty"`
	Password          string `yaml:"password,omitempty" json:"password,omitempty"`
	KeepAliveSeconds  int    `yaml:"keep_alive_seconds" json:"keep_alive_seconds"`
	ConnectTimeoutSec int    `yaml:"connection_timeout_seconds" json:"connection_timeout_seconds"`
	AutoReconnect     bool   `yaml:"auto_reconnect" json:"auto_reconnect"`
}

// Config is one configured delivery sink. Exactly one of the per-method
// sections matches Method.
type Config struct {
	ID         string           `yaml:"id" json:"id"`
	Method     DeliveryMethod   `yaml:"method" json:"method"`
	Enabled    bool             `yaml:"enabled" json:"enabled"`
	Priority   int              `yaml:"priority" json:"priority"`
	TimeoutMs  int              `yaml:"timeout_ms" json:"timeout_ms"`
	EventTypes []string         `yaml:"event_types,omitempty" json:"event_types,omitempty"` // empty = all
	Cameras    []string         `yaml:"cameras,omitempty" json:"cameras,omitempty"`         // empty = all
	HTTP       *HTTPConfig      `yaml:"http,omitempty" json:"http,omitempty"`
	WebSocket  *WebSocketConfig `yaml:"websocket,omitempty" json:"websocket,omitempty"`
	MQTT       *MQTTConfig      `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	CreatedAt  time.Time        `yaml:"-" json:"created_at"`
	UpdatedAt  time.Time        `yaml:"-" json:"updated_at"`
}

// Clone returns a deep copy, detached from the router's live state.
func (c *Config) Clone() *Config {
	out := *c
	if c.EventTypes != nil {
		out.EventTypes = append([]string(nil), c.EventTypes...)
	}
	if c.Cameras != nil {
		out.Cameras = append([]string(nil), c.Cameras...)
	}
	if c.HTTP != nil {
		h := *c.HTTP
		if c.HTTP.Headers != nil {
			h.Headers = make(map[string]string, len(c.HTTP.Headers))
			for k, v := range c.HTTP.Headers {
				h.Headers[k] = v
			}
		}
		out.HTTP = &h
	}
	if c.WebSocket != nil {
		ws := *c.WebSocket
		out.WebSocket = &ws
	}
	if c.MQTT != nil {
		m := *c.MQTT
		out.MQTT = &m
	}
	return &out
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("config id is required")
	}
	switch c.Method {
	case MethodHTTP:
		if c.HTTP == nil || c.HTTP.URL == "" {
			return fmt.Errorf("http config requires a url")
		}
	case MethodWebSocket:
		// The embedded hub needs no per-config settings.
	case MethodMQTT:
		if c.MQTT == nil || c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return fmt.Errorf("mqtt config requires broker and topic")
		}
	default:
		return fmt.Errorf("unknown delivery method %q", c.Method)
	}
	return nil
}

// matches reports whether the config's filters admit the payload.
func (c *Config) matches(p *Payload) bool {
	if len(c.EventTypes) > 0 && !contains(c.EventTypes, p.EventType) {
		return false
	}
	if len(c.Cameras) > 0 && !contains(c.Cameras, p.CameraID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// DeliveryResult is the outcome of one (payload, config) dispatch.
// Adapters always return a result, never a panic.
type DeliveryResult struct {
	ConfigID  string         `json:"config_id"`
	Method    DeliveryMethod `json:"method"`
	Success   bool           `json:"success"`
	LatencyMs float64        `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
}

// RoutingResult aggregates the delivery results of one popped payload.
// TotalLatencyMs spans the whole fan-out, so it tracks the slowest sink
// rather than the sum of the parallel attempts.
type RoutingResult struct {
	AlarmID         string           `json:"alarm_id"`
	EventType       string           `json:"event_type"`
	CameraID        string           `json:"camera_id"`
	Priority        int              `json:"priority"`
	DeliveryResults []DeliveryResult `json:"delivery_results"`
	TotalLatencyMs  float64          `json:"total_latency_ms"`
	SuccessCount    int              `json:"success_count"`
	FailureCount    int              `json:"failure_count"`
	Timestamp       time.Time        `json:"timestamp"`
}

// MethodStats is the rolling delivery quality of one sink kind.
type MethodStats struct {
	Deliveries   uint64  `json:"deliveries"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
}

// RouterStats is the router's introspection surface. Dropped counts
// every payload that left the queue without dispatch, both rejected
// newcomers and evicted lower-priority victims; those also count in
// Failed alongside sink delivery failures.
type RouterStats struct {
	Delivered  uint64                         `json:"delivered"`
	Failed     uint64                         `json:"failed"`
	Dropped    uint64                         `json:"dropped"`
	QueueDepth int                            `json:"queue_depth"`
	Methods    map[DeliveryMethod]MethodStats `json:"methods"`
}
