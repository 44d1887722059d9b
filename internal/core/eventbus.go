// Package core provides the in-process messaging backbone that ties the
// analysis pipeline, the recorder, and the alarm router together.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Bus subjects.
const (
	// SubjectEvents carries behavior events, one subject per camera:
	// aibox.events.<camera_id>. SubjectEventsAll subscribes to all.
	SubjectEventsPrefix = "aibox.events."
	SubjectEventsAll    = "aibox.events.*"

	// SubjectAlarmDelivered carries routing results after fan-out.
	SubjectAlarmDelivered = "aibox.alarms.delivered"

	SubjectSystemShutdown = "aibox.system.shutdown"
	SubjectConfigChanged  = "aibox.system.config_changed"
)

// EventSubject returns the per-camera behavior event subject.
func EventSubject(cameraID string) string {
	return SubjectEventsPrefix + cameraID
}

// EventBus provides pub/sub messaging between components using an
// embedded NATS server.
type EventBus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   map[string][]*nats.Subscription
	subsMu sync.Mutex
}

// EventBusConfig configures the event bus.
type EventBusConfig struct {
	// Host for the NATS server (default: 127.0.0.1)
	Host string
	// Port for the NATS server (default: 12001)
	Port int
}

// DefaultNATSPort is the embedded bus port.
const DefaultNATSPort = 12001

// DefaultEventBusConfig returns default configuration.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Host: "127.0.0.1",
		Port: DefaultNATSPort,
	}
}

// NewEventBus starts an embedded NATS server and connects to it.
func NewEventBus(cfg EventBusConfig, logger *slog.Logger) (*EventBus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultNATSPort
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	eb := &EventBus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*nats.Subscription),
	}

	logger.Info("Event bus started", "url", ns.ClientURL())
	return eb, nil
}

// Conn returns the NATS connection for direct use.
func (eb *EventBus) Conn() *nats.Conn {
	return eb.conn
}

// ClientURL returns the NATS client URL.
func (eb *EventBus) ClientURL() string {
	return eb.server.ClientURL()
}

// Publish marshals data as JSON and publishes it to a subject.
func (eb *EventBus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return eb.conn.Publish(subject, payload)
}

// PublishRaw publishes raw bytes to a subject.
func (eb *EventBus) PublishRaw(subject string, data []byte) error {
	return eb.conn.Publish(subject, data)
}

// Subscribe subscribes to a subject.
func (eb *EventBus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := eb.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	eb.subsMu.Lock()
	eb.subs[subject] = append(eb.subs[subject], sub)
	eb.subsMu.Unlock()

	return sub, nil
}

// Unsubscribe removes all subscriptions for a subject.
func (eb *EventBus) Unsubscribe(subject string) {
	eb.subsMu.Lock()
	defer eb.subsMu.Unlock()

	if subs, ok := eb.subs[subject]; ok {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
		delete(eb.subs, subject)
	}
}

// HealthCheck verifies the bus connection is alive.
func (eb *EventBus) HealthCheck(ctx context.Context) error {
	if !eb.conn.IsConnected() {
		return fmt.Errorf("NATS connection not active")
	}

	_, err := eb.conn.Request("_health", []byte("ping"), 2*time.Second)
	if err == nats.ErrNoResponders {
		// No responders just means no one is listening.
		return nil
	}
	return err
}

// Stop drains the connection and shuts the server down.
func (eb *EventBus) Stop() {
	_ = eb.conn.Drain()
	eb.server.Shutdown()
	eb.logger.Info("Event bus stopped")
}

// WaitForShutdown blocks until the server shuts down.
func (eb *EventBus) WaitForShutdown() {
	eb.server.WaitForShutdown()
}
