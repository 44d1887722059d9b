package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// DefaultMQTTTopic receives alarm payloads when a config names none.
	DefaultMQTTTopic = "aibox/alarms"

	mqttInitialBackoff = time.Second
	mqttMaxBackoff     = 30 * time.Second
	mqttBackoffJitter  = 0.2
	mqttConnectTimeout = 5 * time.Second
)

// mqttSession tracks one broker connection and its reconnect backoff.
type mqttSession struct {
	mu          sync.Mutex
	client      mqtt.Client
	backoff     time.Duration
	nextAttempt time.Time
}

// MQTTAdapter publishes alarm payloads to MQTT brokers. Connections
// are established lazily on first publish and reconnected with capped
// exponential backoff; while a session is inside its backoff window,
// deliveries fail fast instead of blocking the fan-out.
type MQTTAdapter struct {
	mu       sync.Mutex
	sessions map[string]*mqttSession
	logger   *slog.Logger
}

// NewMQTTAdapter creates the MQTT sink adapter.
func NewMQTTAdapter() *MQTTAdapter {
	return &MQTTAdapter{
		sessions: make(map[string]*mqttSession),
		logger:   slog.Default().With("component", "alarm-mqtt"),
	}
}

// Deliver publishes the payload to the configured broker and topic.
func (a *MQTTAdapter) Deliver(ctx context.Context, p *Payload, cfg *Config) DeliveryResult {
	result := DeliveryResult{ConfigID: cfg.ID, Method: MethodMQTT}
	start := time.Now()

	data, err := p.Encode()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	session := a.session(cfg.ID)
	client, err := session.connectedClient(cfg, a.logger)
	if err != nil {
		result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		result.Error = err.Error()
		return result
	}

	topic := cfg.MQTT.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}

	token := client.Publish(topic, cfg.MQTT.QoS, cfg.MQTT.Retain, data)
	timeout := publishTimeout(ctx)
	if !token.WaitTimeout(timeout) {
		result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		result.Error = fmt.Sprintf("publish to %s timed out", topic)
		return result
	}
	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err := token.Error(); err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}

// Close disconnects every broker session.
func (a *MQTTAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		s.mu.Lock()
		if s.client != nil && s.client.IsConnected() {
			s.client.Disconnect(250)
		}
		s.client = nil
		s.mu.Unlock()
	}
}

func (a *MQTTAdapter) session(configID string) *mqttSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[configID]
	if !ok {
		s = &mqttSession{}
		a.sessions[configID] = s
	}
	return s
}

// connectedClient returns a live client, connecting lazily. A failed
// connect arms the backoff window; callers inside the window get an
// immediate error.
func (s *mqttSession) connectedClient(cfg *Config, logger *slog.Logger) (mqtt.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.client.IsConnected() {
		return s.client, nil
	}
	if s.client != nil && !cfg.MQTT.AutoReconnect {
		return nil, fmt.Errorf("broker %s disconnected and auto_reconnect disabled", cfg.MQTT.Broker)
	}
	if now := time.Now(); now.Before(s.nextAttempt) {
		return nil, fmt.Errorf("broker %s in reconnect backoff for %s",
			cfg.MQTT.Broker, s.nextAttempt.Sub(now).Round(time.Millisecond))
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "aibox-alarm-" + cfg.ID
	}
	opts.SetClientID(clientID)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	if cfg.MQTT.KeepAliveSeconds > 0 {
		opts.SetKeepAlive(time.Duration(cfg.MQTT.KeepAliveSeconds) * time.Second)
	}
	// Reconnection is driven here on the publish path, not by paho.
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", cfg.MQTT.Broker, "error", err)
	})

	connectTimeout := mqttConnectTimeout
	if cfg.MQTT.ConnectTimeoutSec > 0 {
		connectTimeout = time.Duration(cfg.MQTT.ConnectTimeoutSec) * time.Second
	}
	opts.SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		s.armBackoff()
		err := token.Error()
		if err == nil {
			err = fmt.Errorf("connect timed out after %s", connectTimeout)
		}
		logger.Warn("MQTT connect failed",
			"broker", cfg.MQTT.Broker, "retry_in", s.backoff, "error", err)
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.MQTT.Broker, err)
	}

	s.client = client
	s.backoff = 0
	s.nextAttempt = time.Time{}
	logger.Info("MQTT connected", "broker", cfg.MQTT.Broker, "client_id", clientID)
	return client, nil
}

// armBackoff doubles the reconnect delay up to the cap with +/-20%
// jitter so a fleet of appliances does not reconnect in lockstep.
func (s *mqttSession) armBackoff() {
	if s.backoff <= 0 {
		s.backoff = mqttInitialBackoff
	} else {
		s.backoff *= 2
		if s.backoff > mqttMaxBackoff {
			s.backoff = mqttMaxBackoff
		}
	}
	jitter := 1 + mqttBackoffJitter*(2*rand.Float64()-1)
	s.nextAttempt = time.Now().Add(time.Duration(float64(s.backoff) * jitter))
}

func publishTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return DefaultChannelTimeout
}
