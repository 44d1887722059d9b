package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aibox-vision/aibox/internal/events"
)

// MaxChannelTimeout caps a single delivery attempt regardless of the
// sink's configured timeout.
const MaxChannelTimeout = 10 * time.Second

// DefaultChannelTimeout applies when a sink config carries none.
const DefaultChannelTimeout = 5 * time.Second

// statsAlpha weights the per-method rolling latency and success rate.
const statsAlpha = 0.1

// deliveredSubject is the bus subject routing results are announced on.
const deliveredSubject = "aibox.alarms.delivered"

// Publisher announces routing results on the event bus.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Adapter delivers one payload to one configured sink. Implementations
// must honor the context deadline and always return a result.
type Adapter interface {
	Deliver(ctx context.Context, payload *Payload, cfg *Config) DeliveryResult
}

// ConfigStore persists sink configurations across restarts. The queue
// itself is volatile; only configs survive.
type ConfigStore interface {
	Save(ctx context.Context, cfg *Config) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) ([]*Config, error)
}

type methodEMA struct {
	deliveries  uint64
	latencyMs   float64
	successRate float64
}

// RouterOptions tunes the router. ChannelTimeoutMs is the delivery
// timeout for sinks that carry none of their own; zero falls back to
// DefaultChannelTimeout.
type RouterOptions struct {
	QueueCapacity    int
	HistoryCapacity  int
	ChannelTimeoutMs int
	TestMode         bool
}

// Router owns the alarm pipeline: payloads are enqueued by priority,
// a single worker pops them and fans out to every matching enabled
// sink in parallel. Every popped alarm produces exactly one
// RoutingResult regardless of sink outcomes.
type Router struct {
	opts    RouterOptions
	queue   *alarmQueue
	history *historyRing
	logger  *slog.Logger

	adapters map[DeliveryMethod]Adapter

	mu      sync.RWMutex
	configs map[string]*Config
	store   ConfigStore

	statsMu   sync.Mutex
	delivered uint64
	failed    uint64
	methods   map[DeliveryMethod]*methodEMA

	publisher Publisher

	wg   sync.WaitGroup
	done chan struct{}
}

// NewRouter creates a router with the given sink adapters. store may be
// nil for an in-memory configuration.
func NewRouter(opts RouterOptions, adapters map[DeliveryMethod]Adapter, store ConfigStore) *Router {
	return &Router{
		opts:     opts,
		queue:    newAlarmQueue(opts.QueueCapacity),
		history:  newHistoryRing(opts.HistoryCapacity),
		logger:   slog.Default().With("component", "alarm-router"),
		adapters: adapters,
		configs:  make(map[string]*Config),
		store:    store,
		methods:  make(map[DeliveryMethod]*methodEMA),
		done:     make(chan struct{}),
	}
}

// SetPublisher attaches the event bus. Must be called before Run.
func (r *Router) SetPublisher(p Publisher) {
	r.publisher = p
}

// LoadConfigs restores persisted sink configs.
func (r *Router) LoadConfigs(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	configs, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alarm configs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range configs {
		r.configs[cfg.ID] = cfg
	}
	r.logger.Info("Loaded alarm configs", "count", len(configs))
	return nil
}

// AddConfig registers a sink config.
func (r *Router) AddConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.configs[cfg.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("alarm config %s already exists", cfg.ID)
	}
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	r.configs[cfg.ID] = cfg
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(ctx, cfg); err != nil {
			return fmt.Errorf("failed to persist alarm config: %w", err)
		}
	}
	return nil
}

// UpdateConfig replaces an existing sink config.
func (r *Router) UpdateConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	existing, ok := r.configs[cfg.ID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("alarm config %s not found", cfg.ID)
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now()
	r.configs[cfg.ID] = cfg
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Save(ctx, cfg); err != nil {
			return fmt.Errorf("failed to persist alarm config: %w", err)
		}
	}
	return nil
}

// RemoveConfig deletes a sink config.
func (r *Router) RemoveConfig(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.configs[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("alarm config %s not found", id)
	}
	delete(r.configs, id)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete alarm config: %w", err)
		}
	}
	return nil
}

// GetConfig returns a copy of one sink config. Mutating the returned
// value does not touch the router's state; use UpdateConfig for that.
func (r *Router) GetConfig(id string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// Configs returns copies of all registered sink configs.
func (r *Router) Configs() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg.Clone())
	}
	return out
}

// Raise builds a payload from a behavior event and enqueues it.
func (r *Router) Raise(ev *events.BehaviorEvent) (*Payload, bool) {
	p := NewPayload(ev, r.opts.TestMode)
	return p, r.Enqueue(p)
}

// RaiseTest enqueues a synthetic alarm flagged as a test regardless of
// the router's test mode setting.
func (r *Router) RaiseTest(ev *events.BehaviorEvent) (*Payload, bool) {
	p := NewPayload(ev, true)
	return p, r.Enqueue(p)
}

// Enqueue submits an already-built payload. A false return means the
// queue was full and the alarm was rejected. Rejections and evicted
// victims both count as failures in the router stats; the alarm that
// never reaches a sink failed either way.
func (r *Router) Enqueue(p *Payload) bool {
	accepted, evicted := r.queue.Enqueue(p)
	if accepted && !evicted {
		return true
	}

	r.statsMu.Lock()
	r.failed++
	r.statsMu.Unlock()

	if !accepted {
		r.logger.Warn("Alarm queue full, rejected",
			"alarm_id", p.AlarmID, "priority", p.Priority)
	} else {
		r.logger.Warn("Alarm queue full, evicted lowest priority",
			"alarm_id", p.AlarmID, "priority", p.Priority)
	}
	return accepted
}

// Run pops and dispatches alarms until the context is canceled. An
// in-flight dispatch finishes before Run returns; queued alarms that
// were never popped are abandoned.
func (r *Router) Run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.queue.notify:
		}

		for {
			p := r.queue.Dequeue()
			if p == nil {
				break
			}
			r.dispatch(ctx, p)

			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// Done is closed once the worker has exited.
func (r *Router) Done() <-chan struct{} { return r.done }

// dispatch fans one payload out to every matching enabled sink in
// parallel and records the aggregate routing result.
func (r *Router) dispatch(ctx context.Context, p *Payload) {
	r.mu.RLock()
	targets := make([]*Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.Enabled && cfg.matches(p) {
			targets = append(targets, cfg)
		}
	}
	r.mu.RUnlock()

	start := time.Now()
	results := make([]DeliveryResult, len(targets))
	var wg sync.WaitGroup
	for i, cfg := range targets {
		wg.Add(1)
		go func(i int, cfg *Config) {
			defer wg.Done()
			results[i] = r.deliverOne(ctx, p, cfg)
		}(i, cfg)
	}
	wg.Wait()

	result := RoutingResult{
		AlarmID:         p.AlarmID,
		EventType:       p.EventType,
		CameraID:        p.CameraID,
		Priority:        p.Priority,
		DeliveryResults: results,
		TotalLatencyMs:  float64(time.Since(start).Nanoseconds()) / 1e6,
		Timestamp:       time.Now(),
	}
	for _, dr := range results {
		if dr.Success {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	r.history.Add(result)
	r.recordStats(results)

	if r.publisher != nil {
		if err := r.publisher.Publish(deliveredSubject, result); err != nil {
			r.logger.Warn("Failed to publish routing result",
				"alarm_id", p.AlarmID, "error", err)
		}
	}

	if result.FailureCount > 0 {
		r.logger.Warn("Alarm routed with failures",
			"alarm_id", p.AlarmID,
			"succeeded", result.SuccessCount,
			"failed", result.FailureCount)
	} else {
		r.logger.Debug("Alarm routed",
			"alarm_id", p.AlarmID, "sinks", len(results))
	}
}

func (r *Router) deliverOne(ctx context.Context, p *Payload, cfg *Config) DeliveryResult {
	adapter, ok := r.adapters[cfg.Method]
	if !ok {
		return DeliveryResult{
			ConfigID: cfg.ID,
			Method:   cfg.Method,
			Error:    fmt.Sprintf("no adapter for method %s", cfg.Method),
		}
	}

	timeout := DefaultChannelTimeout
	if r.opts.ChannelTimeoutMs > 0 {
		timeout = time.Duration(r.opts.ChannelTimeoutMs) * time.Millisecond
	}
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if timeout > MaxChannelTimeout {
		timeout = MaxChannelTimeout
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return adapter.Deliver(dctx, p, cfg)
}

func (r *Router) recordStats(results []DeliveryResult) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	for _, dr := range results {
		if dr.Success {
			r.delivered++
		} else {
			r.failed++
		}

		ema, ok := r.methods[dr.Method]
		if !ok {
			ema = &methodEMA{}
			r.methods[dr.Method] = ema
		}
		ema.deliveries++

		outcome := 0.0
		if dr.Success {
			outcome = 1.0
		}
		if ema.deliveries == 1 {
			ema.latencyMs = dr.LatencyMs
			ema.successRate = outcome
			continue
		}
		ema.latencyMs = statsAlpha*dr.LatencyMs + (1-statsAlpha)*ema.latencyMs
		ema.successRate = statsAlpha*outcome + (1-statsAlpha)*ema.successRate
	}
}

// History returns the retained routing results, newest first.
func (r *Router) History() []RoutingResult {
	return r.history.Snapshot()
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() RouterStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	methods := make(map[DeliveryMethod]MethodStats, len(r.methods))
	for m, ema := range r.methods {
		methods[m] = MethodStats{
			Deliveries:   ema.deliveries,
			AvgLatencyMs: ema.latencyMs,
			SuccessRate:  ema.successRate,
		}
	}
	return RouterStats{
		Delivered:  r.delivered,
		Failed:     r.failed,
		Dropped:    r.queue.Dropped(),
		QueueDepth: r.queue.Len(),
		Methods:    methods,
	}
}
