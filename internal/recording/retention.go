package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// RetentionStats holds retention cleanup statistics
type RetentionStats struct {
	RecordingsDeleted int   `json:"recordings_deleted"`
	BytesFreed        int64 `json:"bytes_freed"`
}

// RetentionConfig holds retention policy settings.
type RetentionConfig struct {
	Days            int           `yaml:"days" json:"days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// DefaultRetentionConfig returns the default retention settings.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Days:            30,
		CleanupInterval: time.Hour,
	}
}

// RetentionPolicy removes recordings older than the retention window,
// both the clip files and their metadata rows.
type RetentionPolicy struct {
	mu      sync.Mutex
	cfg     RetentionConfig
	repo    *Repository
	running bool
	stopCh  chan struct{}
	logger  *slog.Logger
}

// NewRetentionPolicy creates a retention policy manager.
func NewRetentionPolicy(cfg RetentionConfig, repo *Repository) *RetentionPolicy {
	if cfg.Days <= 0 {
		cfg.Days = 30
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	return &RetentionPolicy{
		cfg:    cfg,
		repo:   repo,
		stopCh: make(chan struct{}),
		logger: slog.Default().With("component", "retention"),
	}
}

// Start begins periodic cleanup.
func (p *RetentionPolicy) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	go p.runCleanupLoop(ctx)
	return nil
}

// Stop halts periodic cleanup.
func (p *RetentionPolicy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

func (p *RetentionPolicy) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	if _, err := p.RunCleanup(ctx); err != nil {
		p.logger.Error("Initial retention cleanup failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.RunCleanup(ctx); err != nil {
				p.logger.Error("Retention cleanup failed", "error", err)
			}
		}
	}
}

// RunCleanup executes one cleanup cycle and returns what it removed.
func (p *RetentionPolicy) RunCleanup(ctx context.Context) (*RetentionStats, error) {
	stats := &RetentionStats{}
	cutoff := time.Now().AddDate(0, 0, -p.cfg.Days)

	recordings, err := p.repo.ListEndedBefore(ctx, cutoff, 1000)
	if err != nil {
		return stats, fmt.Errorf("failed to list expired recordings: %w", err)
	}

	for _, rec := range recordings {
		if err := p.deleteRecording(ctx, rec); err != nil {
			p.logger.Error("Failed to delete recording", "id", rec.ID, "error", err)
			continue
		}
		stats.RecordingsDeleted++
		stats.BytesFreed += rec.SizeBytes
	}

	if stats.RecordingsDeleted > 0 {
		p.logger.Info("Retention cleanup completed",
			"recordings_deleted", stats.RecordingsDeleted,
			"bytes_freed", stats.BytesFreed,
		)
	}
	return stats, nil
}

// deleteRecording removes the clip file then the metadata row. A file
// that is already gone is not an error.
func (p *RetentionPolicy) deleteRecording(ctx context.Context, rec *Recording) error {
	if err := os.Remove(rec.OutputPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if err := p.repo.Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}
	return nil
}
