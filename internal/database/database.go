// Package database provides SQLite access for the video analytics
// appliance: behavior events, event recordings and alarm delivery
// configurations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Pool defaults sized for an embedded appliance: a handful of API
// readers plus the recorder and event writers.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute

	healthTimeout = 5 * time.Second
)

// connPragmas rides on the DSN so every pooled connection gets WAL,
// relaxed sync and foreign keys without a per-connection hook.
const connPragmas = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"

// DB wraps the SQLite handle with appliance-specific helpers.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Config holds database settings. Zero pool values fall back to the
// appliance defaults.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default database configuration rooted in
// dataDir.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Path:            filepath.Join(dataDir, "aibox.db"),
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
	}
}

// Open opens the database file, creating its directory if needed, and
// verifies the connection before returning.
func Open(cfg *Config) (*DB, error) {
	logger := slog.Default().With("component", "database")

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", cfg.Path, connPragmas))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Tuning pragmas are best effort; the appliance runs fine without
	// them, just slower.
	for _, pragma := range []string{
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("Failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	logger.Info("Database opened", "path", cfg.Path)
	return &DB{DB: db, path: cfg.Path, logger: logger}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.logger.Info("Closing database")
	return db.DB.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Health pings the database with a bounded timeout.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return db.PingContext(ctx)
}

// Stats returns the connection pool statistics.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// GetSize returns the database file size in bytes, excluding the WAL.
func (db *DB) GetSize() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Transaction runs fn inside a transaction, rolling back on error.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Checkpoint truncates the WAL back into the main file.
func (db *DB) Checkpoint(ctx context.Context) error {
	_, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Vacuum rewrites the database file to reclaim space freed by retention
// deletes.
func (db *DB) Vacuum(ctx context.Context) error {
	db.logger.Info("Starting database vacuum")
	start := time.Now()

	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}

	db.logger.Info("Database vacuum completed", "duration", time.Since(start))
	return nil
}

// Analyze refreshes the query planner statistics.
func (db *DB) Analyze(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze failed: %w", err)
	}
	return nil
}

// Maintain runs the full maintenance sweep: checkpoint the WAL, vacuum
// and refresh planner statistics. Intended for the admin maintenance
// endpoint and quiet hours, not the hot path.
func (db *DB) Maintain(ctx context.Context) error {
	if err := db.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	if err := db.Vacuum(ctx); err != nil {
		return err
	}
	return db.Analyze(ctx)
}
