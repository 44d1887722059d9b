package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aibox-vision/aibox/internal/database"
)

// SQLiteStore persists sink configs in the alarm_configs table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates the config store.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save inserts or replaces a sink config.
func (s *SQLiteStore) Save(ctx context.Context, cfg *Config) error {
	blob, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode alarm config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alarm_configs (id, method, enabled, priority, timeout_ms, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			method = excluded.method,
			enabled = excluded.enabled,
			priority = excluded.priority,
			timeout_ms = excluded.timeout_ms,
			config = excluded.config,
			updated_at = excluded.updated_at
	`, cfg.ID, string(cfg.Method), cfg.Enabled, cfg.Priority, cfg.TimeoutMs,
		string(blob), cfg.CreatedAt.UnixMilli(), cfg.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save alarm config: %w", err)
	}
	return nil
}

// Delete removes a sink config.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alarm_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alarm config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("alarm config %s not found", id)
	}
	return nil
}

// Load returns every persisted sink config.
func (s *SQLiteStore) Load(ctx context.Context) ([]*Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config, created_at, updated_at FROM alarm_configs ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load alarm configs: %w", err)
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		var blob string
		var createdAt, updatedAt int64
		if err := rows.Scan(&blob, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alarm config: %w", err)
		}
		var cfg Config
		if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode alarm config: %w", err)
		}
		cfg.CreatedAt = time.UnixMilli(createdAt)
		cfg.UpdatedAt = time.UnixMilli(updatedAt)
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}
