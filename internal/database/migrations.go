package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step. Applied and AppliedAt come
// from the schema_migrations ledger; the SQL itself never leaves the
// package.
type Migration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	SQL       string    `json:"-"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

// Migrator applies the embedded schema steps in version order. Steps
// are append-only; there is no rollback direction, the appliance only
// ever moves the schema forward.
type Migrator struct {
	db     *DB
	logger *slog.Logger
}

func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:     db,
		logger: slog.Default().With("component", "migrator"),
	}
}

// Run applies every step the ledger has not recorded yet. Each step
// runs in its own transaction, so a failing step leaves all earlier
// ones committed.
func (m *Migrator) Run(ctx context.Context) error {
	steps, err := m.status(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, step := range steps {
		if step.Applied {
			continue
		}
		if err := m.apply(ctx, step); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", step.Version, step.Name, err)
		}
		m.logger.Info("Applied migration", "version", step.Version, "name", step.Name)
		applied++
	}

	if applied == 0 {
		m.logger.Debug("Schema up to date", "steps", len(steps))
	} else {
		m.logger.Info("Schema migrated", "applied", applied, "steps", len(steps))
	}
	return nil
}

// GetStatus reports every embedded step merged with the ledger, in
// version order.
func (m *Migrator) GetStatus(ctx context.Context) ([]Migration, error) {
	return m.status(ctx)
}

func (m *Migrator) status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	steps, err := m.embeddedSteps()
	if err != nil {
		return nil, err
	}

	for i := range steps {
		if at, ok := applied[steps[i].Version]; ok {
			steps[i].Applied = true
			steps[i].AppliedAt = at
		}
	}
	return steps, nil
}

// ensureLedger creates the schema_migrations ledger on first use.
func (m *Migrator) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		) STRICT
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at int64
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = time.Unix(at, 0)
	}
	return applied, rows.Err()
}

// embeddedSteps parses the NNN_name.sql files baked into the binary.
// Files that do not match the naming scheme are skipped with a warning
// rather than failing startup.
func (m *Migrator) embeddedSteps() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var steps []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			m.logger.Warn("Ignoring migration without version prefix", "file", entry.Name())
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			m.logger.Warn("Ignoring migration with non-numeric version", "file", entry.Name())
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		steps = append(steps, Migration{
			Version: version,
			Name:    strings.TrimSuffix(rest, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	return steps, nil
}

// apply runs one step and records it in the ledger atomically.
func (m *Migrator) apply(ctx context.Context, step Migration) error {
	return m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			step.Version, step.Name,
		)
		return err
	})
}
