package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrator_Run(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db)

	if err := migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}
	if count == 0 {
		t.Error("Expected applied migrations recorded in the ledger")
	}

	// Idempotent on re-run.
	if err := migrator.Run(context.Background()); err != nil {
		t.Fatalf("Second Run failed: %v", err)
	}
	var again int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&again); err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}
	if again != count {
		t.Errorf("Expected ledger unchanged on re-run, got %d then %d", count, again)
	}
}

func TestMigrator_GetStatus(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db)

	// Before running, every step is pending.
	status, err := migrator.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if len(status) == 0 {
		t.Fatal("Expected embedded migration steps")
	}
	for _, m := range status {
		if m.Applied || !m.AppliedAt.IsZero() {
			t.Errorf("Migration %d should be pending before Run", m.Version)
		}
	}

	if err := migrator.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	status, err = migrator.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	for _, m := range status {
		if !m.Applied || m.AppliedAt.IsZero() {
			t.Errorf("Migration %d should be applied with a timestamp", m.Version)
		}
		if m.Name == "" {
			t.Errorf("Migration %d should have a name", m.Version)
		}
	}
}

func TestMigrator_EmbeddedStepsSorted(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db)

	steps, err := migrator.embeddedSteps()
	if err != nil {
		t.Fatalf("embeddedSteps failed: %v", err)
	}
	if len(steps) == 0 {
		t.Fatal("Expected at least one embedded step")
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].Version <= steps[i-1].Version {
			t.Error("Expected steps sorted by ascending version")
		}
	}
	for _, m := range steps {
		if m.Version == 0 || m.Name == "" || m.SQL == "" {
			t.Errorf("Incomplete step: %+v", m)
		}
	}
}

func TestMigrator_AppliedVersions(t *testing.T) {
	db := openTestDB(t)
	migrator := NewMigrator(db)

	if err := migrator.ensureLedger(context.Background()); err != nil {
		t.Fatalf("ensureLedger failed: %v", err)
	}

	applied, err := migrator.appliedVersions(context.Background())
	if err != nil {
		t.Fatalf("appliedVersions failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Expected empty ledger, got %d entries", len(applied))
	}

	_, err = db.Exec("INSERT INTO schema_migrations (version, name, applied_at) VALUES (1, 'test', ?)",
		time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to insert ledger row: %v", err)
	}

	applied, err = migrator.appliedVersions(context.Background())
	if err != nil {
		t.Fatalf("appliedVersions failed: %v", err)
	}
	if at, ok := applied[1]; !ok || at.IsZero() {
		t.Errorf("Expected version 1 recorded with a timestamp, got %v", applied)
	}
}
