package alarm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aibox-vision/aibox/internal/database"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return NewSQLiteStore(db)
}

func storedConfig(id string) *Config {
	now := time.Now()
	return &Config{
		ID:        id,
		Method:    MethodHTTP,
		Enabled:   true,
		Priority:  3,
		TimeoutMs: 2000,
		HTTP: &HTTPConfig{
			URL:     "https://alerts.example.com/hook",
			Headers: map[string]string{"Authorization": "Bearer token"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSQLiteStore_SaveAndLoad(t *testing.T) {
	store := setupTestStore(t)

	cfg := storedConfig("hook1")
	if err := store.Save(context.Background(), cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	configs, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("Expected 1 config, got %d", len(configs))
	}

	got := configs[0]
	if got.ID != "hook1" || got.Method != MethodHTTP {
		t.Errorf("Unexpected config %+v", got)
	}
	if got.HTTP == nil || got.HTTP.URL != cfg.HTTP.URL {
		t.Error("Expected http settings restored")
	}
	if got.HTTP.Headers["Authorization"] != "Bearer token" {
		t.Error("Expected headers restored")
	}
}

func TestSQLiteStore_SaveUpserts(t *testing.T) {
	store := setupTestStore(t)

	cfg := storedConfig("hook1")
	if err := store.Save(context.Background(), cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg.Enabled = false
	cfg.UpdatedAt = cfg.UpdatedAt.Add(time.Minute)
	if err := store.Save(context.Background(), cfg); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	configs, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("Expected 1 config after upsert, got %d", len(configs))
	}
	if configs[0].Enabled {
		t.Error("Expected upserted config disabled")
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Save(context.Background(), storedConfig("hook1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(context.Background(), "hook1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(context.Background(), "hook1"); err == nil {
		t.Error("Expected error deleting missing config")
	}
}

func TestRouter_LoadConfigsFromStore(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Save(context.Background(), storedConfig("hook1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	r := NewRouter(RouterOptions{}, nil, store)
	if err := r.LoadConfigs(context.Background()); err != nil {
		t.Fatalf("LoadConfigs failed: %v", err)
	}
	if _, ok := r.GetConfig("hook1"); !ok {
		t.Error("Expected persisted config restored into the router")
	}
}
