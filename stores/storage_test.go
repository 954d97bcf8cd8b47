package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"collab-server/core"
)

func TestGetStoreDefaultsToMemory(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "")
	store := GetStore()
	if store == nil {
		t.Fatal("GetStore returned nil")
	}

	ctx := context.Background()
	if err := store.Save(ctx, "doc-1", "x", time.Now()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	doc, err := store.Load(ctx, "doc-1")
	if err != nil || doc.Content != "x" {
		t.Errorf("Roundtrip failed: %+v, %v", doc, err)
	}
}

func TestGetStoreFilesystem(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "filesystem")
	t.Setenv("LOCAL_STORAGE_PATH", t.TempDir())
	store := GetStore()

	ctx := context.Background()
	if _, err := store.Load(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from a fresh filesystem store, got %v", err)
	}
}

func TestGetStoreSQLite(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("DATA_SOURCE_NAME", t.TempDir()+"/test.db")
	store := GetStore()

	ctx := context.Background()
	if err := store.Save(ctx, "doc-1", "x", time.Now()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.LogSessionEvent(ctx, "doc-1", "alice@example.com", "join"); err != nil {
		t.Fatalf("LogSessionEvent failed: %v", err)
	}
}
