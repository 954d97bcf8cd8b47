package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"collab-server/core"
)

func TestLoadMissingDocument(t *testing.T) {
	store := NewStore()
	_, err := store.Load(context.Background(), "nope")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	if err := store.Save(ctx, "doc-1", "hello", now); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	doc, err := store.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.ID != "doc-1" || doc.Content != "hello" || !doc.UpdatedAt.Equal(now) {
		t.Errorf("Document mismatch: %+v", doc)
	}
}

func TestSaveOverwrites(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_ = store.Save(ctx, "doc-1", "first", time.Now())
	_ = store.Save(ctx, "doc-1", "second", time.Now())

	doc, err := store.Load(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Content != "second" {
		t.Errorf("Expected latest content, got %q", doc.Content)
	}
}

func TestLogSessionEvent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.LogSessionEvent(ctx, "doc-1", "alice@example.com", "join"); err != nil {
		t.Fatalf("LogSessionEvent failed: %v", err)
	}
	if err := store.LogSessionEvent(ctx, "doc-1", "alice@example.com", "leave"); err != nil {
		t.Fatalf("LogSessionEvent failed: %v", err)
	}

	store.mu.RLock()
	defer store.mu.RUnlock()
	if len(store.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(store.events))
	}
	if store.events[0].Kind != "join" || store.events[1].Kind != "leave" {
		t.Errorf("Event kinds mismatch: %+v", store.events)
	}
	if store.events[0].ID == store.events[1].ID {
		t.Error("Events share an id")
	}
}
