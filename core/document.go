package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by DocumentStore.Load when no snapshot exists
// for the requested document id.
var ErrNotFound = errors.New("document not found")

type (
	// Document is a durable full-content snapshot of one document.
	Document struct {
		ID        string    `json:"id"`
		Content   string    `json:"content"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// DocumentStore is the external persistence collaborator for room
	// content. Writes are idempotent full-snapshot overwrites; the room's
	// in-memory content stays authoritative whether or not Save succeeds.
	DocumentStore interface {
		// Load returns the stored snapshot, or ErrNotFound if the document
		// has never been saved.
		Load(ctx context.Context, id string) (*Document, error)

		// Save overwrites the stored snapshot for a document.
		Save(ctx context.Context, id string, content string, updatedAt time.Time) error
	}

	// SessionEventLogger records join/leave activity. Best effort: callers
	// fire and forget, failures are logged and dropped.
	SessionEventLogger interface {
		LogSessionEvent(ctx context.Context, documentID, actorEmail, kind string) error
	}
)
