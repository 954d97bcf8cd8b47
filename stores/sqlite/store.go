package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"collab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	docTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err = db.Exec(docTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	eventTableStmt := `
	CREATE TABLE IF NOT EXISTS session_events (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		actor_email TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err = db.Exec(eventTableStmt); err != nil {
		log.Fatalf("failed to create session_events table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) Load(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	doc := core.Document{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT content, updated_at FROM documents WHERE id = ?", id,
	).Scan(&doc.Content, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("no stored snapshot")
			return nil, core.ErrNotFound
		}
		log.WithError(err).Error("failed to load document")
		return nil, err
	}

	log.WithField("content_length", len(doc.Content)).Debug("snapshot loaded")
	return &doc, nil
}

func (s *sqliteStore) Save(ctx context.Context, id string, content string, updatedAt time.Time) error {
	log := logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(content),
	})

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		id, content, updatedAt)
	if err != nil {
		log.WithError(err).Error("failed to save document")
		return err
	}

	log.Debug("snapshot saved")
	return nil
}

func (s *sqliteStore) LogSessionEvent(ctx context.Context, documentID, actorEmail, kind string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO session_events (id, document_id, actor_email, kind, created_at) VALUES (?, ?, ?, ?, ?)",
		ulid.Make().String(), documentID, actorEmail, kind, time.Now())
	return err
}
