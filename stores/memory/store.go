package memory

import (
	"context"
	"sync"
	"time"

	"collab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type sessionEvent struct {
	ID         string
	DocumentID string
	ActorEmail string
	Kind       string
	CreatedAt  time.Time
}

// memStore keeps document snapshots and session events in process memory.
// Default backend: useful for development and tests.
type memStore struct {
	mu        sync.RWMutex
	documents map[string]core.Document
	events    []sessionEvent
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		documents: make(map[string]core.Document),
	}
}

func (s *memStore) Load(ctx context.Context, id string) (*core.Document, error) {
	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	log := logrus.WithField("document_id", id)
	if !ok {
		log.Debug("no stored snapshot")
		return nil, core.ErrNotFound
	}
	log.WithField("content_length", len(doc.Content)).Debug("snapshot loaded")
	return &doc, nil
}

func (s *memStore) Save(ctx context.Context, id string, content string, updatedAt time.Time) error {
	s.mu.Lock()
	s.documents[id] = core.Document{ID: id, Content: content, UpdatedAt: updatedAt}
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(content),
	}).Debug("snapshot saved")
	return nil
}

func (s *memStore) LogSessionEvent(ctx context.Context, documentID, actorEmail, kind string) error {
	s.mu.Lock()
	s.events = append(s.events, sessionEvent{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		ActorEmail: actorEmail,
		Kind:       kind,
		CreatedAt:  time.Now(),
	})
	s.mu.Unlock()
	return nil
}
