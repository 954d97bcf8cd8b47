package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"collab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type fsStore struct {
	basePath string
}

// snapshotFile is the on-disk shape of one document snapshot.
type snapshotFile struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type eventLine struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	ActorEmail string    `json:"actorEmail"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	if err := os.MkdirAll(filepath.Join(basePath, "documents"), 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &fsStore{basePath: basePath}
}

// documentPath keeps ids inside the documents directory. Ids containing
// path separators or dot segments are rejected.
func (s *fsStore) documentPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return filepath.Join(s.basePath, "documents", id+".json"), nil
}

func (s *fsStore) Load(ctx context.Context, id string) (*core.Document, error) {
	path, err := s.documentPath(id)
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("document_id", id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("no stored snapshot")
			return nil, core.ErrNotFound
		}
		log.WithError(err).Error("failed to read snapshot")
		return nil, err
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		log.WithError(err).Error("failed to decode snapshot")
		return nil, fmt.Errorf("decode snapshot for %s: %w", id, err)
	}

	log.WithField("content_length", len(snap.Content)).Debug("snapshot loaded")
	return &core.Document{ID: id, Content: snap.Content, UpdatedAt: snap.UpdatedAt}, nil
}

// Save writes the snapshot through a temp file so a crash mid-write never
// leaves a truncated document behind.
func (s *fsStore) Save(ctx context.Context, id string, content string, updatedAt time.Time) error {
	path, err := s.documentPath(id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshotFile{Content: content, UpdatedAt: updatedAt})
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", id, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot for %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot for %s: %w", id, err)
	}

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(content),
	}).Debug("snapshot saved")
	return nil
}

func (s *fsStore) LogSessionEvent(ctx context.Context, documentID, actorEmail, kind string) error {
	line, err := json.Marshal(eventLine{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		ActorEmail: actorEmail,
		Kind:       kind,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(s.basePath, "events.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}
