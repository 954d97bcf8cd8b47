package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"collab-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// snapshotObject is the S3 object body for one document snapshot.
type snapshotObject struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

// documentKey keeps ids inside the documents/ prefix. Ids that look like
// paths are rejected.
func documentKey(id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return path.Join("documents", id+".json"), nil
}

func (s *s3Store) Load(ctx context.Context, id string) (*core.Document, error) {
	key, err := documentKey(id)
	if err != nil {
		return nil, err
	}

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}

	var snap snapshotObject
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}

	return &core.Document{ID: id, Content: snap.Content, UpdatedAt: snap.UpdatedAt}, nil
}

func (s *s3Store) Save(ctx context.Context, id string, content string, updatedAt time.Time) error {
	key, err := documentKey(id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshotObject{Content: content, UpdatedAt: updatedAt})
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload document %s: %w", id, err)
	}
	return nil
}

// LogSessionEvent is a no-op for S3: an object per join/leave would be
// wasteful, and the event log is best-effort anyway.
func (s *s3Store) LogSessionEvent(ctx context.Context, documentID, actorEmail, kind string) error {
	logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"actor":       actorEmail,
		"kind":        kind,
	}).Debug("session event (not persisted on s3)")
	return nil
}
