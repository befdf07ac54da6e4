package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/googleapi"
)

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GCSObjectStore keeps original uploads in one bucket. Writes are conditional
// on the object not existing, so a redelivered upload is a no-op.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

func NewGCSObjectStore(client *storage.Client, bucket string, logger *slog.Logger) *GCSObjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSObjectStore{client: client, bucket: bucket, logger: logger}
}

func (s *GCSObjectStore) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path).Retryer(
		storage.WithBackoff(gax.Backoff{Initial: 200 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2}),
		storage.WithPolicy(storage.RetryIdempotent),
	)
}

func (s *GCSObjectStore) GetBytes(ctx context.Context, path string) ([]byte, error) {
	r, err := s.object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.bucket, path, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, path, err)
	}
	return b, nil
}

func (s *GCSObjectStore) PutBytes(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	w := s.object(path).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.Metadata = metadata
	if ct, ok := metadata["contentType"]; ok {
		w.ContentType = ct
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return s.writeErr(path, err)
	}
	if err := w.Close(); err != nil {
		return s.writeErr(path, err)
	}
	return nil
}

func (s *GCSObjectStore) writeErr(path string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		s.logger.Info("Object already exists, skipping write.", "object", path)
		return nil
	}
	s.logger.Error("Failed to write GCS object.", "object", path, "error", err)
	return fmt.Errorf("failed to write to GCS: %w", err)
}
