package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yairfalse/permitwatch/pkg/types"
)

// GCSStore keeps the document in a Google Cloud Storage object
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSStore creates a store for gs://bucket/object. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS or the ambient environment.
func NewGCSStore(ctx context.Context, loc Location) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if file := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: loc.Host, object: loc.Path}, nil
}

func (s *GCSStore) Load(ctx context.Context) (types.Store, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create reader for %s: %w", s.Location(), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Location(), err)
	}
	return decodeStore(data)
}

func (s *GCSStore) Save(ctx context.Context, store types.Store) error {
	data, err := encodeStore(store)
	if err != nil {
		return err
	}

	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write %s: %w", s.Location(), err)
	}
	// the object is only replaced once Close succeeds
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.Location(), err)
	}
	return nil
}

func (s *GCSStore) Location() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
