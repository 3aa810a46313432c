package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore keeps content as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	presignExpiry time.Duration
}

// NewGCSStore creates a store on bucket.
func NewGCSStore(client *storage.Client, bucket string, presignExpiry time.Duration) *GCSStore {
	return &GCSStore{client: client, bucket: bucket, presignExpiry: presignExpiry}
}

// Exists reports whether the object is present.
func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return true, nil
}

// Save writes r to the object in a single request.
func (s *GCSStore) Save(ctx context.Context, name string, r io.Reader, _ int64) error {
	head, body, err := peek(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = ContentType(name, head)

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return nil
}

// Open streams the object body.
func (s *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return rc, nil
}

// URL returns a V4 signed GET URL for name.
func (s *GCSStore) URL(_ context.Context, name string) (string, error) {
	return s.client.Bucket(s.bucket).SignedURL(path.Clean(name), &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(s.presignExpiry),
		Scheme:  storage.SigningSchemeV4,
	})
}

// ListPrefix returns every object name under prefix.
func (s *GCSStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Delete removes a single object; a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, name string) error {
	err := s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}
