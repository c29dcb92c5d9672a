// Package gcs provides a cache store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/exercise-crawler/internal/cache"
)

const contentType = "application/json"

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Store reads and writes cache entries as objects in a bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ cache.Store = (*Store)(nil)

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *Store) object(name string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + name)
}

// Get downloads the named entry.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	r, err := s.object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Put uploads data in a single object write. GCS replaces the object
// atomically when the writer closes.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	writer := s.object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Delete removes the named entry.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// List enumerates entries under the prefix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		names = append(names, strings.TrimPrefix(attrs.Name, s.prefix))
	}
	return names, nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
