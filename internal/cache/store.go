package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when the named blob does not exist.
var ErrNotFound = errors.New("cache entry not found")

// Store persists opaque named blobs for the Manager. Names are already
// hashed and carry the ".json" suffix.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// Flusher is implemented by stores that can drop their whole namespace
// without listing it first.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}
