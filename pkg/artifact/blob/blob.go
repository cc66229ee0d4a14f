// Package blob is the external object storage behind large artifacts.
package blob

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// Object describes a stored object.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Bucket stores opaque objects under unique keys.
type Bucket interface {
	// Put writes data under key. When Put returns nil the object is
	// durable.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an object. A missing key yields a NotFound error.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List yields every stored object.
	List(ctx context.Context) iter.Seq2[Object, error]

	// Close releases bucket resources.
	Close() error
}

// NewKey returns a fresh object key.
func NewKey() string {
	return uuid.NewString()
}
