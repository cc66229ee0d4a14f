// Package mem is an in-process blob.Bucket.
package mem

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/spool/pkg/artifact/blob"
	"github.com/papercomputeco/spool/pkg/storage"
)

type object struct {
	data    []byte
	modTime time.Time
}

// Bucket keeps objects in a map.
type Bucket struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

// New returns an empty bucket. now defaults to time.Now.
func New(now func() time.Time) *Bucket {
	if now == nil {
		now = time.Now
	}
	return &Bucket{objects: make(map[string]object), now: now}
}

// Put stores a copy of data.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return storage.Failure("put object", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = object{data: slices.Clone(data), modTime: b.now()}
	return nil
}

// Get returns a copy of the object.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("get object", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.objects[key]
	if !ok {
		return nil, storage.NotFound("get object", "object %s not found", key)
	}
	return slices.Clone(o.data), nil
}

// Delete drops the object.
func (b *Bucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

// List yields a snapshot of the stored objects in key order.
func (b *Bucket) List(_ context.Context) iter.Seq2[blob.Object, error] {
	b.mu.RLock()
	keys := slices.Sorted(maps.Keys(b.objects))
	objs := make([]blob.Object, len(keys))
	for i, k := range keys {
		o := b.objects[k]
		objs[i] = blob.Object{Key: k, Size: int64(len(o.data)), ModTime: o.modTime}
	}
	b.mu.RUnlock()

	return func(yield func(blob.Object, error) bool) {
		for _, o := range objs {
			if !yield(o, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored objects.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Close is a no-op.
func (b *Bucket) Close() error {
	return nil
}
