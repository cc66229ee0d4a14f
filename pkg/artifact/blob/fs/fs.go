// Package fs is a blob.Bucket on the local filesystem. Objects are written
// to a temporary file, synced and renamed into place, and the parent
// directory is synced, so a crash never leaves a partial object under a
// live key.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/papercomputeco/spool/pkg/artifact/blob"
	"github.com/papercomputeco/spool/pkg/storage"
)

const (
	objectSuffix = ".blob"
	tempPrefix   = ".tmp-"
)

// Bucket stores objects under root, fanned out by the first two characters
// of the key.
type Bucket struct {
	root string
}

// New creates the root directory if needed and returns a bucket over it.
func New(root string) (*Bucket, error) {
	if root == "" {
		return nil, errors.New("blob root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Bucket{root: root}, nil
}

// Root returns the bucket directory.
func (b *Bucket) Root() string {
	return b.root
}

func (b *Bucket) path(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.root, key[:2], key+objectSuffix), nil
}

// Put writes data durably under key.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return storage.Failure("put object", err)
	}
	p, err := b.path(key)
	if err != nil {
		return storage.Invalid("put object", err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storage.Failure("put object", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return storage.Failure("put object", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return storage.Failure("put object", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return storage.Failure("put object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storage.Failure("put object", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return storage.Failure("put object", err)
	}
	return storage.Failure("put object", syncDir(dir))
}

// Get reads the object stored under key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("get object", err)
	}
	p, err := b.path(key)
	if err != nil {
		return nil, storage.Invalid("get object", err)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.NotFound("get object", "object %s not found", key)
	}
	if err != nil {
		return nil, storage.Failure("get object", err)
	}
	return data, nil
}

// Delete removes the object stored under key.
func (b *Bucket) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return storage.Invalid("delete object", err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storage.Failure("delete object", err)
	}
	return nil
}

// List walks the bucket and yields every committed object. Temporary
// files of in-flight writes are skipped.
func (b *Bucket) List(ctx context.Context) iter.Seq2[blob.Object, error] {
	return func(yield func(blob.Object, error) bool) {
		stop := errors.New("stop")
		err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, objectSuffix) {
				return nil
			}
			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			obj := blob.Object{
				Key:     strings.TrimSuffix(name, objectSuffix),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			if !yield(obj, nil) {
				return stop
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(blob.Object{}, storage.Failure("list objects", err))
		}
	}
}

// Close is a no-op.
func (b *Bucket) Close() error {
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
