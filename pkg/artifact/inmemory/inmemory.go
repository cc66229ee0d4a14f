// Package inmemory is a process-local artifact.Store. Inline payloads are
// kept in the metadata records; external payloads go to a blob.Bucket, an
// in-process one unless another is configured.
package inmemory

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/artifact/blob"
	"github.com/papercomputeco/spool/pkg/artifact/blob/mem"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Config holds configuration for the in-memory store.
type Config struct {
	artifact.Options

	// Bucket receives external payloads. Nil means an in-process bucket.
	Bucket blob.Bucket

	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type version struct {
	meta   artifact.Artifact
	inline []byte
}

// Store implements artifact.Store with maps guarded by one mutex. The mutex
// is never held across bucket calls.
type Store struct {
	opts   artifact.Options
	bucket blob.Bucket
	logger *slog.Logger
	now    func() time.Time

	mu sync.RWMutex

	// artifacts maps session -> name -> versions in ascending order
	artifacts map[session.Identity]map[string][]version
}

// New creates an empty store.
func New(config Config) *Store {
	s := &Store{
		opts:      config.Options.Normalize(),
		bucket:    config.Bucket,
		logger:    logger.OrNop(config.Logger),
		now:       config.Clock,
		artifacts: make(map[session.Identity]map[string][]version),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.bucket == nil {
		s.bucket = mem.New(s.now)
	}
	return s
}

// Save stores data as the next version of name.
func (s *Store) Save(ctx context.Context, id session.Identity, name string, data []byte) (int, error) {
	const op = "save artifact"
	if err := artifact.Validate(op, id, name, 0); err != nil {
		return 0, err
	}
	p, err := artifact.Prepare(data, s.opts)
	if err != nil {
		return 0, storage.Failure(op, err)
	}

	meta := artifact.Artifact{
		Identity:  id,
		Name:      name,
		Size:      p.Size,
		Location:  p.Location,
		Codec:     p.Codec,
		Digest:    p.Digest,
		CreatedAt: storage.Timestamp(s.now()),
	}
	rec := version{meta: meta}
	if p.Location == artifact.LocationExternal {
		rec.meta.Key = blob.NewKey()
		if err := s.bucket.Put(ctx, rec.meta.Key, p.Data); err != nil {
			return 0, storage.Failure(op, err)
		}
	} else {
		rec.inline = slices.Clone(p.Data)
	}

	if err := ctx.Err(); err != nil {
		s.discard(rec.meta.Key)
		return 0, storage.Failure(op, err)
	}

	s.mu.Lock()
	byName, ok := s.artifacts[id]
	if !ok {
		byName = make(map[string][]version)
		s.artifacts[id] = byName
	}
	versions := byName[name]
	rec.meta.Version = 1
	if n := len(versions); n > 0 {
		rec.meta.Version = versions[n-1].meta.Version + 1
	}
	byName[name] = append(versions, rec)
	s.mu.Unlock()

	s.logger.Debug("saved artifact",
		"session", id.String(),
		"name", name,
		"version", rec.meta.Version,
		"location", string(rec.meta.Location),
	)
	return rec.meta.Version, nil
}

// Load returns the bytes of a version, the latest when version is 0.
func (s *Store) Load(ctx context.Context, id session.Identity, name string, v int) ([]byte, error) {
	const op = "load artifact"
	if err := artifact.Validate(op, id, name, v); err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.find(id, name, v)
	s.mu.RUnlock()
	if !ok {
		return nil, artifact.NotFound(op, name, v)
	}

	stored := rec.inline
	if rec.meta.Location == artifact.LocationExternal {
		var err error
		if stored, err = s.bucket.Get(ctx, rec.meta.Key); err != nil {
			return nil, storage.Failure(op, err)
		}
	}
	data, err := rec.meta.Open(stored)
	if err != nil {
		return nil, storage.Failure(op, err)
	}
	return slices.Clone(data), nil
}

// Stat returns the metadata of a version.
func (s *Store) Stat(_ context.Context, id session.Identity, name string, v int) (*artifact.Artifact, error) {
	const op = "stat artifact"
	if err := artifact.Validate(op, id, name, v); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.find(id, name, v)
	if !ok {
		return nil, artifact.NotFound(op, name, v)
	}
	meta := rec.meta
	return &meta, nil
}

// List returns the session's artifact names, sorted.
func (s *Store) List(_ context.Context, id session.Identity) ([]string, error) {
	if err := storage.ValidateIdentity("list artifacts", id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.artifacts[id])), nil
}

// Versions returns the stored versions of name.
func (s *Store) Versions(_ context.Context, id session.Identity, name string) ([]int, error) {
	const op = "list artifact versions"
	if err := artifact.Validate(op, id, name, 0); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.artifacts[id][name]
	if len(versions) == 0 {
		return nil, artifact.NotFound(op, name, 0)
	}
	out := make([]int, len(versions))
	for i, rec := range versions {
		out[i] = rec.meta.Version
	}
	return out, nil
}

// Delete removes one version, or all of them when v is 0. Records are
// dropped before their external objects.
func (s *Store) Delete(ctx context.Context, id session.Identity, name string, v int) error {
	const op = "delete artifact"
	if err := artifact.Validate(op, id, name, v); err != nil {
		return err
	}

	s.mu.Lock()
	byName := s.artifacts[id]
	versions := byName[name]
	var removed []version
	if v == 0 {
		removed = versions
		delete(byName, name)
	} else if i := slices.IndexFunc(versions, func(rec version) bool { return rec.meta.Version == v }); i >= 0 {
		removed = []version{versions[i]}
		byName[name] = slices.Delete(slices.Clone(versions), i, i+1)
		if len(byName[name]) == 0 {
			delete(byName, name)
		}
	}
	if len(byName) == 0 {
		delete(s.artifacts, id)
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		return artifact.NotFound(op, name, v)
	}
	s.removeObjects(ctx, removed)
	return nil
}

// DeleteSession removes every artifact of the session.
func (s *Store) DeleteSession(ctx context.Context, id session.Identity) error {
	if err := storage.ValidateIdentity("delete session artifacts", id); err != nil {
		return err
	}

	s.mu.Lock()
	byName := s.artifacts[id]
	delete(s.artifacts, id)
	s.mu.Unlock()

	for _, versions := range byName {
		s.removeObjects(ctx, versions)
	}
	return nil
}

// Sweep removes bucket objects that no record references and that are at
// least grace old.
func (s *Store) Sweep(ctx context.Context, grace time.Duration) (*artifact.SweepReport, error) {
	const op = "sweep artifacts"
	if err := artifact.ValidateGrace(op, grace); err != nil {
		return nil, err
	}
	report := &artifact.SweepReport{}
	now := s.now()

	for obj, err := range s.bucket.List(ctx) {
		if err != nil {
			return report, storage.Failure(op, err)
		}
		report.Scanned++
		if !artifact.Sweepable(obj.ModTime, now, grace) || s.referenced(obj.Key) {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			return report, storage.Failure(op, err)
		}
		report.Removed++
		s.logger.Debug("swept orphaned artifact object", "key", obj.Key)
	}
	return report, nil
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// find returns a version, the latest when v is 0. Callers hold mu.
func (s *Store) find(id session.Identity, name string, v int) (version, bool) {
	versions := s.artifacts[id][name]
	if len(versions) == 0 {
		return version{}, false
	}
	if v == 0 {
		return versions[len(versions)-1], true
	}
	i := slices.IndexFunc(versions, func(rec version) bool { return rec.meta.Version == v })
	if i < 0 {
		return version{}, false
	}
	return versions[i], true
}

func (s *Store) referenced(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, byName := range s.artifacts {
		for _, versions := range byName {
			for _, rec := range versions {
				if rec.meta.Key == key {
					return true
				}
			}
		}
	}
	return false
}

// removeObjects deletes the external objects of removed versions. Failures
// are logged and left for Sweep.
func (s *Store) removeObjects(ctx context.Context, removed []version) {
	for _, rec := range removed {
		if rec.meta.Location != artifact.LocationExternal {
			continue
		}
		if err := s.bucket.Delete(ctx, rec.meta.Key); err != nil {
			s.logger.Warn("failed to remove artifact object", "key", rec.meta.Key, "error", err)
		}
	}
}

func (s *Store) discard(key string) {
	if key == "" {
		return
	}
	if err := s.bucket.Delete(context.Background(), key); err != nil {
		s.logger.Warn("failed to remove uncommitted artifact object", "key", key, "error", err)
	}
}
