// Package sqlartifact is the SQL artifact.Store. Metadata and inline
// payloads live in the artifacts table; external payloads live in a
// blob.Bucket and the row records their key.
//
// Save writes the external object before it opens the metadata
// transaction, so a committed row always points at a durable object. A
// failed commit removes the object; a crash between the two leaves an
// unreferenced object that Sweep collects.
package sqlartifact

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/artifact/blob"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

const table = "artifacts"

var metaColumns = []string{
	"app_name", "user_id", "session_id", "name", "version",
	"location", "object_key", "codec", "size", "digest", "created_at",
}

var loadColumns = append(slices.Clone(metaColumns), "data")

// Config holds configuration for the SQL store.
type Config struct {
	artifact.Options

	// Bucket receives external payloads. Required.
	Bucket blob.Bucket

	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Store implements artifact.Store over a sqlstore.DB.
type Store struct {
	db     *sqlstore.DB
	bucket blob.Bucket
	opts   artifact.Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store that takes ownership of one reference to db and of
// config.Bucket.
func New(db *sqlstore.DB, config Config) *Store {
	s := &Store{
		db:     db,
		bucket: config.Bucket,
		opts:   config.Options.Normalize(),
		logger: logger.OrNop(config.Logger),
		now:    config.Clock,
	}
	if s.now == nil {
		s.now = time.Now
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
		return 0, storage.FailureCtx(ctx, op, err)
	}

	var (
		key    any
		inline any
	)
	if p.Location == artifact.LocationExternal {
		k := blob.NewKey()
		if err := s.bucket.Put(ctx, k, p.Data); err != nil {
			return 0, storage.FailureCtx(ctx, op, err)
		}
		key = k
	} else {
		inline = p.Data
	}

	var v int
	err = s.db.InTx(ctx, op, func(tx *sql.Tx) error {
		if err := s.lockName(ctx, tx, id, name); err != nil {
			return err
		}

		query, args := s.db.Builder().
			Select(entsql.Max("version")).
			From(entsql.Table(table)).
			Where(nameKey(id, name)).
			Query()
		var last sql.NullInt64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
			return err
		}
		v = int(last.Int64) + 1

		query, args = s.db.Builder().
			Insert(table).
			Columns("app_name", "user_id", "session_id", "name", "version",
				"location", "data", "object_key", "codec", "size", "digest", "created_at").
			Values(id.AppName, id.UserID, id.SessionID, name, v,
				string(p.Location), inline, key, string(p.Codec), p.Size, p.Digest, storage.Timestamp(s.now()).UnixMicro()).
			Query()
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		if k, ok := key.(string); ok {
			s.discard(k)
		}
		return 0, err
	}

	s.logger.Debug("saved artifact",
		"session", id.String(),
		"name", name,
		"version", v,
		"location", string(p.Location),
	)
	return v, nil
}

// Load returns the bytes of a version, the latest when v is 0.
func (s *Store) Load(ctx context.Context, id session.Identity, name string, v int) ([]byte, error) {
	const op = "load artifact"
	if err := artifact.Validate(op, id, name, v); err != nil {
		return nil, err
	}

	var stored []byte
	query, args := s.versionSelector(id, name, v, loadColumns...).Query()
	meta, err := scanArtifact(s.db.QueryRowContext(ctx, query, args...), &stored)
	if sqlstore.IsNoRows(err) {
		return nil, artifact.NotFound(op, name, v)
	}
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}

	if meta.Location == artifact.LocationExternal {
		if stored, err = s.bucket.Get(ctx, meta.Key); err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}
	}
	data, err := meta.Open(stored)
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	return data, nil
}

// Stat returns the metadata of a version.
func (s *Store) Stat(ctx context.Context, id session.Identity, name string, v int) (*artifact.Artifact, error) {
	const op = "stat artifact"
	if err := artifact.Validate(op, id, name, v); err != nil {
		return nil, err
	}

	query, args := s.versionSelector(id, name, v, metaColumns...).Query()
	meta, err := scanArtifact(s.db.QueryRowContext(ctx, query, args...))
	if sqlstore.IsNoRows(err) {
		return nil, artifact.NotFound(op, name, v)
	}
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	return meta, nil
}

// List returns the session's artifact names, sorted.
func (s *Store) List(ctx context.Context, id session.Identity) ([]string, error) {
	const op = "list artifacts"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	query, args := s.db.Builder().
		Select("name").
		Distinct().
		From(entsql.Table(table)).
		Where(sqlstore.SessionPredicate(id.AppName, id.UserID, id.SessionID)).
		OrderBy("name").
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	return names, nil
}

// Versions returns the stored versions of name in ascending order.
func (s *Store) Versions(ctx context.Context, id session.Identity, name string) ([]int, error) {
	const op = "list artifact versions"
	if err := artifact.Validate(op, id, name, 0); err != nil {
		return nil, err
	}

	query, args := s.db.Builder().
		Select("version").
		From(entsql.Table(table)).
		Where(nameKey(id, name)).
		OrderBy("version").
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	if len(versions) == 0 {
		return nil, artifact.NotFound(op, name, 0)
	}
	return versions, nil
}

// Delete removes one version, or every version when v is 0. Rows are
// deleted and committed before their external objects are removed.
func (s *Store) Delete(ctx context.Context, id session.Identity, name string, v int) error {
	const op = "delete artifact"
	if err := artifact.Validate(op, id, name, v); err != nil {
		return err
	}

	pred := nameKey(id, name)
	if v > 0 {
		pred = entsql.And(pred, entsql.EQ("version", v))
	}
	keys, matched, err := s.deleteRows(ctx, op, pred)
	if err != nil {
		return err
	}
	if !matched {
		return artifact.NotFound(op, name, v)
	}
	s.removeObjects(ctx, keys)
	return nil
}

// DeleteSession removes every artifact of the session.
func (s *Store) DeleteSession(ctx context.Context, id session.Identity) error {
	const op = "delete session artifacts"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return err
	}

	keys, _, err := s.deleteRows(ctx, op, sqlstore.SessionPredicate(id.AppName, id.UserID, id.SessionID))
	if err != nil {
		return err
	}
	s.removeObjects(ctx, keys)
	return nil
}

// Sweep removes bucket objects that no row references and that are at
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
			return report, storage.FailureCtx(ctx, op, err)
		}
		report.Scanned++
		if !artifact.Sweepable(obj.ModTime, now, grace) {
			continue
		}
		ok, err := s.referenced(ctx, obj.Key)
		if err != nil {
			return report, storage.FailureCtx(ctx, op, err)
		}
		if ok {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			return report, storage.FailureCtx(ctx, op, err)
		}
		report.Removed++
		s.logger.Debug("swept orphaned artifact object", "key", obj.Key)
	}
	return report, nil
}

// Close closes the bucket and releases the pool reference.
func (s *Store) Close() error {
	berr := s.bucket.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return berr
}

// lockName serializes saves of one name. SQLite transactions already hold
// the database write lock; PostgreSQL takes a transaction advisory lock.
func (s *Store) lockName(ctx context.Context, tx *sql.Tx, id session.Identity, name string) error {
	if !s.db.Postgres() {
		return nil
	}
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", id.String()+"/"+name)
	return err
}

// deleteRows deletes the rows matching pred and returns the object keys of
// external versions among them, and whether any row matched.
func (s *Store) deleteRows(ctx context.Context, op string, pred *entsql.Predicate) ([]string, bool, error) {
	var (
		keys    []string
		matched bool
	)
	err := s.db.InTx(ctx, op, func(tx *sql.Tx) error {
		query, args := s.db.Builder().
			Select("object_key").
			From(entsql.Table(table)).
			Where(pred).
			Query()
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		keys, matched = nil, false
		for rows.Next() {
			var key sql.NullString
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			matched = true
			if key.Valid {
				keys = append(keys, key.String)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		query, args = s.db.Builder().Delete(table).Where(pred).Query()
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return keys, matched, nil
}

func (s *Store) referenced(ctx context.Context, key string) (bool, error) {
	query, args := s.db.Builder().
		Select(entsql.Count("*")).
		From(entsql.Table(table)).
		Where(entsql.EQ("object_key", key)).
		Query()
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// removeObjects deletes external objects whose rows are gone. Failures are
// logged and left for Sweep.
func (s *Store) removeObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to remove artifact object", "key", key, "error", err)
		}
	}
}

func (s *Store) discard(key string) {
	if err := s.bucket.Delete(context.Background(), key); err != nil {
		s.logger.Warn("failed to remove uncommitted artifact object", "key", key, "error", err)
	}
}

// versionSelector selects one version, the latest when v is 0.
func (s *Store) versionSelector(id session.Identity, name string, v int, columns ...string) *entsql.Selector {
	sel := s.db.Builder().
		Select(columns...).
		From(entsql.Table(table))
	if v > 0 {
		return sel.Where(entsql.And(nameKey(id, name), entsql.EQ("version", v)))
	}
	return sel.Where(nameKey(id, name)).OrderBy(entsql.Desc("version")).Limit(1)
}

func nameKey(id session.Identity, name string) *entsql.Predicate {
	return entsql.And(
		sqlstore.SessionPredicate(id.AppName, id.UserID, id.SessionID),
		entsql.EQ("name", name),
	)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanArtifact reads metaColumns, followed by any extra destinations.
func scanArtifact(row scanner, extra ...any) (*artifact.Artifact, error) {
	var (
		a         artifact.Artifact
		location  string
		key       sql.NullString
		codec     string
		createdAt int64
	)
	dest := append([]any{
		&a.AppName, &a.UserID, &a.SessionID, &a.Name, &a.Version,
		&location, &key, &codec, &a.Size, &a.Digest, &createdAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	a.Location = artifact.Location(location)
	a.Key = key.String
	a.Codec = artifact.Codec(codec)
	a.CreatedAt = storage.UnixMicro(createdAt)
	return &a, nil
}
