// Package sqlstore is the database-agnostic SQL implementation of the
// session store and event log. Queries are rendered with ent's dialect
// builder so the same code serves SQLite, libSQL and PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync/atomic"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/migrate"
	"github.com/papercomputeco/spool/pkg/storage/schema"
)

// DB is a reference-counted connection pool shared by the SQL session,
// memory and artifact stores. Every store created from a DB owns one
// reference and releases it on Close.
type DB struct {
	*sql.DB

	dialect string
	refs    atomic.Int64
	retry   *storage.LockRetry
}

// NewDB wraps an open pool. The returned DB holds one reference.
func NewDB(db *sql.DB, dialectName string) *DB {
	d := &DB{DB: db, dialect: dialectName}
	d.refs.Store(1)
	return d
}

// Dialect returns the ent dialect name, "sqlite3" or "postgres".
func (db *DB) Dialect() string {
	return db.dialect
}

// Postgres reports whether the pool talks to PostgreSQL.
func (db *DB) Postgres() bool {
	return db.dialect == dialect.Postgres
}

// Builder returns a query builder for the pool's dialect.
func (db *DB) Builder() *entsql.DialectBuilder {
	return entsql.Dialect(db.dialect)
}

// WithLockRetry makes InTx and Migrate retry transaction starts refused
// by a held lock. It must be called before db is shared.
func (db *DB) WithLockRetry(r *storage.LockRetry) *DB {
	db.retry = r
	return db
}

// Retain adds a reference and returns db.
func (db *DB) Retain() *DB {
	db.refs.Add(1)
	return db
}

// Close drops a reference and closes the pool when none remain.
func (db *DB) Close() error {
	if db.refs.Add(-1) > 0 {
		return nil
	}
	return db.DB.Close()
}

// Migrate brings the schema up to date. Any failure is fatal to the caller:
// a pool whose migrations failed must not serve requests.
func (db *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	m, err := migrate.New(db.DB, db.dialect, schema.Migrations(db.dialect), migrate.WithLogger(logger), migrate.WithLockRetry(db.retry))
	if err != nil {
		return err
	}
	_, err = m.Migrate(ctx)
	return err
}

// InTx runs fn inside a transaction, committing when it returns nil.
func (db *DB) InTx(ctx context.Context, op string, fn func(*sql.Tx) error) (err error) {
	tx, err := db.retry.Begin(ctx, db.DB)
	if err != nil {
		return storage.FailureCtx(ctx, op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return storage.FailureCtx(ctx, op, err)
	}
	if err = tx.Commit(); err != nil {
		return storage.FailureCtx(ctx, op, err)
	}
	return nil
}

// IsNoRows reports whether err is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// SessionPredicate matches the rows of one session in tables keyed by
// (app_name, user_id, session_id).
func SessionPredicate(appName, userID, sessionID string) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("app_name", appName),
		entsql.EQ("user_id", userID),
		entsql.EQ("session_id", sessionID),
	)
}
