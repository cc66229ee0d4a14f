// Package sqlite provides the SQLite-backed session store and event log.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	"github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

const (
	// DefaultBusyTimeout is how long, in milliseconds, one attempt to take
	// the database lock waits inside SQLite.
	DefaultBusyTimeout = 100

	// DefaultLockWait bounds the total wait for the write lock when the
	// caller's context carries no earlier deadline.
	DefaultLockWait = 5 * time.Second
)

// Driver implements storage.Driver on SQLite.
type Driver struct {
	*sqlstore.Store
}

// DSN builds the go-sqlite3 connection string for path. Transactions are
// opened IMMEDIATE so concurrent writers to one session queue on the
// database lock instead of failing at commit. Each lock attempt is kept
// short; the wait beyond it is retried under the caller's context.
func DSN(path string) string {
	params := fmt.Sprintf("_txlock=immediate&_busy_timeout=%d&_foreign_keys=on", DefaultBusyTimeout)
	if !IsMemory(path) {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// IsBusy reports whether err is SQLite refusing the database lock.
func IsBusy(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

// LockRetry returns the lock retry policy for SQLite pools.
func LockRetry() *storage.LockRetry {
	return &storage.LockRetry{Busy: IsBusy, Limit: DefaultLockWait}
}

// IsMemory reports whether path names a private in-memory database.
func IsMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// Open opens the database at path and applies pending migrations. The path
// can be a file path or ":memory:". A migration failure closes the pool and
// is returned; no handle is handed out for an unmigrated database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sqlstore.DB, error) {
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, storage.Failure("open sqlite", fmt.Errorf("failed to open database: %w", err))
	}

	// Every connection to ":memory:" is a separate database.
	if IsMemory(path) {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.Failure("open sqlite", fmt.Errorf("failed to ping database: %w", err))
	}

	handle := sqlstore.NewDB(db, dialect.SQLite).WithLockRetry(LockRetry())
	if err := handle.Migrate(ctx, logger); err != nil {
		handle.Close()
		return nil, err
	}
	return handle, nil
}

// NewDriver opens path and returns a driver that owns the connection.
func NewDriver(ctx context.Context, path string, opts ...sqlstore.Option) (*Driver, error) {
	db, err := Open(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return &Driver{Store: sqlstore.New(db, opts...)}, nil
}
