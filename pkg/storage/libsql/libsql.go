//go:build libsql

// Package libsql provides a libSQL (Turso) backed session store and event
// log. It is built only with the libsql tag because go-libsql and
// go-sqlite3 both link their own copy of the SQLite C library.
package libsql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	_ "github.com/tursodatabase/go-libsql" // register the libsql driver

	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

// Driver implements storage.Driver on libSQL.
type Driver struct {
	*sqlstore.Store
}

// LockWait bounds the total wait for a locked database when the caller's
// context carries no earlier deadline.
const LockWait = 5 * time.Second

// IsBusy reports whether err is libSQL refusing the database lock. The
// driver only exposes the SQLite message text.
func IsBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// URL turns a bare path into a file URL; libsql:// and http(s):// URLs
// pass through.
func URL(target string) string {
	for _, prefix := range []string{"file:", "libsql://", "http://", "https://"} {
		if strings.HasPrefix(target, prefix) {
			return target
		}
	}
	return "file:" + target
}

// Open connects to a local file or a remote libSQL server and applies
// pending migrations. libSQL speaks the SQLite dialect.
func Open(ctx context.Context, target string, logger *slog.Logger) (*sqlstore.DB, error) {
	db, err := sql.Open("libsql", URL(target))
	if err != nil {
		return nil, storage.Failure("open libsql", fmt.Errorf("failed to open database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storage.Failure("open libsql", fmt.Errorf("failed to ping database: %w", err))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, storage.Failure("open libsql", fmt.Errorf("failed to enable foreign keys: %w", err))
	}
	// Serialize writers: libsql has no IMMEDIATE transaction knob.
	db.SetMaxOpenConns(1)

	handle := sqlstore.NewDB(db, dialect.SQLite).WithLockRetry(&storage.LockRetry{Busy: IsBusy, Limit: LockWait})
	if err := handle.Migrate(ctx, logger); err != nil {
		handle.Close()
		return nil, err
	}
	return handle, nil
}

// NewDriver opens target and returns a driver that owns the connection.
func NewDriver(ctx context.Context, target string, opts ...sqlstore.Option) (*Driver, error) {
	db, err := Open(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return &Driver{Store: sqlstore.New(db, opts...)}, nil
}
