// Package migrate applies ordered, idempotent schema migrations. Every
// migration runs in its own transaction together with the bookkeeping row
// that records it, so a failed step leaves the schema at the last version
// that committed.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/storage"
)

// TableName is the bookkeeping table that records applied versions.
const TableName = "schema_migrations"

// advisoryLockKey serializes migration runners on PostgreSQL.
const advisoryLockKey = 7_312_004_211

// Migration is one schema step. Statements run first, then Apply.
type Migration struct {
	// Version orders migrations. Versions compare as strings, so they are
	// zero padded ("0001", "0002", ...).
	Version string

	Description string

	Statements []string

	Apply func(ctx context.Context, tx *sql.Tx) error
}

// Status reports which versions are applied and which are pending.
type Status struct {
	Applied []AppliedMigration
	Pending []string
}

// AppliedMigration is a row of the bookkeeping table.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// Manager applies a fixed migration set to one database.
type Manager struct {
	db         *sql.DB
	dialect    string
	migrations []Migration
	logger     *slog.Logger
	retry      *storage.LockRetry
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used to report applied migrations.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithLockRetry retries migration transactions refused by a held lock.
func WithLockRetry(r *storage.LockRetry) Option {
	return func(m *Manager) {
		m.retry = r
	}
}

// New creates a Manager. Migrations are sorted by version; duplicate
// versions are rejected.
func New(db *sql.DB, dialectName string, migrations []Migration, opts ...Option) (*Manager, error) {
	if dialectName != dialect.SQLite && dialectName != dialect.Postgres {
		return nil, storage.Unsupported("migrate", "unsupported dialect %q", dialectName)
	}
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, storage.MigrationFailed(sorted[i].Version, errors.New("duplicate migration version"))
		}
	}

	m := &Manager{
		db:         db,
		dialect:    dialectName,
		migrations: sorted,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Migrate applies every pending migration in version order and returns the
// versions it applied. Running it again is a no-op.
func (m *Manager) Migrate(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range m.migrations {
		ok, err := m.apply(ctx, mig)
		if err != nil {
			m.logger.Error("migration failed", "version", mig.Version, "error", err)
			return applied, err
		}
		if ok {
			m.logger.Info("applied migration", "version", mig.Version, "description", mig.Description)
			applied = append(applied, mig.Version)
		}
	}
	return applied, nil
}

// Status compares the bookkeeping table against the migration set.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	query, args := entsql.Dialect(m.dialect).
		Select("version", "applied_at").
		From(entsql.Table(TableName)).
		OrderBy("version").
		Query()
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.FailureCtx(ctx, "migration status", err)
	}
	defer rows.Close()

	st := &Status{}
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			a  AppliedMigration
			at int64
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return nil, storage.FailureCtx(ctx, "migration status", err)
		}
		a.AppliedAt = storage.UnixMicro(at)
		st.Applied = append(st.Applied, a)
		seen[a.Version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storage.FailureCtx(ctx, "migration status", err)
	}

	for _, mig := range m.migrations {
		if !seen[mig.Version] {
			st.Pending = append(st.Pending, mig.Version)
		}
	}
	return st, nil
}

func (m *Manager) ensureTable(ctx context.Context) error {
	stmt := "CREATE TABLE IF NOT EXISTS " + TableName + " (version TEXT PRIMARY KEY, applied_at BIGINT NOT NULL)"
	tx, err := m.retry.Begin(ctx, m.db)
	if err != nil {
		return storage.MigrationFailed("bookkeeping", err)
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return storage.MigrationFailed("bookkeeping", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.MigrationFailed("bookkeeping", err)
	}
	return nil
}

// apply runs one migration and reports whether it was applied by this call.
func (m *Manager) apply(ctx context.Context, mig Migration) (applied bool, err error) {
	tx, err := m.retry.Begin(ctx, m.db)
	if err != nil {
		return false, storage.MigrationFailed(mig.Version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if m.dialect == dialect.Postgres {
		if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
			return false, storage.MigrationFailed(mig.Version, err)
		}
	}

	done, err := m.isApplied(ctx, tx, mig.Version)
	if err != nil {
		return false, storage.MigrationFailed(mig.Version, err)
	}
	if done {
		return false, storage.FailureCtx(ctx, "migrate", tx.Commit())
	}

	for _, stmt := range mig.Statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return false, storage.MigrationFailed(mig.Version, err)
		}
	}
	if mig.Apply != nil {
		if err = mig.Apply(ctx, tx); err != nil {
			return false, storage.MigrationFailed(mig.Version, err)
		}
	}

	query, args := entsql.Dialect(m.dialect).
		Insert(TableName).
		Columns("version", "applied_at").
		Values(mig.Version, time.Now().UnixMicro()).
		Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return false, storage.MigrationFailed(mig.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return false, storage.MigrationFailed(mig.Version, err)
	}
	return true, nil
}

func (m *Manager) isApplied(ctx context.Context, tx *sql.Tx, version string) (bool, error) {
	query, args := entsql.Dialect(m.dialect).
		Select("version").
		From(entsql.Table(TableName)).
		Where(entsql.EQ("version", version)).
		Query()
	var v string
	err := tx.QueryRowContext(ctx, query, args...).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to read %s: %w", TableName, err)
	}
	return true, nil
}
