package sqlstore

import (
	"context"
	"database/sql"
	"iter"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
)

const (
	sessionsTable = "sessions"
	eventsTable   = "events"
	memoryTable   = "memory_entries"
	artifactTable = "artifacts"
)

var eventColumns = []string{
	"id", "invocation_id", "author", "timestamp", "content", "state_delta",
	"partial", "turn_complete", "interrupted", "error_code", "error_message", "seq",
}

// Store implements storage.Driver over a DB.
type Store struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store that takes ownership of one reference to db.
func New(db *DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the store's pool.
func (s *Store) DB() *DB {
	return s.db
}

// Close releases the store's reference to the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, id session.Identity, initial state.State) (*session.Session, error) {
	const op = "create session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}
	st, err := storage.NormalizeState(op, initial)
	if err != nil {
		return nil, err
	}
	raw, err := state.Encode(st)
	if err != nil {
		return nil, storage.Invalid(op, err)
	}

	now := storage.Timestamp(s.now())
	query, args := s.db.Builder().
		Insert(sessionsTable).
		Columns("app_name", "user_id", "id", "state", "created_at", "updated_at").
		Values(id.AppName, id.UserID, id.SessionID, string(raw), now.UnixMicro(), now.UnixMicro()).
		OnConflict(entsql.ConflictColumns("app_name", "user_id", "id"), entsql.DoNothing()).
		Query()

	err = s.db.InTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.AlreadyExists(op, "session %s already exists", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created session", "session", id.String())
	return &session.Session{Identity: id, State: st, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession reads a session row.
func (s *Store) GetSession(ctx context.Context, id session.Identity) (*session.Session, error) {
	const op = "get session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	query, args := s.sessionSelector(id, false).Query()
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if IsNoRows(err) {
		return nil, storage.NotFound(op, "session %s not found", id)
	}
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	return sess, nil
}

// ListSessions returns a user's sessions ordered by creation time.
func (s *Store) ListSessions(ctx context.Context, appName, userID string) ([]*session.Session, error) {
	const op = "list sessions"
	query, args := s.db.Builder().
		Select("app_name", "user_id", "id", "state", "created_at", "updated_at").
		From(entsql.Table(sessionsTable)).
		Where(entsql.And(entsql.EQ("app_name", appName), entsql.EQ("user_id", userID))).
		OrderBy("created_at", "id").
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	return out, nil
}

// ApplyDelta records delta as a system event and returns the new session.
func (s *Store) ApplyDelta(ctx context.Context, id session.Identity, delta state.State) (*session.Session, error) {
	const op = "apply delta"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	var sess *session.Session
	err := s.db.InTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		sess, _, err = s.appendTx(ctx, tx, op, id, &session.Event{Author: session.AuthorSystem, StateDelta: delta})
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes the session with its events, memory entries and
// artifact rows in one transaction.
func (s *Store) DeleteSession(ctx context.Context, id session.Identity) error {
	const op = "delete session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return err
	}

	return s.db.InTx(ctx, op, func(tx *sql.Tx) error {
		if _, err := s.lockSession(ctx, tx, op, id); err != nil {
			return err
		}
		for _, table := range []string{memoryTable, artifactTable, eventsTable} {
			query, args := s.db.Builder().
				Delete(table).
				Where(SessionPredicate(id.AppName, id.UserID, id.SessionID)).
				Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
		query, args := s.db.Builder().
			Delete(sessionsTable).
			Where(sessionKey(id)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		s.logger.Debug("deleted session", "session", id.String())
		return nil
	})
}

// AppendEvent writes ev and folds its delta into the session state in one
// transaction.
func (s *Store) AppendEvent(ctx context.Context, id session.Identity, ev *session.Event) (*session.Event, error) {
	const op = "append event"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	var stored *session.Event
	err := s.db.InTx(ctx, op, func(tx *sql.Tx) error {
		var err error
		_, stored, err = s.appendTx(ctx, tx, op, id, ev)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// appendTx is the shared body of AppendEvent and ApplyDelta. The session
// row is locked first, so appends to one session serialize.
func (s *Store) appendTx(ctx context.Context, tx *sql.Tx, op string, id session.Identity, ev *session.Event) (*session.Session, *session.Event, error) {
	sess, err := s.lockSession(ctx, tx, op, id)
	if err != nil {
		return nil, nil, err
	}

	query, args := s.db.Builder().
		Select(entsql.Max("timestamp")).
		From(entsql.Table(eventsTable)).
		Where(SessionPredicate(id.AppName, id.UserID, id.SessionID)).
		Query()
	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return nil, nil, err
	}
	var lastTS time.Time
	if last.Valid {
		lastTS = storage.UnixMicro(last.Int64)
	}

	stored, err := storage.PrepareEvent(op, ev, lastTS, s.now())
	if err != nil {
		return nil, nil, err
	}

	var delta any
	if stored.StateDelta != nil {
		raw, err := state.Encode(stored.StateDelta)
		if err != nil {
			return nil, nil, storage.Invalid(op, err)
		}
		delta = string(raw)
	}
	var errCode, errMsg any
	if stored.Error != nil {
		errCode, errMsg = stored.Error.Code, stored.Error.Message
	}

	query, args = s.db.Builder().
		Insert(eventsTable).
		Columns("app_name", "user_id", "session_id", "id", "invocation_id", "author", "timestamp",
			"content", "state_delta", "partial", "turn_complete", "interrupted", "error_code", "error_message").
		Values(id.AppName, id.UserID, id.SessionID, stored.ID, stored.InvocationID, stored.Author, stored.Timestamp.UnixMicro(),
			stored.Content, delta, stored.Partial, stored.TurnComplete, stored.Interrupted, errCode, errMsg).
		OnConflict(entsql.ConflictColumns("app_name", "user_id", "session_id", "id"), entsql.DoNothing()).
		Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, nil, err
	} else if n == 0 {
		return nil, nil, storage.AlreadyExists(op, "event %s already exists", stored.ID)
	}

	seq, err := s.eventSeq(ctx, tx, id, stored.ID)
	if err != nil {
		return nil, nil, err
	}
	stored.Seq = seq

	updated := storage.Timestamp(s.now())
	if updated.Before(stored.Timestamp) {
		updated = stored.Timestamp
	}
	upd := s.db.Builder().
		Update(sessionsTable).
		Set("updated_at", updated.UnixMicro()).
		Where(sessionKey(id))
	if !stored.StateDelta.Empty() {
		sess.State = sess.State.Merge(stored.StateDelta)
		raw, err := state.Encode(sess.State)
		if err != nil {
			return nil, nil, storage.Invalid(op, err)
		}
		upd.Set("state", string(raw))
	}
	query, args = upd.Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, nil, err
	}
	sess.UpdatedAt = updated

	return sess, stored, nil
}

// ListEvents yields events page by page. Each page is read in full and its
// rows closed before any event is yielded, so a slow consumer never holds a
// connection.
func (s *Store) ListEvents(ctx context.Context, id session.Identity, sinceID string) iter.Seq2[*session.Event, error] {
	const op = "list events"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return storage.ErrorSeq(err)
	}

	return func(yield func(*session.Event, error) bool) {
		cursor, err := s.resolveCursor(ctx, op, id, sinceID)
		if err != nil {
			yield(nil, err)
			return
		}

		for {
			page, err := s.eventPage(ctx, id, cursor)
			if err != nil {
				yield(nil, storage.FailureCtx(ctx, op, err))
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}
			if len(page) < storage.EventPageSize {
				return
			}
			cursor = page[len(page)-1].Seq
		}
	}
}

// GetEvent reads one event.
func (s *Store) GetEvent(ctx context.Context, id session.Identity, eventID string) (*session.Event, error) {
	const op = "get event"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	query, args := s.db.Builder().
		Select(eventColumns...).
		From(entsql.Table(eventsTable)).
		Where(entsql.And(SessionPredicate(id.AppName, id.UserID, id.SessionID), entsql.EQ("id", eventID))).
		Query()
	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, args...))
	if IsNoRows(err) {
		return nil, storage.NotFound(op, "event %s not found", eventID)
	}
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	return ev, nil
}

// resolveCursor checks the session exists and turns sinceID into a seq.
func (s *Store) resolveCursor(ctx context.Context, op string, id session.Identity, sinceID string) (int64, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return 0, err
	}
	if sinceID == "" {
		return 0, nil
	}
	seq, err := s.eventSeq(ctx, s.db, id, sinceID)
	if IsNoRows(err) {
		return 0, storage.NotFound(op, "event %s not found", sinceID)
	}
	if err != nil {
		return 0, storage.FailureCtx(ctx, op, err)
	}
	return seq, nil
}

func (s *Store) eventPage(ctx context.Context, id session.Identity, after int64) ([]*session.Event, error) {
	query, args := s.db.Builder().
		Select(eventColumns...).
		From(entsql.Table(eventsTable)).
		Where(entsql.And(SessionPredicate(id.AppName, id.UserID, id.SessionID), entsql.GT("seq", after))).
		OrderBy("timestamp", "seq").
		Limit(storage.EventPageSize).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]*session.Event, 0, storage.EventPageSize)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, ev)
	}
	return page, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) eventSeq(ctx context.Context, q querier, id session.Identity, eventID string) (int64, error) {
	query, args := s.db.Builder().
		Select("seq").
		From(entsql.Table(eventsTable)).
		Where(entsql.And(SessionPredicate(id.AppName, id.UserID, id.SessionID), entsql.EQ("id", eventID))).
		Query()
	var seq int64
	err := q.QueryRowContext(ctx, query, args...).Scan(&seq)
	return seq, err
}

// lockSession reads the session row inside tx. On PostgreSQL the row is
// locked FOR UPDATE; SQLite transactions are opened IMMEDIATE by the
// connection string and already hold the write lock.
func (s *Store) lockSession(ctx context.Context, tx *sql.Tx, op string, id session.Identity) (*session.Session, error) {
	query, args := s.sessionSelector(id, s.db.Postgres()).Query()
	sess, err := scanSession(tx.QueryRowContext(ctx, query, args...))
	if IsNoRows(err) {
		return nil, storage.NotFound(op, "session %s not found", id)
	}
	return sess, err
}

func (s *Store) sessionSelector(id session.Identity, forUpdate bool) *entsql.Selector {
	sel := s.db.Builder().
		Select("app_name", "user_id", "id", "state", "created_at", "updated_at").
		From(entsql.Table(sessionsTable)).
		Where(sessionKey(id))
	if forUpdate {
		sel.ForUpdate()
	}
	return sel
}

func sessionKey(id session.Identity) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("app_name", id.AppName),
		entsql.EQ("user_id", id.UserID),
		entsql.EQ("id", id.SessionID),
	)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var (
		sess               session.Session
		raw                string
		created, updatedAt int64
	)
	if err := row.Scan(&sess.AppName, &sess.UserID, &sess.SessionID, &raw, &created, &updatedAt); err != nil {
		return nil, err
	}
	st, err := state.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	sess.State = st
	sess.CreatedAt = storage.UnixMicro(created)
	sess.UpdatedAt = storage.UnixMicro(updatedAt)
	return &sess, nil
}

func scanEvent(row scanner) (*session.Event, error) {
	var (
		ev              session.Event
		ts              int64
		content         []byte
		delta           sql.NullString
		errCode, errMsg sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.InvocationID, &ev.Author, &ts, &content, &delta,
		&ev.Partial, &ev.TurnComplete, &ev.Interrupted, &errCode, &errMsg, &ev.Seq)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = storage.UnixMicro(ts)
	if len(content) > 0 {
		ev.Content = content
	}
	if delta.Valid && delta.String != "" {
		d, err := state.Decode([]byte(delta.String))
		if err != nil {
			return nil, err
		}
		ev.StateDelta = d
	}
	if errCode.Valid && errCode.String != "" {
		ev.Error = &session.EventError{Code: errCode.String, Message: errMsg.String}
	}
	return &ev, nil
}
