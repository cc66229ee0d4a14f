// Package sqlindex stores memory entries in the memory_entries table of a
// SQL backend and prefilters search candidates with keyword LIKE matches.
package sqlindex

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
)

const table = "memory_entries"

// MaxCandidates bounds how many prefiltered rows, most recent first, a
// search ranks.
const MaxCandidates = 2000

var entryColumns = []string{
	"app_name", "user_id", "session_id", "event_id", "classification",
	"summary", "keywords", "event_timestamp", "event_seq",
}

var insertColumns = append(slices.Clone(entryColumns), "indexed_at")

// Indexer implements memory.Indexer over a sqlstore.DB.
type Indexer struct {
	db     *sqlstore.DB
	events memory.EventSource
	logger *slog.Logger
}

// New creates an Indexer that takes ownership of one reference to db.
func New(db *sqlstore.DB, events memory.EventSource, l *slog.Logger) *Indexer {
	return &Indexer{db: db, events: events, logger: logger.OrNop(l)}
}

// IndexSession derives and inserts entries for unindexed events.
func (ix *Indexer) IndexSession(ctx context.Context, id session.Identity) (*memory.IndexReport, error) {
	const op = "index session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	indexed, err := ix.indexedEvents(ctx, id)
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}

	report := &memory.IndexReport{}
	for ev, err := range ix.events.ListEvents(ctx, id, "") {
		if err != nil {
			return nil, err
		}
		if _, ok := indexed[ev.ID]; ok {
			report.Existing++
			continue
		}

		entry, err := memory.Derive(id, ev)
		if errors.Is(err, memory.ErrUnindexable) {
			ix.logger.Warn("skipping unindexable event", "session", id.String(), "event", ev.ID)
			report.Skipped++
			continue
		}
		if err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}

		inserted, err := ix.insert(ctx, entry)
		if err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}
		if inserted {
			report.Indexed++
		} else {
			report.Existing++
		}
	}

	ix.logger.Debug("indexed session", "session", id.String(), "indexed", report.Indexed, "skipped", report.Skipped)
	return report, nil
}

// Search prefilters the user's entries on keywords and ranks them.
func (ix *Indexer) Search(ctx context.Context, appName, userID, query string, limit int) ([]memory.Result, error) {
	const op = "search memory"
	terms := memory.QueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	likes := make([]*entsql.Predicate, len(terms))
	for i, t := range terms {
		likes[i] = entsql.Like("keywords", "% "+t+" %")
	}
	q, args := ix.db.Builder().
		Select(entryColumns...).
		From(entsql.Table(table)).
		Where(entsql.And(
			entsql.EQ("app_name", appName),
			entsql.EQ("user_id", userID),
			entsql.Or(likes...),
		)).
		OrderBy(entsql.Desc("event_timestamp"), entsql.Desc("event_seq")).
		Limit(MaxCandidates).
		Query()

	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}
	defer rows.Close()

	var candidates []memory.Entry
	for rows.Next() {
		var (
			e        memory.Entry
			keywords string
			ts       int64
		)
		err := rows.Scan(&e.Ref.AppName, &e.Ref.UserID, &e.Ref.SessionID, &e.Ref.EventID,
			&e.Classification, &e.Summary, &keywords, &ts, &e.EventSeq)
		if err != nil {
			return nil, storage.FailureCtx(ctx, op, err)
		}
		e.Keywords = strings.Fields(keywords)
		e.EventTimestamp = storage.UnixMicro(ts)
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.FailureCtx(ctx, op, err)
	}

	return memory.Rank(candidates, query, limit), nil
}

// DeleteSession removes the session's entries.
func (ix *Indexer) DeleteSession(ctx context.Context, id session.Identity) error {
	q, args := ix.db.Builder().
		Delete(table).
		Where(sqlstore.SessionPredicate(id.AppName, id.UserID, id.SessionID)).
		Query()
	return ix.db.InTx(ctx, "delete memory", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return err
	})
}

// Close releases the indexer's reference to the pool.
func (ix *Indexer) Close() error {
	return ix.db.Close()
}

func (ix *Indexer) indexedEvents(ctx context.Context, id session.Identity) (map[string]struct{}, error) {
	q, args := ix.db.Builder().
		Select("event_id").
		From(entsql.Table(table)).
		Where(sqlstore.SessionPredicate(id.AppName, id.UserID, id.SessionID)).
		Query()
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var eventID string
		if err := rows.Scan(&eventID); err != nil {
			return nil, err
		}
		out[eventID] = struct{}{}
	}
	return out, rows.Err()
}

// insert stores entry unless one exists for the event already.
func (ix *Indexer) insert(ctx context.Context, e memory.Entry) (bool, error) {
	q, args := ix.db.Builder().
		Insert(table).
		Columns(insertColumns...).
		Values(e.Ref.AppName, e.Ref.UserID, e.Ref.SessionID, e.Ref.EventID, e.Classification,
			e.Summary, " "+strings.Join(e.Keywords, " ")+" ", e.EventTimestamp.UnixMicro(), e.EventSeq,
			time.Now().UnixMicro()).
		OnConflict(entsql.ConflictColumns("app_name", "user_id", "session_id", "event_id"), entsql.DoNothing()).
		Query()
	var inserted bool
	err := ix.db.InTx(ctx, "index session", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	return inserted, err
}
