// Package memory projects session events into compact, searchable entries.
//
// Every event a session records can be summarized into an [Entry]: a short
// human-readable summary, a classification and a keyword set. Indexers keep
// one entry per event and answer keyword queries over a user's entries
// without ever loading raw event content. Derivation is pure, so
// re-indexing a session always yields the same entries.
//
// Indexers are pluggable via configuration:
//
//	[services]
//	memory = "sqlite:~/.spool/spool.db"   # or "inmemory:", "postgres:..."
package memory

import (
	"context"
	"iter"
	"time"

	"github.com/papercomputeco/spool/pkg/session"
)

// DefaultSearchLimit caps search results when the caller passes no limit.
const DefaultSearchLimit = 10

// Indexer stores and searches memory entries.
type Indexer interface {
	// IndexSession derives and stores an entry for every event of the
	// session that is not indexed yet. Events whose content cannot be
	// summarized are skipped and counted in the report.
	IndexSession(ctx context.Context, id session.Identity) (*IndexReport, error)

	// Search returns up to limit entries of the user that share at least
	// one keyword with the query, best match first.
	Search(ctx context.Context, appName, userID, query string, limit int) ([]Result, error)

	// DeleteSession drops every entry derived from the session.
	DeleteSession(ctx context.Context, id session.Identity) error

	// Close releases indexer resources.
	Close() error
}

// EventSource is the slice of the event log an indexer reads from.
type EventSource interface {
	ListEvents(ctx context.Context, id session.Identity, sinceID string) iter.Seq2[*session.Event, error]
}

// EventRef points back at the event an entry was derived from.
type EventRef struct {
	session.Identity

	EventID string `json:"event_id"`
}

// Entry is the searchable projection of one event.
type Entry struct {
	Ref            EventRef  `json:"ref"`
	Classification string    `json:"classification"`
	Summary        string    `json:"summary"`
	Keywords       []string  `json:"keywords"`
	EventTimestamp time.Time `json:"event_timestamp"`
	EventSeq       int64     `json:"event_seq"`
}

// Result is a search hit.
type Result struct {
	Entry

	Score float64 `json:"score"`
}

// IndexReport counts what one IndexSession call did.
type IndexReport struct {
	// Indexed is the number of new entries stored.
	Indexed int

	// Existing is the number of events that already had an entry.
	Existing int

	// Skipped is the number of events that could not be summarized.
	Skipped int
}
