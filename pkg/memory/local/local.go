// Package local provides an in-process implementation of memory.Indexer.
//
// Entries live in maps keyed by session and event id. Search scans the
// user's entries, so this is a local-dev and test story; the SQL indexer
// prefilters candidates in the database.
package local

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Config holds configuration for the local indexer.
type Config struct {
	// Events is the event log entries are derived from.
	Events memory.EventSource

	// Logger reports events skipped during indexing.
	Logger *slog.Logger
}

// Driver implements memory.Indexer using in-process data structures.
type Driver struct {
	events memory.EventSource
	logger *slog.Logger

	mu sync.RWMutex

	// entries maps session -> event id -> entry derived from that event.
	entries map[session.Identity]map[string]memory.Entry
}

// NewDriver creates a local indexer reading from config.Events.
func NewDriver(config Config) *Driver {
	return &Driver{
		events:  config.Events,
		logger:  logger.OrNop(config.Logger),
		entries: make(map[session.Identity]map[string]memory.Entry),
	}
}

// IndexSession derives entries for the session's unindexed events.
func (d *Driver) IndexSession(ctx context.Context, id session.Identity) (*memory.IndexReport, error) {
	const op = "index session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}

	report := &memory.IndexReport{}
	for ev, err := range d.events.ListEvents(ctx, id, "") {
		if err != nil {
			return nil, err
		}

		d.mu.RLock()
		_, exists := d.entries[id][ev.ID]
		d.mu.RUnlock()
		if exists {
			report.Existing++
			continue
		}

		entry, err := memory.Derive(id, ev)
		if errors.Is(err, memory.ErrUnindexable) {
			d.logger.Warn("skipping unindexable event", "session", id.String(), "event", ev.ID)
			report.Skipped++
			continue
		}
		if err != nil {
			return nil, storage.Failure(op, err)
		}

		d.mu.Lock()
		byEvent, ok := d.entries[id]
		if !ok {
			byEvent = make(map[string]memory.Entry)
			d.entries[id] = byEvent
		}
		if _, raced := byEvent[ev.ID]; raced {
			report.Existing++
		} else {
			byEvent[ev.ID] = entry
			report.Indexed++
		}
		d.mu.Unlock()
	}

	d.logger.Debug("indexed session", "session", id.String(), "indexed", report.Indexed, "skipped", report.Skipped)
	return report, nil
}

// Search ranks the user's entries against query.
func (d *Driver) Search(ctx context.Context, appName, userID, query string, limit int) ([]memory.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("search memory", err)
	}
	terms := memory.QueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	var candidates []memory.Entry
	for id, byEvent := range d.entries {
		if id.AppName != appName || id.UserID != userID {
			continue
		}
		for _, e := range byEvent {
			if memory.Matches(e, terms) {
				candidates = append(candidates, e)
			}
		}
	}
	d.mu.RUnlock()

	// Return copies to avoid callers mutating internal state.
	results := memory.Rank(candidates, query, limit)
	for i := range results {
		results[i].Keywords = slices.Clone(results[i].Keywords)
	}
	return results, nil
}

// DeleteSession drops the session's entries.
func (d *Driver) DeleteSession(_ context.Context, id session.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.entries, id)
	return nil
}

// Close is a no-op for the in-memory indexer.
func (d *Driver) Close() error {
	return nil
}
