// Package inmemory is a process-local session store and event log. It keeps
// the same ordering and atomicity guarantees as the SQL backends and is the
// default backend when no descriptor is configured.
package inmemory

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Driver implements storage.Driver with maps guarded by a single mutex.
// The mutex is never held while yielding to callers.
type Driver struct {
	// mu guards sessions and seq
	mu sync.RWMutex

	// sessions maps each identity to its session and event log
	sessions map[session.Identity]*record

	// seq is the last insertion sequence handed out across all sessions
	seq int64

	now func() time.Time
}

type record struct {
	sess   *session.Session
	events []*session.Event
	byID   map[string]int
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// NewDriver creates an empty in-memory driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		sessions: make(map[session.Identity]*record),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateSession stores a new session.
func (d *Driver) CreateSession(ctx context.Context, id session.Identity, initial state.State) (*session.Session, error) {
	const op = "create session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}
	st, err := storage.NormalizeState(op, initial)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure(op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; ok {
		return nil, storage.AlreadyExists(op, "session %s already exists", id)
	}
	now := storage.Timestamp(d.now())
	s := &session.Session{Identity: id, State: st, CreatedAt: now, UpdatedAt: now}
	d.sessions[id] = &record{sess: s, byID: make(map[string]int)}
	return s.Clone(), nil
}

// GetSession returns a copy of the session.
func (d *Driver) GetSession(ctx context.Context, id session.Identity) (*session.Session, error) {
	const op = "get session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure(op, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.sessions[id]
	if !ok {
		return nil, storage.NotFound(op, "session %s not found", id)
	}
	return r.sess.Clone(), nil
}

// ListSessions returns the user's sessions ordered by creation time.
func (d *Driver) ListSessions(ctx context.Context, appName, userID string) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("list sessions", err)
	}

	d.mu.RLock()
	var out []*session.Session
	for id, r := range d.sessions {
		if id.AppName == appName && id.UserID == userID {
			out = append(out, r.sess.Clone())
		}
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b *session.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.SessionID < b.SessionID {
			return -1
		}
		if a.SessionID > b.SessionID {
			return 1
		}
		return 0
	})
	return out, nil
}

// ApplyDelta records delta as a system event and returns the new session.
func (d *Driver) ApplyDelta(ctx context.Context, id session.Identity, delta state.State) (*session.Session, error) {
	const op = "apply delta"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure(op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.sessions[id]
	if !ok {
		return nil, storage.NotFound(op, "session %s not found", id)
	}
	if _, err := d.appendLocked(op, r, &session.Event{Author: session.AuthorSystem, StateDelta: delta}); err != nil {
		return nil, err
	}
	return r.sess.Clone(), nil
}

// DeleteSession drops the session and its events.
func (d *Driver) DeleteSession(ctx context.Context, id session.Identity) error {
	const op = "delete session"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storage.Failure(op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; !ok {
		return storage.NotFound(op, "session %s not found", id)
	}
	delete(d.sessions, id)
	return nil
}

// AppendEvent records ev and folds its delta into the session state.
func (d *Driver) AppendEvent(ctx context.Context, id session.Identity, ev *session.Event) (*session.Event, error) {
	const op = "append event"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure(op, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.sessions[id]
	if !ok {
		return nil, storage.NotFound(op, "session %s not found", id)
	}
	stored, err := d.appendLocked(op, r, ev)
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

func (d *Driver) appendLocked(op string, r *record, ev *session.Event) (*session.Event, error) {
	var last time.Time
	if n := len(r.events); n > 0 {
		last = r.events[n-1].Timestamp
	}
	stored, err := storage.PrepareEvent(op, ev, last, d.now())
	if err != nil {
		return nil, err
	}
	if _, dup := r.byID[stored.ID]; dup {
		return nil, storage.AlreadyExists(op, "event %s already exists", stored.ID)
	}

	d.seq++
	stored.Seq = d.seq
	r.byID[stored.ID] = len(r.events)
	r.events = append(r.events, stored)

	if !stored.StateDelta.Empty() {
		r.sess.State = r.sess.State.Merge(stored.StateDelta)
	}
	r.sess.UpdatedAt = storage.Timestamp(d.now())
	if r.sess.UpdatedAt.Before(stored.Timestamp) {
		r.sess.UpdatedAt = stored.Timestamp
	}
	return stored, nil
}

// ListEvents yields the session's events in order. Each page is copied
// under the read lock and yielded after it is released.
func (d *Driver) ListEvents(ctx context.Context, id session.Identity, sinceID string) iter.Seq2[*session.Event, error] {
	const op = "list events"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return storage.ErrorSeq(err)
	}

	return func(yield func(*session.Event, error) bool) {
		d.mu.RLock()
		r, ok := d.sessions[id]
		if !ok {
			d.mu.RUnlock()
			yield(nil, storage.NotFound(op, "session %s not found", id))
			return
		}
		start := 0
		if sinceID != "" {
			i, found := r.byID[sinceID]
			if !found {
				d.mu.RUnlock()
				yield(nil, storage.NotFound(op, "event %s not found", sinceID))
				return
			}
			start = i + 1
		}
		d.mu.RUnlock()

		for {
			if err := ctx.Err(); err != nil {
				yield(nil, storage.Failure(op, err))
				return
			}

			d.mu.RLock()
			r, ok = d.sessions[id]
			if !ok {
				d.mu.RUnlock()
				return
			}
			end := min(start+storage.EventPageSize, len(r.events))
			page := make([]*session.Event, 0, end-start)
			for _, ev := range r.events[start:end] {
				page = append(page, ev.Clone())
			}
			d.mu.RUnlock()

			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}
			if len(page) < storage.EventPageSize {
				return
			}
			start = end
		}
	}
}

// GetEvent returns one event by id.
func (d *Driver) GetEvent(ctx context.Context, id session.Identity, eventID string) (*session.Event, error) {
	const op = "get event"
	if err := storage.ValidateIdentity(op, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure(op, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.sessions[id]
	if !ok {
		return nil, storage.NotFound(op, "session %s not found", id)
	}
	i, ok := r.byID[eventID]
	if !ok {
		return nil, storage.NotFound(op, "event %s not found", eventID)
	}
	return r.events[i].Clone(), nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}
