// Package storage defines the session store and event log contract that
// every spool backend implements, along with the error taxonomy shared by
// all stores.
package storage

import (
	"context"
	"iter"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
)

// EventPageSize is the number of events backends read per round trip when
// iterating an event log.
const EventPageSize = 256

// SessionStore persists sessions and their state.
type SessionStore interface {
	// CreateSession stores a new session with the given initial state.
	// Returns an AlreadyExists error if the identity is taken, leaving the
	// existing session untouched.
	CreateSession(ctx context.Context, id session.Identity, initial state.State) (*session.Session, error)

	// GetSession returns the session and its current state.
	GetSession(ctx context.Context, id session.Identity) (*session.Session, error)

	// ListSessions returns every session of a user within an app, oldest first.
	ListSessions(ctx context.Context, appName, userID string) ([]*session.Session, error)

	// ApplyDelta merges delta into the session state. The change is
	// recorded as a system-authored event so state never changes without
	// a corresponding entry in the log.
	ApplyDelta(ctx context.Context, id session.Identity, delta state.State) (*session.Session, error)

	// DeleteSession removes the session, its events and every row derived
	// from them in one transaction.
	DeleteSession(ctx context.Context, id session.Identity) error
}

// EventLog is the append-only history of a session.
type EventLog interface {
	// AppendEvent records ev and merges its state delta into the session
	// state atomically. The stored event is returned with its id, seq and
	// final timestamp filled in.
	AppendEvent(ctx context.Context, id session.Identity, ev *session.Event) (*session.Event, error)

	// ListEvents lazily yields the session's events in (timestamp, seq)
	// order, starting after sinceID when it is non-empty. Iteration stops
	// at the first error, which is yielded with a nil event.
	ListEvents(ctx context.Context, id session.Identity, sinceID string) iter.Seq2[*session.Event, error]

	// GetEvent returns a single event.
	GetEvent(ctx context.Context, id session.Identity, eventID string) (*session.Event, error)
}

// Driver is a complete session store and event log backend.
type Driver interface {
	SessionStore
	EventLog

	// Close releases the backend's resources.
	Close() error
}

// CollectEvents drains an event sequence into a slice.
func CollectEvents(seq iter.Seq2[*session.Event, error]) ([]*session.Event, error) {
	var out []*session.Event
	for ev, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// ErrorSeq returns a sequence that yields err once.
func ErrorSeq(err error) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		yield(nil, err)
	}
}
