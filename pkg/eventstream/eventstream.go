// Package eventstream publishes notifications about appended events so
// downstream consumers can follow sessions without polling the store.
package eventstream

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/spool/pkg/session"
)

const (
	// SchemaVersionV1 is the first version of the notification schema.
	SchemaVersionV1 = 1

	// EventTypeAppended is emitted after an event is committed.
	EventTypeAppended = "spool.event.appended"
)

// ErrNilEvent indicates a nil notification was provided to a publisher.
var ErrNilEvent = errors.New("nil event notification")

// Publisher publishes append notifications to a stream backend.
type Publisher interface {
	PublishEvent(ctx context.Context, event *EventAppended) error
	Close() error
}

// EventAppended is a transport-neutral notification for one committed
// event. It carries metadata only; consumers read content from the store.
type EventAppended struct {
	SchemaVersion  int              `json:"schema_version"`
	EventType      string           `json:"event_type"`
	NotificationID string           `json:"notification_id"`
	EmittedAt      time.Time        `json:"emitted_at"`
	Session        session.Identity `json:"session"`
	Event          EventMeta        `json:"event"`
}

// EventMeta summarizes the committed event.
type EventMeta struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Seq          int64     `json:"seq"`
	ContentSize  int       `json:"content_size"`
	StateKeys    []string  `json:"state_keys,omitempty"`
	Partial      bool      `json:"partial,omitempty"`
	TurnComplete bool      `json:"turn_complete,omitempty"`
	Interrupted  bool      `json:"interrupted,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
}

// NewEventAppended builds the notification for ev, which must be the event
// as the store returned it.
func NewEventAppended(id session.Identity, ev *session.Event, now time.Time) *EventAppended {
	meta := EventMeta{
		ID:           ev.ID,
		InvocationID: ev.InvocationID,
		Author:       ev.Author,
		Timestamp:    ev.Timestamp,
		Seq:          ev.Seq,
		ContentSize:  len(ev.Content),
		StateKeys:    ev.StateDelta.Keys(),
		Partial:      ev.Partial,
		TurnComplete: ev.TurnComplete,
		Interrupted:  ev.Interrupted,
	}
	if ev.Error != nil {
		meta.ErrorCode = ev.Error.Code
	}
	return &EventAppended{
		SchemaVersion:  SchemaVersionV1,
		EventType:      EventTypeAppended,
		NotificationID: uuid.NewString(),
		EmittedAt:      now.UTC(),
		Session:        id,
		Event:          meta,
	}
}

// PartitionKey groups notifications of one session so backends that
// partition by key keep them in order.
func (e *EventAppended) PartitionKey() string {
	return e.Session.String()
}
