package session

import (
	"errors"
	"time"

	"github.com/papercomputeco/spool/pkg/state"
)

// EventError is the optional error an event carries, for example a failed
// tool call or a model refusal.
type EventError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Event is an immutable record of something that happened in a session.
type Event struct {
	// ID is unique within the session. The store assigns one when empty.
	ID string `json:"id"`

	// InvocationID groups the events produced by one agent invocation.
	InvocationID string `json:"invocation_id,omitempty"`

	// Author is the producer of the event: "user", an agent name or "system".
	Author string `json:"author"`

	// Timestamp is when the event happened. The store may move it forward so
	// that a session's events stay in insertion order.
	Timestamp time.Time `json:"timestamp"`

	// Content is the opaque payload. Usually UTF-8 text or JSON.
	Content []byte `json:"content,omitempty"`

	// StateDelta is merged into the session state when the event is appended.
	StateDelta state.State `json:"state_delta,omitempty"`

	Partial      bool        `json:"partial,omitempty"`
	TurnComplete bool        `json:"turn_complete,omitempty"`
	Interrupted  bool        `json:"interrupted,omitempty"`
	Error        *EventError `json:"error,omitempty"`

	// Seq is the store-assigned insertion sequence. Zero until appended.
	Seq int64 `json:"seq,omitempty"`
}

// Validate checks the fields a caller must supply.
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("event is required")
	}
	if e.Author == "" {
		return errors.New("event author is required")
	}
	if e.Error != nil && e.Error.Code == "" {
		return errors.New("event error code is required")
	}
	return nil
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Content != nil {
		c.Content = append([]byte(nil), e.Content...)
	}
	if e.StateDelta != nil {
		c.StateDelta = e.StateDelta.Clone()
	}
	if e.Error != nil {
		ee := *e.Error
		c.Error = &ee
	}
	return &c
}
