// Package session defines the identity, session and event types shared by
// every store in spool.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/spool/pkg/state"
)

// AuthorSystem is the author recorded on events the store writes on its own
// behalf, such as explicit state deltas.
const AuthorSystem = "system"

// Identity is the composite key of a session: application, user and
// session id. All three parts are required.
type Identity struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Validate reports the first missing part of the identity.
func (id Identity) Validate() error {
	switch {
	case id.AppName == "":
		return errors.New("app name is required")
	case id.UserID == "":
		return errors.New("user id is required")
	case id.SessionID == "":
		return errors.New("session id is required")
	}
	return nil
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.AppName, id.UserID, id.SessionID)
}

// Session is one conversation and its current state.
type Session struct {
	Identity

	State     state.State `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Clone returns a copy of s that shares no state with it.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.State = s.State.Clone()
	return &c
}
