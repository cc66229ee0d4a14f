package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	cursorFile = "cursors.json"
)

// Cursors records, per session, the last event id `spool event tail`
// printed, so a later tail can resume after it.
type Cursors map[string]string

// LoadCursors loads the cursors from a target .spool/cursors.json.
// Returns an empty set if no cursor file exists.
func (m *Manager) LoadCursors(overrideDir string) (Cursors, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, cursorFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Cursors{}, nil
		}
		return nil, fmt.Errorf("reading cursors: %w", err)
	}

	cursors := Cursors{}
	if err := json.Unmarshal(data, &cursors); err != nil {
		return nil, fmt.Errorf("parsing cursors: %w", err)
	}

	return cursors, nil
}

// SaveCursor records eventID as the last event seen for session.
func (m *Manager) SaveCursor(session, eventID, overrideDir string) error {
	if session == "" {
		return errors.New("cannot save a cursor without a session")
	}

	cursors, err := m.LoadCursors(overrideDir)
	if err != nil {
		return err
	}
	cursors[session] = eventID

	return m.writeCursors(cursors, overrideDir)
}

// ClearCursor forgets the cursor of session. Returns nil if none exists.
func (m *Manager) ClearCursor(session, overrideDir string) error {
	cursors, err := m.LoadCursors(overrideDir)
	if err != nil {
		return err
	}
	if _, ok := cursors[session]; !ok {
		return nil
	}
	delete(cursors, session)

	return m.writeCursors(cursors, overrideDir)
}

func (m *Manager) writeCursors(cursors Cursors, overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cursors, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cursors: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, cursorFile), data, 0o600); err != nil {
		return fmt.Errorf("writing cursors: %w", err)
	}

	return nil
}
