package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
)

// MockIndexer is a test memory indexer that records calls and returns
// configurable results.
type MockIndexer struct {
	mu sync.Mutex

	// Indexed accumulates every session passed to IndexSession.
	Indexed []session.Identity

	// SearchResults is returned by Search for any query.
	SearchResults []memory.Result

	// FailIndex causes IndexSession to return an error.
	FailIndex bool

	// Started receives once per IndexSession call when non-nil.
	Started chan session.Identity

	// Release blocks IndexSession until closed when non-nil.
	Release chan struct{}
}

// NewMockIndexer creates a new mock indexer.
func NewMockIndexer() *MockIndexer {
	return &MockIndexer{}
}

func (m *MockIndexer) IndexSession(ctx context.Context, id session.Identity) (*memory.IndexReport, error) {
	m.mu.Lock()
	m.Indexed = append(m.Indexed, id)
	started, release, fail := m.Started, m.Release, m.FailIndex
	m.mu.Unlock()

	if started != nil {
		started <- id
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, errors.New("mock index failure")
	}
	return &memory.IndexReport{Indexed: 1}, nil
}

func (m *MockIndexer) Search(_ context.Context, _, _, _ string, limit int) ([]memory.Result, error) {
	if limit > 0 && len(m.SearchResults) > limit {
		return m.SearchResults[:limit], nil
	}
	return m.SearchResults, nil
}

func (m *MockIndexer) DeleteSession(context.Context, session.Identity) error {
	return nil
}

func (m *MockIndexer) Close() error {
	return nil
}

// Calls returns a snapshot of the sessions indexed so far.
func (m *MockIndexer) Calls() []session.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.Identity(nil), m.Indexed...)
}
