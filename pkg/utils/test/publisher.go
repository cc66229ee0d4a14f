package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/spool/pkg/eventstream"
)

// MockPublisher records published notifications.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.EventAppended
	closed bool

	// Err is returned by every PublishEvent call when set.
	Err error
}

func (p *MockPublisher) PublishEvent(_ context.Context, ev *eventstream.EventAppended) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *MockPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Events returns a snapshot of the published notifications.
func (p *MockPublisher) Events() []*eventstream.EventAppended {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.EventAppended(nil), p.events...)
}

// Closed reports whether Close was called.
func (p *MockPublisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
