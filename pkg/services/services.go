// Package services wires the session store, memory indexer and artifact
// store named by descriptors into one Set.
//
// Resolution runs session, then memory, then artifact: memory indexers
// read events from the resolved session store. Backends naming the same
// database share one connection pool.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/eventstream/nop"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/worker"
)

// Config selects and configures the services.
type Config struct {
	// Session, Memory and Artifact are explicit descriptors. Empty ones
	// fall back to Env, then to the in-memory backend.
	Session  string
	Memory   string
	Artifact string

	// Env supplies environment defaults, typically the CLI's viper.
	Env resolver.Env

	// ArtifactRoot is the external artifact directory when a descriptor
	// does not name one.
	ArtifactRoot string

	// InlineThreshold and Codec configure artifact tiering. Zero values
	// mean the artifact package defaults.
	InlineThreshold int64
	Codec           string

	// AutoIndex indexes a session in the background whenever a
	// turn-complete event is appended through the Set.
	AutoIndex    bool
	IndexWorkers uint

	// Publisher receives append notifications. Nil disables publishing.
	// The Set owns it and closes it.
	Publisher eventstream.Publisher

	// Extend registers additional backends before resolution.
	Extend func(r *resolver.Registry, deps *Deps)

	Logger *slog.Logger
}

// Set is a resolved group of services. Appends and deletes that go through
// the Set keep the memory index, the artifacts and the event stream in step
// with the session store.
type Set struct {
	Sessions  storage.Driver
	Memory    memory.Indexer
	Artifacts artifact.Store

	publisher eventstream.Publisher
	pool      *worker.Pool
	logger    *slog.Logger
	now       func() time.Time
}

// Resolve builds a Set from cfg.
func Resolve(ctx context.Context, cfg Config) (*Set, error) {
	cfg.Logger = logger.OrNop(cfg.Logger)
	deps := &Deps{Config: &cfg, conns: newConnections()}
	defer deps.conns.release()

	reg := resolver.New()
	RegisterBuiltins(reg, deps)
	if cfg.Extend != nil {
		cfg.Extend(reg, deps)
	}

	set := &Set{logger: cfg.Logger, now: time.Now, publisher: cfg.Publisher}
	if set.publisher == nil {
		set.publisher = nop.NewPublisher()
	}

	sessions, err := resolver.ResolveAs[storage.Driver](ctx, reg, resolver.KindSession, cfg.Session, cfg.Env)
	if err != nil {
		set.Close()
		return nil, err
	}
	set.Sessions = sessions
	deps.Sessions = sessions

	set.Memory, err = resolver.ResolveAs[memory.Indexer](ctx, reg, resolver.KindMemory, cfg.Memory, cfg.Env)
	if err != nil {
		set.Close()
		return nil, err
	}

	set.Artifacts, err = resolver.ResolveAs[artifact.Store](ctx, reg, resolver.KindArtifact, cfg.Artifact, cfg.Env)
	if err != nil {
		set.Close()
		return nil, err
	}

	if cfg.AutoIndex {
		set.pool, err = worker.NewPool(&worker.Config{
			Indexer:    set.Memory,
			NumWorkers: cfg.IndexWorkers,
			Logger:     cfg.Logger,
		})
		if err != nil {
			set.Close()
			return nil, err
		}
	}

	cfg.Logger.Debug("resolved services",
		"session", resolver.Select(resolver.KindSession, cfg.Session, cfg.Env),
		"memory", resolver.Select(resolver.KindMemory, cfg.Memory, cfg.Env),
		"artifact", resolver.Select(resolver.KindArtifact, cfg.Artifact, cfg.Env),
		"auto_index", cfg.AutoIndex,
	)
	return set, nil
}

// CreateSession creates a session.
func (s *Set) CreateSession(ctx context.Context, id session.Identity, initial state.State) (*session.Session, error) {
	return s.Sessions.CreateSession(ctx, id, initial)
}

// AppendEvent appends ev, then publishes a notification and, for
// turn-complete events, queues the session for indexing. Neither follow-up
// can fail the append: the event is committed once the store returns.
func (s *Set) AppendEvent(ctx context.Context, id session.Identity, ev *session.Event) (*session.Event, error) {
	stored, err := s.Sessions.AppendEvent(ctx, id, ev)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.PublishEvent(ctx, eventstream.NewEventAppended(id, stored, s.now())); err != nil {
		s.logger.Warn("failed to publish event notification",
			"session", id.String(),
			"event_id", stored.ID,
			"error", err,
		)
	}
	if s.pool != nil && stored.TurnComplete {
		s.pool.Enqueue(worker.Job{Session: id})
	}
	return stored, nil
}

// DeleteSession removes the session's artifacts, then its memory entries,
// then the session with its events. A session that is already gone from the
// store is still swept from the other two.
func (s *Set) DeleteSession(ctx context.Context, id session.Identity) error {
	if err := s.Artifacts.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deleting artifacts: %w", err)
	}
	if err := s.Memory.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deleting memory entries: %w", err)
	}
	return s.Sessions.DeleteSession(ctx, id)
}

// Close drains background indexing and closes every service.
func (s *Set) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	var errs []error
	if s.Artifacts != nil {
		errs = append(errs, s.Artifacts.Close())
	}
	if s.Memory != nil {
		errs = append(errs, s.Memory.Close())
	}
	if s.Sessions != nil {
		errs = append(errs, s.Sessions.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	return errors.Join(errs...)
}
