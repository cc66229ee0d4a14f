// Package worker provides an asynchronous worker pool that indexes sessions
// into a memory.Indexer in the background.
//
// The pool decouples indexing from the append path, so appending an event
// never waits on summary derivation or ranking tables.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 30 * time.Second
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Session session.Identity
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Indexer receives the sessions to index.
	Indexer memory.Indexer

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds one IndexSession call (defaults to 30s).
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool processes indexing jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	// pending holds sessions that are queued but not yet picked up, so a
	// burst of appends to one session queues one job.
	mu      sync.Mutex
	pending map[session.Identity]struct{}
	closed  bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Indexer == nil {
		return nil, fmt.Errorf("worker pool requires an indexer")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config:  c,
		queue:   make(chan Job, c.QueueSize),
		logger:  logger.OrNop(c.Logger),
		pending: make(map[session.Identity]struct{}),
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if the job is queued or an identical job is already pending,
// false if the queue is full or the pool is closed, resulting in the job
// being dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.pending[job.Session]; ok {
		return true
	}

	select {
	case p.queue <- job:
		p.pending[job.Session] = struct{}{}
		p.logger.Debug("job queued", "session", job.Session.String())
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped", "session", job.Session.String())
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.mu.Lock()
		delete(p.pending, job.Session)
		p.mu.Unlock()

		p.processJob(job)
	}

	p.logger.Debug("index worker stopped", "worker_id", id)
}

// processJob indexes one session. Errors are logged; the next append to
// the session queues another attempt.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	report, err := p.config.Indexer.IndexSession(ctx, job.Session)
	if err != nil {
		p.logger.Error("background indexing failed",
			"session", job.Session.String(),
			"error", err,
		)
		return
	}

	p.logger.Info("session indexed",
		"session", job.Session.String(),
		"indexed", report.Indexed,
		"existing", report.Existing,
		"skipped", report.Skipped,
	)
}
