// Package redisstream publishes append notifications to a Redis stream
// with XADD.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/logger"
)

// DefaultMaxLen caps the stream length. Trimming is approximate.
const DefaultMaxLen = 100_000

// Config configures the publisher.
type Config struct {
	// Addr is host:port of the Redis server.
	Addr string

	// Stream is the stream key.
	Stream string

	MaxLen int64

	Logger *slog.Logger
}

// Publisher appends notifications to a stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewPublisher validates config and creates a publisher.
func NewPublisher(config Config) (*Publisher, error) {
	if config.Addr == "" {
		return nil, errors.New("redis publisher requires an address")
	}
	if config.Stream == "" {
		return nil, errors.New("redis publisher requires a stream key")
	}
	if config.MaxLen <= 0 {
		config.MaxLen = DefaultMaxLen
	}
	return &Publisher{
		client: redis.NewClient(&redis.Options{Addr: config.Addr}),
		stream: config.Stream,
		maxLen: config.MaxLen,
		logger: logger.OrNop(config.Logger),
	}, nil
}

// PublishEvent appends one entry to the stream.
func (p *Publisher) PublishEvent(ctx context.Context, event *eventstream.EventAppended) error {
	args, err := Args(p.stream, p.maxLen, event)
	if err != nil {
		return err
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("publishing to redis stream %s: %w", p.stream, err)
	}
	p.logger.Debug("published event notification",
		"stream", p.stream,
		"entry_id", id,
		"session", event.Session.String(),
		"event_id", event.Event.ID,
	)
	return nil
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Args builds the XADD arguments for a notification.
func Args(stream string, maxLen int64, event *eventstream.EventAppended) (*redis.XAddArgs, error) {
	if event == nil {
		return nil, eventstream.ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event notification: %w", err)
	}
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"session":    event.PartitionKey(),
			"event_type": event.EventType,
			"payload":    string(payload),
		},
	}, nil
}
