// Package kafka publishes append notifications to a Kafka topic. Messages
// are keyed by session, so the notifications of one session land on one
// partition in append order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/logger"
)

const (
	// DefaultWriteTimeout bounds one publish.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultBatchTimeout is how long the writer holds a partial batch.
	// PublishEvent runs inline with every append and waits for the flush.
	DefaultBatchTimeout = 5 * time.Millisecond
)

// Config configures the publisher.
type Config struct {
	Brokers []string
	Topic   string

	// ClientID identifies the producer to the brokers.
	ClientID string

	WriteTimeout time.Duration

	// BatchTimeout caps the time a notification waits for other messages
	// to share its batch. kafka-go defaults to one second.
	BatchTimeout time.Duration

	Logger *slog.Logger
}

// Publisher writes notifications with a kafka-go Writer.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher validates config and creates a publisher. No connection is
// made until the first publish.
func NewPublisher(config Config) (*Publisher, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultBatchTimeout
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: config.WriteTimeout,
		BatchTimeout: config.BatchTimeout,
	}
	if config.ClientID != "" {
		w.Transport = &kafkago.Transport{ClientID: config.ClientID}
	}
	return &Publisher{writer: w, logger: logger.OrNop(config.Logger)}, nil
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.writer.Topic
}

// PublishEvent writes one notification and waits for the brokers to
// acknowledge it.
func (p *Publisher) PublishEvent(ctx context.Context, event *eventstream.EventAppended) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to kafka topic %s: %w", p.writer.Topic, err)
	}
	p.logger.Debug("published event notification",
		"topic", p.writer.Topic,
		"session", event.Session.String(),
		"event_id", event.Event.ID,
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message encodes a notification as a Kafka message.
func Message(event *eventstream.EventAppended) (kafkago.Message, error) {
	if event == nil {
		return kafkago.Message{}, eventstream.ErrNilEvent
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding event notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.PartitionKey()),
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
	}, nil
}
