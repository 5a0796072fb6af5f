// Package kafka carries entity change events over Apache Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
)

const (
	// DefaultTopic is used when no topic is configured.
	DefaultTopic = "reminisce.entity-changes"

	// DefaultGroupID is the consumer group of the invalidation consumer.
	DefaultGroupID = "reminisce-invalidation"

	defaultHandleAttempts = 3
	defaultHandleBackoff  = 200 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures a Kafka publisher or subscriber.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *zap.Logger
}

func (c *Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka requires at least one broker")
	}
	if strings.TrimSpace(c.Topic) == "" {
		c.Topic = DefaultTopic
	}
	if strings.TrimSpace(c.GroupID) == "" {
		c.GroupID = DefaultGroupID
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Publisher writes events keyed by entity, so changes to one entity stay
// ordered within a partition.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(c Config) (*Publisher, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(c.Brokers...),
			Topic:                  c.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
		now: time.Now,
	}, nil
}

// Publish wraps the event in an envelope and writes it.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.EntityChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	now := p.now().UTC()
	payload, err := json.Marshal(eventstream.NewEnvelope(uuid.NewString(), now, event))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.Key()),
		Value: payload,
		Time:  now,
	}); err != nil {
		return fmt.Errorf("write entity change: %w", err)
	}

	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Subscriber consumes events as part of a consumer group. Offsets are
// committed after the handler returns; handler failures are retried a few
// times and then skipped, so one poisoned event cannot stall the partition.
type Subscriber struct {
	reader  messageReader
	logger  *zap.Logger
	backoff time.Duration
}

// NewSubscriber creates a Kafka-backed subscriber.
func NewSubscriber(c Config) (*Subscriber, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	return &Subscriber{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  c.Brokers,
			GroupID:  c.GroupID,
			Topic:    c.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		logger:  c.Logger,
		backoff: defaultHandleBackoff,
	}, nil
}

// Subscribe blocks, delivering events to handle until ctx is cancelled.
func (s *Subscriber) Subscribe(ctx context.Context, handle eventstream.Handler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch entity change: %w", err)
		}

		s.deliver(ctx, msg, handle)

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit entity change: %w", err)
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, msg kafkago.Message, handle eventstream.Handler) {
	var env eventstream.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		s.logger.Warn("dropping undecodable entity change",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return
	}
	if env.EventType != eventstream.EventTypeEntityChanged {
		s.logger.Debug("ignoring foreign event", zap.String("event_type", env.EventType))
		return
	}

	event := env.Event
	if event.Timestamp.IsZero() {
		event.Timestamp = env.EmittedAt
	}

	var err error
	for attempt := 1; attempt <= defaultHandleAttempts; attempt++ {
		if err = handle(ctx, &event); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}

	s.logger.Error("entity change handler failed, skipping",
		zap.String("event_id", env.EventID),
		zap.String("entity_type", event.EntityType),
		zap.String("event_type", event.EventType),
		zap.Error(err),
	)
}

// Close closes the underlying reader.
func (s *Subscriber) Close() error {
	return s.reader.Close()
}
