package nop

import (
	"context"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish validates input and otherwise does nothing.
func (p *Publisher) Publish(_ context.Context, event *eventstream.EntityChangeEvent) error {
	return event.Validate()
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber never delivers anything. Subscribe blocks until ctx is done.
type Subscriber struct{}

// NewSubscriber creates a new no-op subscriber.
func NewSubscriber() *Subscriber {
	return &Subscriber{}
}

// Subscribe waits for cancellation.
func (s *Subscriber) Subscribe(ctx context.Context, _ eventstream.Handler) error {
	<-ctx.Done()
	return nil
}

// Close is a no-op.
func (s *Subscriber) Close() error {
	return nil
}
