package eventstream

import "context"

// Publisher publishes entity change events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *EntityChangeEvent) error
	Close() error
}

// Handler consumes one event. It must be safe to call again with the same
// event.
type Handler func(ctx context.Context, event *EntityChangeEvent) error

// Subscriber delivers events from a backend to a handler until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, handle Handler) error
	Close() error
}
