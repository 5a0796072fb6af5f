package eventstream

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event envelope schema.
	SchemaVersionV1 = 1

	// EventTypeEntityChanged tags envelopes carrying an EntityChangeEvent.
	EventTypeEntityChanged = "reminisce.entity.changed"
)

// EntityChangeEvent is emitted by collaborators when an entity the memory
// layer may depend on changes.
type EntityChangeEvent struct {
	EntityType string         `json:"entityType" validate:"required"`
	EntityID   string         `json:"entityId"`
	EventType  string         `json:"eventType" validate:"required"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// Validate checks the fields every rule lookup depends on.
func (e *EntityChangeEvent) Validate() error {
	if e == nil {
		return ErrNilEvent
	}
	if strings.TrimSpace(e.EntityType) == "" {
		return fmt.Errorf("%w: entityType is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalidEvent)
	}
	return nil
}

// Key identifies the entity for partitioning.
func (e *EntityChangeEvent) Key() string {
	return e.EntityType + ":" + e.EntityID
}

// Envelope is the transport-neutral wire payload.
type Envelope struct {
	SchemaVersion int               `json:"schema_version"`
	EventType     string            `json:"event_type"`
	EventID       string            `json:"event_id"`
	EmittedAt     time.Time         `json:"emitted_at"`
	Event         EntityChangeEvent `json:"event"`
}

// NewEnvelope wraps an event for publishing.
func NewEnvelope(id string, emittedAt time.Time, event *EntityChangeEvent) Envelope {
	return Envelope{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeEntityChanged,
		EventID:       id,
		EmittedAt:     emittedAt,
		Event:         *event,
	}
}
