// Package memory defines the data model for the reminisce memory layer.
//
// A memory Unit is a cached tool-call outcome together with the structured
// pattern used to find it again, the concrete entities it depends on, and the
// bookkeeping (confidence, importance, tier, usage) that drives recall ranking,
// invalidation, and decay.
//
// The JSON field names follow the canonical persisted shape so that any
// storage backend can interoperate with the same documents.
package memory

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	// DefaultConfidence is applied by stores when a unit is created without one.
	DefaultConfidence = 0.5

	// DefaultImportance is applied by stores when a unit is created without one.
	DefaultImportance = 0.5
)

// Unit is a single cached memory.
type Unit struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id"`

	// Fingerprint is the exact-match key derived from the tool call that
	// produced this memory. Empty for memories learned without a tool call.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Pattern is the fuzzy retrieval descriptor.
	Pattern Pattern `json:"pattern"`

	// Entities are the concrete entities this memory is anchored to. They are
	// the targets of invalidation.
	Entities []EntityRef `json:"entities,omitempty"`

	// Relationships are asserted facts between entities.
	Relationships []Relationship `json:"relationships,omitempty"`

	// Result is the cached tool output.
	Result json.RawMessage `json:"result,omitempty"`

	Summary string  `json:"summary,omitempty"`
	Context Context `json:"context"`

	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`
	Tier       Tier    `json:"tier"`

	// Validated is set when a caller explicitly verified the cached result.
	Validated     bool       `json:"validated"`
	LastValidated *time.Time `json:"lastValidated,omitempty"`

	// LastAccessed is the zero time until the first recall hit.
	LastAccessed time.Time `json:"lastAccessed"`
	AccessCount  int64     `json:"accessCount"`

	RelatedMemories []string `json:"relatedMemories,omitempty"`

	// ExpiresAt is nil for units that never expire.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// scoresSet marks confidence and importance as caller-chosen, so a zero
	// value is kept on create instead of defaulted.
	scoresSet bool
}

// SetScores assigns confidence and importance and marks them as explicit.
func (u *Unit) SetScores(confidence, importance float64) {
	u.Confidence = confidence
	u.Importance = importance
	u.scoresSet = true
}

// Pattern describes what a memory is about, for non-exact matching.
type Pattern struct {
	Type             string           `json:"type" validate:"required"`
	Intent           string           `json:"intent,omitempty"`
	Keywords         []string         `json:"keywords,omitempty"`
	InvolvedEntities []InvolvedEntity `json:"involvedEntities,omitempty"`
}

// InvolvedEntity is a loose reference to an entity mentioned by a pattern.
type InvolvedEntity struct {
	Type       string         `json:"type"`
	Identifier string         `json:"identifier,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Role       string         `json:"role,omitempty"`
}

// EntityRef anchors a memory to a concrete entity held by a collaborator.
type EntityRef struct {
	EntityID   string `json:"entityId" validate:"required"`
	EntityType string `json:"entityType" validate:"required"`
	Role       string `json:"role,omitempty"`
}

// Key returns the (type, id) pair used for invalidation matching.
func (e EntityRef) Key() EntityKey {
	return EntityKey{Type: NormalizeEntityType(e.EntityType), ID: e.EntityID}
}

// NormalizeEntityType folds an entity type to the form stores index by.
func NormalizeEntityType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// EntityKey identifies an entity by type and id. An empty ID matches every
// entity of the type. Types compare case-insensitively.
type EntityKey struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Normalize returns the key with its type folded.
func (k EntityKey) Normalize() EntityKey {
	return EntityKey{Type: NormalizeEntityType(k.Type), ID: k.ID}
}

// Relationship asserts a fact between two entities.
type Relationship struct {
	SourceEntityID string `json:"sourceEntityId"`
	Type           string `json:"type"`
	TargetEntityID string `json:"targetEntityId"`
	Direction      string `json:"direction,omitempty"`
}

// Context records where a memory came from.
type Context struct {
	SessionID      string    `json:"sessionId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	SourceTool     string    `json:"sourceTool"`
	UserInput      string    `json:"userInput,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsExpired reports whether the unit has an expiry strictly before at.
func (u *Unit) IsExpired(at time.Time) bool {
	return u.ExpiresAt != nil && u.ExpiresAt.Before(at)
}

// HasTag reports whether the unit carries the given tag.
func (u *Unit) HasTag(tag string) bool {
	for _, t := range u.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// References reports whether the unit is anchored to the given entity. A key
// without an ID matches any entity of that type.
func (u *Unit) References(key EntityKey) bool {
	key = key.Normalize()
	for _, e := range u.Entities {
		if NormalizeEntityType(e.EntityType) != key.Type {
			continue
		}
		if key.ID == "" || e.EntityID == key.ID {
			return true
		}
	}
	return false
}

// IdleSince returns the instant the unit was last used, falling back to its
// creation time when it has never been recalled.
func (u *Unit) IdleSince() time.Time {
	if u.LastAccessed.IsZero() {
		return u.CreatedAt
	}
	return u.LastAccessed
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}

	c := *u
	c.Pattern.Keywords = append([]string(nil), u.Pattern.Keywords...)
	c.Pattern.InvolvedEntities = append([]InvolvedEntity(nil), u.Pattern.InvolvedEntities...)
	c.Entities = append([]EntityRef(nil), u.Entities...)
	c.Relationships = append([]Relationship(nil), u.Relationships...)
	c.Result = append(json.RawMessage(nil), u.Result...)
	c.RelatedMemories = append([]string(nil), u.RelatedMemories...)
	c.Tags = append([]string(nil), u.Tags...)

	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		c.ExpiresAt = &t
	}
	if u.LastValidated != nil {
		t := *u.LastValidated
		c.LastValidated = &t
	}

	return &c
}
