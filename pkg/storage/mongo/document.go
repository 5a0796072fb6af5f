package mongo

import (
	"encoding/json"
	"time"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// document is the persisted shape of a unit. Field names follow the
// canonical camelCase layout.
type document struct {
	ID              string            `bson:"_id"`
	Fingerprint     string            `bson:"fingerprint,omitempty"`
	Pattern         patternDoc        `bson:"pattern"`
	Entities        []entityDoc       `bson:"entities"`
	Relationships   []relationshipDoc `bson:"relationships,omitempty"`
	Result          string            `bson:"result,omitempty"`
	Summary         string            `bson:"summary,omitempty"`
	Context         contextDoc        `bson:"context"`
	Confidence      float64           `bson:"confidence"`
	Importance      float64           `bson:"importance"`
	Tier            string            `bson:"tier"`
	Validated       bool              `bson:"validated"`
	LastValidated   *time.Time        `bson:"lastValidated,omitempty"`
	LastAccessed    *time.Time        `bson:"lastAccessed,omitempty"`
	AccessCount     int64             `bson:"accessCount"`
	RelatedMemories []string          `bson:"relatedMemories"`
	ExpiresAt       *time.Time        `bson:"expiresAt,omitempty"`
	Tags            []string          `bson:"tags"`
	CreatedAt       time.Time         `bson:"createdAt"`
	UpdatedAt       time.Time         `bson:"updatedAt"`
}

type patternDoc struct {
	Type             string        `bson:"type"`
	Intent           string        `bson:"intent,omitempty"`
	Keywords         []string      `bson:"keywords"`
	InvolvedEntities []involvedDoc `bson:"involvedEntities,omitempty"`
}

type involvedDoc struct {
	Type       string         `bson:"type"`
	Identifier string         `bson:"identifier,omitempty"`
	Attributes map[string]any `bson:"attributes,omitempty"`
	Role       string         `bson:"role,omitempty"`
}

type entityDoc struct {
	EntityID   string `bson:"entityId"`
	EntityType string `bson:"entityType"`
	Role       string `bson:"role,omitempty"`
}

type relationshipDoc struct {
	SourceEntityID string `bson:"sourceEntityId"`
	Type           string `bson:"type"`
	TargetEntityID string `bson:"targetEntityId"`
	Direction      string `bson:"direction,omitempty"`
}

type contextDoc struct {
	SessionID      string    `bson:"sessionId,omitempty"`
	ConversationID string    `bson:"conversationId,omitempty"`
	UserID         string    `bson:"userId,omitempty"`
	SourceTool     string    `bson:"sourceTool"`
	UserInput      string    `bson:"userInput,omitempty"`
	Timestamp      time.Time `bson:"timestamp"`
}

func toDocument(u *memory.Unit) *document {
	doc := &document{
		ID:          u.ID,
		Fingerprint: u.Fingerprint,
		Pattern: patternDoc{
			Type:     u.Pattern.Type,
			Intent:   u.Pattern.Intent,
			Keywords: nonNil(u.Pattern.Keywords),
		},
		Result:  string(u.Result),
		Summary: u.Summary,
		Context: contextDoc{
			SessionID:      u.Context.SessionID,
			ConversationID: u.Context.ConversationID,
			UserID:         u.Context.UserID,
			SourceTool:     u.Context.SourceTool,
			UserInput:      u.Context.UserInput,
			Timestamp:      u.Context.Timestamp,
		},
		Confidence:      u.Confidence,
		Importance:      u.Importance,
		Tier:            string(u.Tier),
		Validated:       u.Validated,
		LastValidated:   u.LastValidated,
		AccessCount:     u.AccessCount,
		RelatedMemories: nonNil(u.RelatedMemories),
		ExpiresAt:       u.ExpiresAt,
		Tags:            nonNil(u.Tags),
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		Entities:        make([]entityDoc, 0, len(u.Entities)),
	}

	if !u.LastAccessed.IsZero() {
		t := u.LastAccessed
		doc.LastAccessed = &t
	}
	for _, e := range u.Pattern.InvolvedEntities {
		doc.Pattern.InvolvedEntities = append(doc.Pattern.InvolvedEntities, involvedDoc(e))
	}
	for _, e := range u.Entities {
		doc.Entities = append(doc.Entities, entityDoc(e))
	}
	for _, r := range u.Relationships {
		doc.Relationships = append(doc.Relationships, relationshipDoc(r))
	}

	return doc
}

func (d *document) unit() *memory.Unit {
	u := &memory.Unit{
		ID:          d.ID,
		Fingerprint: d.Fingerprint,
		Pattern: memory.Pattern{
			Type:     d.Pattern.Type,
			Intent:   d.Pattern.Intent,
			Keywords: emptyToNil(d.Pattern.Keywords),
		},
		Summary: d.Summary,
		Context: memory.Context{
			SessionID:      d.Context.SessionID,
			ConversationID: d.Context.ConversationID,
			UserID:         d.Context.UserID,
			SourceTool:     d.Context.SourceTool,
			UserInput:      d.Context.UserInput,
			Timestamp:      d.Context.Timestamp,
		},
		Confidence:      d.Confidence,
		Importance:      d.Importance,
		Tier:            memory.Tier(d.Tier),
		Validated:       d.Validated,
		LastValidated:   d.LastValidated,
		AccessCount:     d.AccessCount,
		RelatedMemories: emptyToNil(d.RelatedMemories),
		ExpiresAt:       d.ExpiresAt,
		Tags:            emptyToNil(d.Tags),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}

	if d.Result != "" {
		u.Result = json.RawMessage(d.Result)
	}
	if d.LastAccessed != nil {
		u.LastAccessed = *d.LastAccessed
	}
	for _, e := range d.Pattern.InvolvedEntities {
		u.Pattern.InvolvedEntities = append(u.Pattern.InvolvedEntities, memory.InvolvedEntity(e))
	}
	for _, e := range d.Entities {
		u.Entities = append(u.Entities, memory.EntityRef(e))
	}
	for _, r := range d.Relationships {
		u.Relationships = append(u.Relationships, memory.Relationship(r))
	}

	return u
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyToNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
