package invalidation

import (
	"fmt"
	"strings"
)

// Wildcard matches any entity type in a rule key.
const Wildcard = "*"

// Action is what a rule does to matching memories.
type Action string

const (
	// ActionExpire expires matching memories and zeroes their confidence.
	ActionExpire Action = "expire"

	// ActionReduceConfidence lowers confidence without expiring.
	ActionReduceConfidence Action = "reduceConfidence"
)

// Scope selects which memories a rule applies to.
type Scope int

const (
	// ScopeEntity matches memories anchored to the event's entity id.
	ScopeEntity Scope = iota

	// ScopeType matches memories anchored to any entity of the event's type.
	ScopeType
)

func (s Scope) String() string {
	if s == ScopeType {
		return "type"
	}
	return "entity"
}

// MarshalText renders the scope by name.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a scope name.
func (s *Scope) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "entity":
		*s = ScopeEntity
	case "type":
		*s = ScopeType
	default:
		return fmt.Errorf("unknown rule scope %q", text)
	}
	return nil
}

// Key is an (entity type, event type) pair. EntityType may be Wildcard.
type Key struct {
	EntityType string `json:"entityType"`
	EventType  string `json:"eventType"`
}

func (k Key) String() string {
	return k.EntityType + "." + k.EventType
}

// Rule maps an event to an action over a scope.
type Rule struct {
	Action Action `json:"action"`
	Scope  Scope  `json:"scope"`
}

// Rules is a rule table. Lookups are case-insensitive.
type Rules map[Key]Rule

// DefaultRules returns the built-in rule table. Changes that make a cached
// fact plainly wrong expire it; soft signals only reduce confidence.
func DefaultRules() Rules {
	expire := Rule{Action: ActionExpire, Scope: ScopeEntity}
	reduce := Rule{Action: ActionReduceConfidence, Scope: ScopeEntity}

	return Rules{
		{"task", "status_changed"}: expire,
		{"task", "updated"}:        expire,
		{"task", "completed"}:      expire,
		{"task", "deleted"}:        expire,
		{"item", "transferred"}:    expire,
		{"item", "deleted"}:        expire,
		{"item", "updated"}:        expire,
		{"location", "deleted"}:    expire,
		{"contact", "deleted"}:     expire,
		{Wildcard, "deleted"}:      expire,

		{"item", "note_added"}:  reduce,
		{"location", "updated"}: reduce,
		{"contact", "updated"}:  reduce,
		{Wildcard, "updated"}:   reduce,

		{Wildcard, "created"}: {Action: ActionReduceConfidence, Scope: ScopeType},
	}
}

// Set adds or replaces a rule.
func (r Rules) Set(k Key, rule Rule) {
	r[normalize(k)] = rule
}

// Resolve looks up the exact rule for the pair, then the wildcard rule for
// the event type. ok is false when neither exists.
func (r Rules) Resolve(entityType, eventType string) (Rule, Key, bool) {
	exact := normalize(Key{EntityType: entityType, EventType: eventType})
	if rule, ok := r[exact]; ok {
		return rule, exact, true
	}

	wild := Key{EntityType: Wildcard, EventType: exact.EventType}
	if rule, ok := r[wild]; ok {
		return rule, wild, true
	}

	return Rule{}, Key{}, false
}

func normalize(k Key) Key {
	return Key{
		EntityType: strings.ToLower(strings.TrimSpace(k.EntityType)),
		EventType:  strings.ToLower(strings.TrimSpace(k.EventType)),
	}
}
