package memory

import (
	"math"
	"time"
)

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Confidence *float64
	Importance *float64
	Tier       *Tier
	Summary    *string
	Validated  *bool

	// ExpiresAt sets an absolute expiry; ClearExpiry removes it. ClearExpiry
	// wins when both are set.
	ExpiresAt   *time.Time
	ClearExpiry bool

	LastAccessed *time.Time

	// IncrementAccess is added to accessCount.
	IncrementAccess int64

	// Tag and relation edits are applied as set operations.
	AddTags    []string
	RemoveTags []string
	AddRelated []string
}

// Normalize clamps confidence and importance into [0,1].
func (p *Patch) Normalize() {
	if p.Confidence != nil {
		p.Confidence = Ptr(Clamp(*p.Confidence))
	}
	if p.Importance != nil {
		p.Importance = Ptr(Clamp(*p.Importance))
	}
}

// HasSetOps reports whether the patch edits tags or related memories.
func (p *Patch) HasSetOps() bool {
	return len(p.AddTags) > 0 || len(p.RemoveTags) > 0 || len(p.AddRelated) > 0
}

// Apply mutates u in place and stamps UpdatedAt with now. Confidence and
// importance are clamped.
func (p Patch) Apply(u *Unit, now time.Time) {
	p.Normalize()

	if p.Confidence != nil {
		u.Confidence = *p.Confidence
	}
	if p.Importance != nil {
		u.Importance = *p.Importance
	}
	if p.Tier != nil {
		u.Tier = *p.Tier
	}
	if p.Summary != nil {
		u.Summary = *p.Summary
	}
	if p.Validated != nil {
		u.Validated = *p.Validated
		if *p.Validated {
			u.LastValidated = Ptr(now)
		}
	}
	if p.ExpiresAt != nil {
		u.ExpiresAt = Ptr(*p.ExpiresAt)
	}
	if p.ClearExpiry {
		u.ExpiresAt = nil
	}
	if p.LastAccessed != nil {
		u.LastAccessed = *p.LastAccessed
	}
	u.AccessCount += p.IncrementAccess

	u.Tags = AddToSet(u.Tags, p.AddTags...)
	u.Tags = RemoveFromSet(u.Tags, p.RemoveTags...)
	u.RelatedMemories = AddToSet(u.RelatedMemories, p.AddRelated...)

	u.UpdatedAt = now
}

// PrepareCreate fills the defaults a store applies to a new unit: timestamps,
// tier, confidence, importance and the tier's default expiry. Confidence and
// importance of exactly zero are treated as unset unless they were assigned
// with SetScores. Entity types are normalized.
func PrepareCreate(u *Unit, now time.Time) {
	u.CreatedAt = now
	u.UpdatedAt = now

	if u.Tier == "" {
		u.Tier = TierShort
	}
	if !u.scoresSet {
		if u.Confidence == 0 {
			u.Confidence = DefaultConfidence
		}
		if u.Importance == 0 {
			u.Importance = DefaultImportance
		}
	}
	u.scoresSet = false
	u.Confidence = Clamp(u.Confidence)
	u.Importance = Clamp(u.Importance)

	if u.ExpiresAt == nil {
		if ttl := u.Tier.DefaultTTL(); ttl > 0 {
			u.ExpiresAt = Ptr(now.Add(ttl))
		}
	}
	if u.Context.Timestamp.IsZero() {
		u.Context.Timestamp = now
	}
	for i := range u.Entities {
		u.Entities[i].EntityType = NormalizeEntityType(u.Entities[i].EntityType)
	}
}

// Clamp bounds v to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// AddToSet appends values not already present.
func AddToSet(set []string, values ...string) []string {
	for _, v := range values {
		if v != "" && !containsString(set, v) {
			set = append(set, v)
		}
	}
	return set
}

// RemoveFromSet drops every occurrence of values.
func RemoveFromSet(set []string, values ...string) []string {
	if len(values) == 0 {
		return set
	}
	out := set[:0:0]
	for _, s := range set {
		if !containsString(values, s) {
			out = append(out, s)
		}
	}
	return out
}
