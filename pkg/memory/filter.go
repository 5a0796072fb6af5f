package memory

import (
	"strings"
	"time"
)

// Filter selects memory units. Every non-zero field must hold for a unit to
// match; list fields match when any element matches.
type Filter struct {
	IDs         []string
	Fingerprint string

	// PatternType, Intent and Keywords use case-insensitive substring matching.
	PatternType string
	Intent      string
	Keywords    []string

	// InvolvedTypes matches pattern.involvedEntities by entity type.
	InvolvedTypes []string

	// Entities matches units whose entities contain any of the keys.
	Entities []EntityKey

	Tiers        []Tier
	ExcludeTiers []Tier
	Tags         []string

	// MinConfidence is inclusive, MaxConfidence is exclusive.
	MinConfidence *float64
	MaxConfidence *float64

	// ExpiredBefore matches units with an expiry strictly before the instant.
	ExpiredBefore *time.Time

	// LiveAt matches units without an expiry or expiring at/after the instant.
	LiveAt *time.Time

	// IdleBefore matches units whose last use (or creation, if never used)
	// is strictly before the instant.
	IdleBefore *time.Time

	// AccessedFrom and AccessedTo bound lastAccessed to [from, to).
	AccessedFrom *time.Time
	AccessedTo   *time.Time

	Validated *bool

	// RelatedTo matches units listing the id in relatedMemories.
	RelatedTo string
}

// Ptr returns a pointer to v. It keeps filter and patch literals short.
func Ptr[T any](v T) *T {
	return &v
}

// Matches evaluates the filter against a unit in process. Drivers that cannot
// push a predicate down to their backend use it as the reference semantics.
func (f Filter) Matches(u *Unit) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, u.ID) {
		return false
	}
	if f.Fingerprint != "" && u.Fingerprint != f.Fingerprint {
		return false
	}
	if f.PatternType != "" && !ContainsFold(u.Pattern.Type, f.PatternType) {
		return false
	}
	if f.Intent != "" && !ContainsFold(u.Pattern.Intent, f.Intent) {
		return false
	}
	if len(f.Keywords) > 0 && !matchesAnyKeyword(u.Pattern.Keywords, f.Keywords) {
		return false
	}
	if len(f.InvolvedTypes) > 0 && !involvesAnyType(u.Pattern.InvolvedEntities, f.InvolvedTypes) {
		return false
	}
	if len(f.Entities) > 0 && !referencesAny(u, f.Entities) {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, u.Tier) {
		return false
	}
	if len(f.ExcludeTiers) > 0 && containsTier(f.ExcludeTiers, u.Tier) {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(u, f.Tags) {
		return false
	}
	if f.MinConfidence != nil && u.Confidence < *f.MinConfidence {
		return false
	}
	if f.MaxConfidence != nil && u.Confidence >= *f.MaxConfidence {
		return false
	}
	if f.ExpiredBefore != nil && !u.IsExpired(*f.ExpiredBefore) {
		return false
	}
	if f.LiveAt != nil && u.IsExpired(*f.LiveAt) {
		return false
	}
	if f.IdleBefore != nil && !u.IdleSince().Before(*f.IdleBefore) {
		return false
	}
	if f.AccessedFrom != nil && (u.LastAccessed.IsZero() || u.LastAccessed.Before(*f.AccessedFrom)) {
		return false
	}
	if f.AccessedTo != nil && (u.LastAccessed.IsZero() || !u.LastAccessed.Before(*f.AccessedTo)) {
		return false
	}
	if f.Validated != nil && u.Validated != *f.Validated {
		return false
	}
	if f.RelatedTo != "" && !containsString(u.RelatedMemories, f.RelatedTo) {
		return false
	}
	return true
}

// ContainsFold reports whether substr is within s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func matchesAnyKeyword(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if ContainsFold(h, w) {
				return true
			}
		}
	}
	return false
}

func involvesAnyType(involved []InvolvedEntity, types []string) bool {
	for _, e := range involved {
		for _, t := range types {
			if strings.EqualFold(e.Type, t) {
				return true
			}
		}
	}
	return false
}

func referencesAny(u *Unit, keys []EntityKey) bool {
	for _, k := range keys {
		if u.References(k) {
			return true
		}
	}
	return false
}

func hasAnyTag(u *Unit, tags []string) bool {
	for _, t := range tags {
		if u.HasTag(t) {
			return true
		}
	}
	return false
}

func containsTier(tiers []Tier, t Tier) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
