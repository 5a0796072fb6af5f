package memory

import (
	"strings"
	"time"
)

// Tier is the retention class of a memory unit.
type Tier string

const (
	TierShort    Tier = "short"
	TierMedium   Tier = "medium"
	TierLong     Tier = "long"
	TierArchived Tier = "archived"
)

// AllTiers lists every tier in seniority order.
var AllTiers = []Tier{TierShort, TierMedium, TierLong, TierArchived}

var defaultTTLs = map[Tier]time.Duration{
	TierShort:  24 * time.Hour,
	TierMedium: 7 * 24 * time.Hour,
	TierLong:   30 * 24 * time.Hour,
}

// ParseTier converts a tier name into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ValidationError{Field: "tier", Reason: "unknown tier " + `"` + s + `"`}
	}
	return t, nil
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierShort, TierMedium, TierLong, TierArchived:
		return true
	}
	return false
}

// Rank orders tiers by seniority. Archived ranks highest.
func (t Tier) Rank() int {
	switch t {
	case TierShort:
		return 0
	case TierMedium:
		return 1
	case TierLong:
		return 2
	case TierArchived:
		return 3
	}
	return -1
}

// DefaultTTL is the lifetime a new unit of this tier gets when the caller
// does not set an expiry. Zero means the unit never expires.
func (t Tier) DefaultTTL() time.Duration {
	return defaultTTLs[t]
}

// CanTransition reports whether a unit may move from one tier to another.
// Promotions advance one step at a time; any tier may be archived or
// downgraded to short.
func CanTransition(from, to Tier) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}

	switch {
	case from == to:
		return true
	case to == TierArchived, to == TierShort:
		return true
	case from == TierShort && to == TierMedium:
		return true
	case from == TierMedium && to == TierLong:
		return true
	}

	return false
}

// CanBulkTransition reports whether to is reachable from every tier, which is
// the requirement for tier changes applied to many units at once.
func CanBulkTransition(to Tier) bool {
	return to == TierShort || to == TierArchived
}
