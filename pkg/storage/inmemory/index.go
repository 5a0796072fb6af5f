package inmemory

import (
	"sort"
	"strings"
	"time"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

type idSet map[string]struct{}

func (s idSet) add(id string)    { s[id] = struct{}{} }
func (s idSet) remove(id string) { delete(s, id) }

// indexes accelerate the predicates callers rely on: fingerprint, pattern
// type, entity membership, tier, and expiry.
type indexes struct {
	byFingerprint map[string]idSet
	byType        map[string]idSet
	byEntity      map[memory.EntityKey]idSet
	byEntityType  map[string]idSet
	byTier        map[memory.Tier]idSet

	// expiries is sorted by time, then id.
	expiries []expiry
}

type expiry struct {
	at time.Time
	id string
}

func newIndexes() *indexes {
	return &indexes{
		byFingerprint: make(map[string]idSet),
		byType:        make(map[string]idSet),
		byEntity:      make(map[memory.EntityKey]idSet),
		byEntityType:  make(map[string]idSet),
		byTier:        make(map[memory.Tier]idSet),
	}
}

func addTo[K comparable](m map[K]idSet, k K, id string) {
	s, ok := m[k]
	if !ok {
		s = make(idSet)
		m[k] = s
	}
	s.add(id)
}

func removeFrom[K comparable](m map[K]idSet, k K, id string) {
	if s, ok := m[k]; ok {
		s.remove(id)
		if len(s) == 0 {
			delete(m, k)
		}
	}
}

func (ix *indexes) add(u *memory.Unit) {
	if u.Fingerprint != "" {
		addTo(ix.byFingerprint, u.Fingerprint, u.ID)
	}
	addTo(ix.byType, strings.ToLower(u.Pattern.Type), u.ID)
	for _, e := range u.Entities {
		addTo(ix.byEntity, e.Key(), u.ID)
		addTo(ix.byEntityType, memory.NormalizeEntityType(e.EntityType), u.ID)
	}
	addTo(ix.byTier, u.Tier, u.ID)
	if u.ExpiresAt != nil {
		ix.insertExpiry(expiry{at: *u.ExpiresAt, id: u.ID})
	}
}

func (ix *indexes) remove(u *memory.Unit) {
	if u.Fingerprint != "" {
		removeFrom(ix.byFingerprint, u.Fingerprint, u.ID)
	}
	removeFrom(ix.byType, strings.ToLower(u.Pattern.Type), u.ID)
	for _, e := range u.Entities {
		removeFrom(ix.byEntity, e.Key(), u.ID)
		removeFrom(ix.byEntityType, memory.NormalizeEntityType(e.EntityType), u.ID)
	}
	removeFrom(ix.byTier, u.Tier, u.ID)
	if u.ExpiresAt != nil {
		ix.removeExpiry(expiry{at: *u.ExpiresAt, id: u.ID})
	}
}

func (ix *indexes) searchExpiry(e expiry) int {
	return sort.Search(len(ix.expiries), func(i int) bool {
		x := ix.expiries[i]
		if x.at.Equal(e.at) {
			return x.id >= e.id
		}
		return x.at.After(e.at)
	})
}

func (ix *indexes) insertExpiry(e expiry) {
	i := ix.searchExpiry(e)
	ix.expiries = append(ix.expiries, expiry{})
	copy(ix.expiries[i+1:], ix.expiries[i:])
	ix.expiries[i] = e
}

func (ix *indexes) removeExpiry(e expiry) {
	i := ix.searchExpiry(e)
	if i < len(ix.expiries) && ix.expiries[i] == e {
		ix.expiries = append(ix.expiries[:i], ix.expiries[i+1:]...)
	}
}

// expiringBefore returns ids whose expiry is strictly before t.
func (ix *indexes) expiringBefore(t time.Time) idSet {
	n := sort.Search(len(ix.expiries), func(i int) bool {
		return !ix.expiries[i].at.Before(t)
	})
	out := make(idSet, n)
	for _, e := range ix.expiries[:n] {
		out.add(e.id)
	}
	return out
}

// candidates narrows the search space using the most selective index the
// filter allows. A nil result means every unit must be scanned.
func (ix *indexes) candidates(f memory.Filter) idSet {
	switch {
	case len(f.IDs) > 0:
		out := make(idSet, len(f.IDs))
		for _, id := range f.IDs {
			out.add(id)
		}
		return out

	case f.Fingerprint != "":
		return union(ix.byFingerprint[f.Fingerprint])

	case len(f.Entities) > 0:
		out := make(idSet)
		for _, k := range f.Entities {
			k = k.Normalize()
			if k.ID == "" {
				mergeInto(out, ix.byEntityType[k.Type])
				continue
			}
			mergeInto(out, ix.byEntity[k])
		}
		return out

	case f.ExpiredBefore != nil:
		return ix.expiringBefore(*f.ExpiredBefore)

	case len(f.Tiers) > 0:
		out := make(idSet)
		for _, t := range f.Tiers {
			mergeInto(out, ix.byTier[t])
		}
		return out

	case f.PatternType != "":
		// Pattern type matching is by substring, so every distinct type is
		// tested once rather than every unit.
		out := make(idSet)
		for t, ids := range ix.byType {
			if memory.ContainsFold(t, f.PatternType) {
				mergeInto(out, ids)
			}
		}
		return out
	}

	return nil
}

func union(sets ...idSet) idSet {
	out := make(idSet)
	for _, s := range sets {
		mergeInto(out, s)
	}
	return out
}

func mergeInto(dst, src idSet) {
	for id := range src {
		dst.add(id)
	}
}
