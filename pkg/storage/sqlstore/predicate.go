package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// listSep delimits list values flattened into a text column so that a single
// element can be matched with LIKE '%|value|%'.
const listSep = "|"

func joinList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return listSep + strings.Join(values, listSep) + listSep
}

func listElem(v string) string {
	return listSep + v + listSep
}

// checkList rejects values that contain listSep. Such a value would split into
// two elements once flattened.
func checkList(field string, values []string) error {
	for _, v := range values {
		if strings.Contains(v, listSep) {
			return memory.ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("%q must not contain %q", v, listSep),
			}
		}
	}
	return nil
}

// elemPredicate builds the match for one list value. A value holding listSep
// can never be a stored element, so it matches nothing.
func elemPredicate(v string, match func(string) *sql.Predicate) *sql.Predicate {
	if strings.Contains(v, listSep) {
		return sql.False()
	}
	return match(v)
}

// nanos converts t to unix nanoseconds, mapping the zero time to 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// predicate translates a filter into a WHERE clause. It returns nil when the
// filter matches every unit.
func (d *Driver) predicate(f memory.Filter) *sql.Predicate {
	var ps []*sql.Predicate

	if len(f.IDs) > 0 {
		ps = append(ps, sql.In(colID, anySlice(f.IDs)...))
	}
	if f.Fingerprint != "" {
		ps = append(ps, sql.EQ(colFingerprint, f.Fingerprint))
	}
	if f.PatternType != "" {
		ps = append(ps, sql.ContainsFold(colPatternType, f.PatternType))
	}
	if f.Intent != "" {
		ps = append(ps, sql.ContainsFold(colPatternIntent, f.Intent))
	}
	if len(f.Keywords) > 0 {
		var or []*sql.Predicate
		for _, kw := range f.Keywords {
			or = append(or, elemPredicate(kw, func(v string) *sql.Predicate {
				return sql.ContainsFold(colKeywords, v)
			}))
		}
		ps = append(ps, sql.Or(or...))
	}
	if len(f.InvolvedTypes) > 0 {
		var or []*sql.Predicate
		for _, t := range f.InvolvedTypes {
			or = append(or, elemPredicate(t, func(v string) *sql.Predicate {
				return sql.ContainsFold(colInvolvedTypes, listElem(v))
			}))
		}
		ps = append(ps, sql.Or(or...))
	}
	if len(f.Entities) > 0 {
		ps = append(ps, sql.In(colID, d.entitySubquery(f.Entities)))
	}
	if len(f.Tiers) > 0 {
		ps = append(ps, sql.In(colTier, tierArgs(f.Tiers)...))
	}
	if len(f.ExcludeTiers) > 0 {
		ps = append(ps, sql.NotIn(colTier, tierArgs(f.ExcludeTiers)...))
	}
	if len(f.Tags) > 0 {
		var or []*sql.Predicate
		for _, t := range f.Tags {
			or = append(or, elemPredicate(t, func(v string) *sql.Predicate {
				return sql.Contains(colTags, listElem(v))
			}))
		}
		ps = append(ps, sql.Or(or...))
	}
	if f.MinConfidence != nil {
		ps = append(ps, sql.GTE(colConfidence, *f.MinConfidence))
	}
	if f.MaxConfidence != nil {
		ps = append(ps, sql.LT(colConfidence, *f.MaxConfidence))
	}
	if f.ExpiredBefore != nil {
		ps = append(ps, sql.And(
			sql.NotNull(colExpiresAt),
			sql.LT(colExpiresAt, nanos(*f.ExpiredBefore)),
		))
	}
	if f.LiveAt != nil {
		ps = append(ps, sql.Or(
			sql.IsNull(colExpiresAt),
			sql.GTE(colExpiresAt, nanos(*f.LiveAt)),
		))
	}
	if f.IdleBefore != nil {
		cutoff := nanos(*f.IdleBefore)
		ps = append(ps, sql.Or(
			sql.And(sql.EQ(colLastAccessed, 0), sql.LT(colCreatedAt, cutoff)),
			sql.And(sql.GT(colLastAccessed, 0), sql.LT(colLastAccessed, cutoff)),
		))
	}
	if f.AccessedFrom != nil {
		ps = append(ps, sql.GT(colLastAccessed, 0), sql.GTE(colLastAccessed, nanos(*f.AccessedFrom)))
	}
	if f.AccessedTo != nil {
		ps = append(ps, sql.GT(colLastAccessed, 0), sql.LT(colLastAccessed, nanos(*f.AccessedTo)))
	}
	if f.Validated != nil {
		ps = append(ps, sql.EQ(colValidated, *f.Validated))
	}
	if f.RelatedTo != "" {
		ps = append(ps, elemPredicate(f.RelatedTo, func(v string) *sql.Predicate {
			return sql.Contains(colRelated, listElem(v))
		}))
	}

	switch len(ps) {
	case 0:
		return nil
	case 1:
		return ps[0]
	}
	return sql.And(ps...)
}

// entitySubquery selects the ids of units anchored to any of the keys. Keys
// without an id match on type alone.
func (d *Driver) entitySubquery(keys []memory.EntityKey) *sql.Selector {
	var or []*sql.Predicate
	for _, k := range keys {
		k = k.Normalize()
		if k.ID == "" {
			or = append(or, sql.EQ(colEntityType, k.Type))
			continue
		}
		or = append(or, sql.And(sql.EQ(colEntityType, k.Type), sql.EQ(colEntityID, k.ID)))
	}

	return sql.Dialect(d.dialect).
		Select(colMemoryID).
		From(sql.Table(entitiesTable)).
		Where(sql.Or(or...))
}

func orderColumn(f memory.SortField) string {
	switch f {
	case memory.SortImportance:
		return colImportance
	case memory.SortConfidence:
		return colConfidence
	case memory.SortLastAccessed:
		return colLastAccessed
	case memory.SortCreatedAt:
		return colCreatedAt
	case memory.SortUpdatedAt:
		return colUpdatedAt
	case memory.SortAccessCount:
		return colAccessCount
	}
	return ""
}

func orderBy(ordering []memory.Order) []string {
	out := make([]string, 0, len(ordering))
	for _, o := range ordering {
		col := orderColumn(o.Field)
		if col == "" {
			continue
		}
		if o.Desc {
			out = append(out, sql.Desc(col))
		} else {
			out = append(out, sql.Asc(col))
		}
	}
	return out
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func tierArgs(tiers []memory.Tier) []any {
	out := make([]any, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
