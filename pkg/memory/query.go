package memory

import (
	"sort"
	"time"
)

// SortField names a unit field that results can be ordered by.
type SortField string

const (
	SortImportance   SortField = "importance"
	SortConfidence   SortField = "confidence"
	SortLastAccessed SortField = "lastAccessed"
	SortCreatedAt    SortField = "createdAt"
	SortUpdatedAt    SortField = "updatedAt"
	SortAccessCount  SortField = "accessCount"
)

// Order is one component of a sort.
type Order struct {
	Field SortField
	Desc  bool
}

// DefaultOrder prefers trustworthy, frequently used, recent memories. Recall
// ranking depends on this exact ordering.
var DefaultOrder = []Order{
	{Field: SortImportance, Desc: true},
	{Field: SortConfidence, Desc: true},
	{Field: SortLastAccessed, Desc: true},
	{Field: SortCreatedAt, Desc: true},
}

// Query is a filtered, ordered and limited selection of units.
type Query struct {
	Filter Filter

	// Sort defaults to DefaultOrder when empty.
	Sort []Order

	// Limit of zero means no limit.
	Limit int
}

// Ordering returns the effective sort for q.
func (q Query) Ordering() []Order {
	if len(q.Sort) == 0 {
		return DefaultOrder
	}
	return q.Sort
}

// SortUnits orders units in place by the given ordering. Drivers that sort
// in process use it so every backend ranks identically.
func SortUnits(units []*Unit, ordering []Order) {
	sort.SliceStable(units, func(i, j int) bool {
		for _, o := range ordering {
			c := compareField(units[i], units[j], o.Field)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareField(a, b *Unit, field SortField) int {
	switch field {
	case SortImportance:
		return compareFloat(a.Importance, b.Importance)
	case SortConfidence:
		return compareFloat(a.Confidence, b.Confidence)
	case SortLastAccessed:
		return compareTime(a.LastAccessed, b.LastAccessed)
	case SortCreatedAt:
		return compareTime(a.CreatedAt, b.CreatedAt)
	case SortUpdatedAt:
		return compareTime(a.UpdatedAt, b.UpdatedAt)
	case SortAccessCount:
		switch {
		case a.AccessCount < b.AccessCount:
			return -1
		case a.AccessCount > b.AccessCount:
			return 1
		}
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
