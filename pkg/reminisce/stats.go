package reminisce

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

const (
	detailLimit    = 5
	usageTrendDays = 7
)

// StatsRequest selects the stats detail level.
type StatsRequest struct {
	Detailed bool `json:"detailed,omitempty"`
}

// Performance summarizes how useful the cache has been.
type Performance struct {
	// HitRate is the share of recall lookups since start that found a memory.
	HitRate       float64 `json:"hitRate"`
	AvgConfidence float64 `json:"avgConfidence"`

	// EstimatedSavings counts tool executions avoided by recall hits.
	EstimatedSavings int64 `json:"estimatedSavings"`
}

// DayUsage counts memories last used on a UTC day.
type DayUsage struct {
	Date     string `json:"date"`
	Accessed int    `json:"accessed"`
}

// Stats is the operator view of the store.
type Stats struct {
	Total        int                      `json:"total"`
	ByTier       map[memory.Tier]int      `json:"byTier"`
	ByConfidence memory.ConfidenceBuckets `json:"byConfidenceBucket"`
	Validated    int                      `json:"validated"`
	Expired      int                      `json:"expired"`
	Performance  Performance              `json:"performance"`

	TopMemories    []*memory.Unit `json:"topMemories,omitempty"`
	RecentMemories []*memory.Unit `json:"recentMemories,omitempty"`
	UsageTrend     []DayUsage     `json:"usageTrend,omitempty"`
}

// GetStats reports aggregate statistics. Basic stats come from the last
// scheduled refresh when available; detailed stats always query the store.
func (s *Service) GetStats(ctx context.Context, req StatsRequest) Result[*Stats] {
	st, err := s.stats(ctx, req)
	if err != nil {
		s.logFailure("stats", err)
		return fail[*Stats](err)
	}
	return ok(st)
}

func (s *Service) stats(ctx context.Context, req StatsRequest) (*Stats, error) {
	now := s.config.Clock.Now()

	var sum *memory.Summary
	if s.config.Scheduler != nil && !req.Detailed {
		sum = s.config.Scheduler.Stats()
	}
	if sum == nil {
		var err error
		sum, err = s.config.Driver.Summarize(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("summarize: %w", err)
		}
	}

	st := &Stats{
		Total:        sum.Total,
		ByTier:       sum.ByTier,
		ByConfidence: sum.ByConfidence,
		Validated:    sum.Validated,
		Expired:      sum.Expired,
		Performance: Performance{
			HitRate:          s.hitRate(),
			AvgConfidence:    sum.AvgConfidence,
			EstimatedSavings: sum.TotalAccess,
		},
	}
	if !req.Detailed {
		return st, nil
	}

	var err error
	st.TopMemories, err = s.config.Driver.Find(ctx, memory.Query{
		Sort: []memory.Order{
			{Field: memory.SortAccessCount, Desc: true},
			{Field: memory.SortLastAccessed, Desc: true},
		},
		Limit: detailLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("top memories: %w", err)
	}

	st.RecentMemories, err = s.config.Driver.Find(ctx, memory.Query{
		Sort:  []memory.Order{{Field: memory.SortCreatedAt, Desc: true}},
		Limit: detailLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}

	st.UsageTrend, err = s.usageTrend(ctx, now)
	if err != nil {
		return nil, err
	}

	return st, nil
}

// usageTrend counts memories by the UTC day they were last accessed, oldest
// day first, ending today.
func (s *Service) usageTrend(ctx context.Context, now time.Time) ([]DayUsage, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	trend := make([]DayUsage, 0, usageTrendDays)

	for i := usageTrendDays - 1; i >= 0; i-- {
		from := today.AddDate(0, 0, -i)
		to := from.AddDate(0, 0, 1)

		n, err := s.config.Driver.Count(ctx, memory.Filter{AccessedFrom: &from, AccessedTo: &to})
		if err != nil {
			return nil, fmt.Errorf("usage trend: %w", err)
		}
		trend = append(trend, DayUsage{Date: from.Format(time.DateOnly), Accessed: n})
	}

	return trend, nil
}

func (s *Service) hitRate() float64 {
	hits, misses := s.hits.Load(), s.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
