package memory

// Confidence bucket boundaries used by aggregate statistics.
const (
	HighConfidence   = 0.8
	MediumConfidence = 0.5
)

// ConfidenceBuckets counts units by trust level.
type ConfidenceBuckets struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Summary is the aggregate state of a store at an instant.
type Summary struct {
	Total         int               `json:"total"`
	ByTier        map[Tier]int      `json:"byTier"`
	ByConfidence  ConfidenceBuckets `json:"byConfidenceBucket"`
	Validated     int               `json:"validated"`
	Expired       int               `json:"expired"`
	TotalAccess   int64             `json:"totalAccess"`
	AvgConfidence float64           `json:"avgConfidence"`
}

// NewSummary returns a Summary with every tier present.
func NewSummary() *Summary {
	s := &Summary{ByTier: make(map[Tier]int, len(AllTiers))}
	for _, t := range AllTiers {
		s.ByTier[t] = 0
	}
	return s
}

// Bucket places a confidence value into its bucket.
func (b *ConfidenceBuckets) Bucket(confidence float64) {
	switch {
	case confidence >= HighConfidence:
		b.High++
	case confidence >= MediumConfidence:
		b.Medium++
	default:
		b.Low++
	}
}
