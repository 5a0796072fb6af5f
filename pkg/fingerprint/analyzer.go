package fingerprint

import (
	"strings"
)

// DefaultCacheThreshold is the minimum complexity score worth caching.
const DefaultCacheThreshold = 3

// DefaultToolWeights reflects how expensive each tool is to recompute.
// Unlisted tools weigh DefaultToolWeight.
var DefaultToolWeights = map[string]int{
	"estimate_time":   3,
	"search_items":    3,
	"search_contacts": 3,
	"plan_route":      3,
	"query_location":  2,
	"query_items":     2,
	"query_contacts":  2,
	"query_tasks":     2,
	"get_schedule":    2,
	"query_bio_data":  1,
	"get_item":        1,
	"get_contact":     1,
}

// DefaultToolWeight applies to tools missing from the weight table.
const DefaultToolWeight = 1

// DefaultTextFields are free-text search parameters. They make a call more
// specific and more expensive to answer.
var DefaultTextFields = []string{
	"query", "q", "search", "text", "keyword", "keywords",
	"description", "notes", "userInput", "user_input",
}

// DefaultMutatingPrefixes mark tools that change state. Their results are
// never cached.
var DefaultMutatingPrefixes = []string{
	"create_", "add_", "update_", "set_", "delete_", "remove_",
	"transfer_", "move_", "complete_", "archive_",
}

// textFieldWeight is added per non-empty free-text parameter.
const textFieldWeight = 2

// AnalyzerConfig holds the analyzer heuristics.
type AnalyzerConfig struct {
	CacheThreshold   int
	ToolWeights      map[string]int
	TextFields       []string
	MutatingPrefixes []string
	TransientKeys    []string
}

// DefaultAnalyzerConfig returns the default heuristics.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		CacheThreshold:   DefaultCacheThreshold,
		ToolWeights:      DefaultToolWeights,
		TextFields:       DefaultTextFields,
		MutatingPrefixes: DefaultMutatingPrefixes,
		TransientKeys:    DefaultTransientKeys,
	}
}

// Analysis is the outcome of scoring one tool call.
type Analysis struct {
	Fingerprint     string `json:"fingerprint"`
	ComplexityScore int    `json:"complexityScore"`
	ShouldCache     bool   `json:"shouldCache"`
	Mutating        bool   `json:"mutating"`
}

// Analyzer scores tool calls. It is safe for concurrent use.
type Analyzer struct {
	threshold  int
	weights    map[string]int
	textFields map[string]struct{}
	mutating   []string
	transient  map[string]struct{}
}

// NewAnalyzer creates an analyzer. Zero-valued fields fall back to defaults.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	def := DefaultAnalyzerConfig()
	if cfg.CacheThreshold <= 0 {
		cfg.CacheThreshold = def.CacheThreshold
	}
	if cfg.ToolWeights == nil {
		cfg.ToolWeights = def.ToolWeights
	}
	if cfg.TextFields == nil {
		cfg.TextFields = def.TextFields
	}
	if cfg.MutatingPrefixes == nil {
		cfg.MutatingPrefixes = def.MutatingPrefixes
	}
	if cfg.TransientKeys == nil {
		cfg.TransientKeys = def.TransientKeys
	}

	return &Analyzer{
		threshold:  cfg.CacheThreshold,
		weights:    cfg.ToolWeights,
		textFields: toSet(cfg.TextFields),
		mutating:   cfg.MutatingPrefixes,
		transient:  toSet(cfg.TransientKeys),
	}
}

// Threshold returns the cache threshold in effect.
func (a *Analyzer) Threshold() int {
	return a.threshold
}

// Fingerprint computes the call fingerprint with this analyzer's transient keys.
func (a *Analyzer) Fingerprint(toolName string, params map[string]any) string {
	return fingerprint(toolName, params, a.transient)
}

// Analyze scores a tool call. The score is the tool's weight, plus one per
// meaningful parameter, plus a bonus per free-text field and per structured
// (object or list) parameter.
func (a *Analyzer) Analyze(toolName string, params map[string]any) Analysis {
	score := a.weight(toolName)

	for k, v := range params {
		if _, skip := a.transient[k]; skip || isEmpty(v) {
			continue
		}
		score++

		if _, ok := a.textFields[k]; ok {
			if _, isString := v.(string); isString {
				score += textFieldWeight
			}
		}
		switch v.(type) {
		case map[string]any, []any:
			score++
		}
	}

	mutating := a.IsMutating(toolName)
	return Analysis{
		Fingerprint:     a.Fingerprint(toolName, params),
		ComplexityScore: score,
		ShouldCache:     !mutating && score >= a.threshold,
		Mutating:        mutating,
	}
}

// IsMutating reports whether the tool name marks a state-changing call.
func (a *Analyzer) IsMutating(toolName string) bool {
	name := strings.ToLower(toolName)
	for _, p := range a.mutating {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// IsTransient reports whether a parameter is excluded from fingerprints.
func (a *Analyzer) IsTransient(key string) bool {
	_, ok := a.transient[key]
	return ok
}

func (a *Analyzer) weight(toolName string) int {
	if w, ok := a.weights[toolName]; ok {
		return w
	}
	return DefaultToolWeight
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
