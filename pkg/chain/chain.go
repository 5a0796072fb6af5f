// Package chain tracks multi-step query contexts and detects when consecutive
// tool calls depend on each other.
//
// Contexts live in process memory only. They are dropped after a period of
// inactivity or, when the population cap is reached, oldest activity first.
package chain

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/reminisce/pkg/fingerprint"
	"github.com/papercomputeco/reminisce/pkg/metrics"
)

const (
	DefaultMaxContexts       = 100
	DefaultIdleTimeout       = 30 * time.Minute
	DefaultCompoundThreshold = 6
)

// Step is one tool call within a context.
type Step struct {
	ID                 string         `json:"id"`
	Timestamp          time.Time      `json:"timestamp"`
	ToolName           string         `json:"toolName"`
	Params             map[string]any `json:"params,omitempty"`
	Result             any            `json:"result,omitempty"`
	Fingerprint        string         `json:"fingerprint"`
	Complexity         int            `json:"complexity"`
	PreviousStepID     string         `json:"previousStepId,omitempty"`
	RelationToPrevious string         `json:"relationToPrevious,omitempty"`
}

// Context is a multi-step query session.
type Context struct {
	ID                  string    `json:"contextId"`
	Steps               []Step    `json:"steps"`
	CreatedAt           time.Time `json:"createdAt"`
	LastActivity        time.Time `json:"lastActivity"`
	AggregateComplexity int       `json:"aggregateComplexity"`
	Completed           bool      `json:"isCompleted"`
}

// Config configures a Tracker.
type Config struct {
	Analyzer          *fingerprint.Analyzer
	MaxContexts       int
	IdleTimeout       time.Duration
	CompoundThreshold int

	// Detectors defaults to DefaultDetectors.
	Detectors []Detector

	Clock   func() time.Time
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Tracker is the registry of live contexts. It is safe for concurrent use;
// a single mutex guards the map and is never held across I/O.
type Tracker struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]*Context
}

// NewTracker creates a tracker.
func NewTracker(c *Config) *Tracker {
	if c.Analyzer == nil {
		c.Analyzer = fingerprint.NewAnalyzer(fingerprint.DefaultAnalyzerConfig())
	}
	if c.MaxContexts <= 0 {
		c.MaxContexts = DefaultMaxContexts
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.CompoundThreshold <= 0 {
		c.CompoundThreshold = DefaultCompoundThreshold
	}
	if c.Detectors == nil {
		c.Detectors = DefaultDetectors()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Tracker{
		config:   c,
		logger:   c.Logger,
		contexts: make(map[string]*Context),
	}
}

// CreateContext sweeps idle contexts, evicts the least recently active ones
// if the tracker is full, and starts a new context.
func (t *Tracker) CreateContext() string {
	now := t.config.Clock()
	id := uuid.NewString()

	t.mu.Lock()
	removed := t.cleanupLocked(now)
	evicted := 0
	for len(t.contexts) >= t.config.MaxContexts {
		t.evictOldestLocked()
		evicted++
	}
	t.contexts[id] = &Context{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
	}
	size := len(t.contexts)
	t.mu.Unlock()

	t.config.Metrics.SetActiveContexts(size)
	t.logger.Debug("query context created",
		zap.String("context_id", id),
		zap.Int("expired", removed),
		zap.Int("evicted", evicted),
	)

	return id
}

// AddStep records a tool call in a context. It returns nil when the context
// is unknown or already completed.
func (t *Tracker) AddStep(contextID, toolName string, params map[string]any, result any) *Step {
	analysis := t.config.Analyzer.Analyze(toolName, params)
	now := t.config.Clock()

	step := Step{
		ID:          uuid.NewString(),
		Timestamp:   now,
		ToolName:    toolName,
		Params:      cloneParams(params),
		Result:      normalizeResult(result),
		Fingerprint: analysis.Fingerprint,
		Complexity:  analysis.ComplexityScore,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contexts[contextID]
	if !ok || c.Completed {
		t.logger.Debug("step for unknown context", zap.String("context_id", contextID))
		return nil
	}

	if n := len(c.Steps); n > 0 {
		prev := &c.Steps[n-1]
		step.PreviousStepID = prev.ID
		step.RelationToPrevious = t.detect(prev, &step)
	}

	c.Steps = append(c.Steps, step)
	c.AggregateComplexity += step.Complexity
	c.LastActivity = now

	return &step
}

func (t *Tracker) detect(prev, cur *Step) string {
	for _, d := range t.config.Detectors {
		if d.Match(prev, cur) {
			return d.Relation
		}
	}
	return ""
}

// IsCompound reports whether a context has several steps whose combined
// complexity reaches the compound threshold.
func (t *Tracker) IsCompound(contextID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contexts[contextID]
	if !ok {
		return false
	}
	return len(c.Steps) > 1 && c.AggregateComplexity >= t.config.CompoundThreshold
}

// Complete marks a context finished. It returns false for unknown contexts.
func (t *Tracker) Complete(contextID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contexts[contextID]
	if !ok {
		return false
	}
	c.Completed = true
	c.LastActivity = t.config.Clock()
	return true
}

// Get returns a snapshot of a context.
func (t *Tracker) Get(contextID string) (Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contexts[contextID]
	if !ok {
		return Context{}, false
	}
	return snapshot(c), true
}

// Cleanup drops contexts idle longer than the timeout and returns how many
// were removed.
func (t *Tracker) Cleanup() int {
	now := t.config.Clock()

	t.mu.Lock()
	n := t.cleanupLocked(now)
	size := len(t.contexts)
	t.mu.Unlock()

	t.config.Metrics.SetActiveContexts(size)
	return n
}

// List returns snapshots of every context, most recently active first.
func (t *Tracker) List() []Context {
	t.mu.Lock()
	out := make([]Context, 0, len(t.contexts))
	for _, c := range t.contexts {
		out = append(out, snapshot(c))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Len returns the number of live contexts.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.contexts)
}

func (t *Tracker) cleanupLocked(now time.Time) int {
	cutoff := now.Add(-t.config.IdleTimeout)
	n := 0
	for id, c := range t.contexts {
		if c.LastActivity.Before(cutoff) {
			delete(t.contexts, id)
			n++
		}
	}
	return n
}

func (t *Tracker) evictOldestLocked() {
	var oldest *Context
	for _, c := range t.contexts {
		if oldest == nil || c.LastActivity.Before(oldest.LastActivity) {
			oldest = c
		}
	}
	if oldest != nil {
		delete(t.contexts, oldest.ID)
	}
}

func snapshot(c *Context) Context {
	s := *c
	s.Steps = append([]Step(nil), c.Steps...)
	return s
}

// normalizeResult turns typed results into generic JSON values so detectors
// can inspect them.
func normalizeResult(result any) any {
	var raw []byte
	switch r := result.(type) {
	case nil:
		return nil
	case map[string]any:
		return cloneValue(r)
	case json.RawMessage:
		raw = r
	case []byte:
		raw = r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return r
		}
		raw = b
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return result
	}
	return out
}

// cloneParams copies params so later edits by the caller do not reach
// readers of the context.
func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	return cloneValue(params).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
