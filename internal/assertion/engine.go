// Package assertion evaluates named checks against a finished validation
// run. Checks never panic and never stop the run that produced the
// evidence: every failure is collected and reported together, so one bad
// outcome does not hide the rest.
package assertion

import (
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// Default expectations applied when no option overrides them.
const (
	DefaultQualityFloor = 0.7
	DefaultMinPatterns  = 1

	DefaultPatternsCounter   = "patterns"
	DefaultEvolutionsCounter = "evolutions"
)

// Check inspects a finished run and returns nil when its expectation holds.
type Check func(res *types.ValidationResult) *types.AssertionFailure

// engineConfig holds the tunable expectations of the built-in checks.
type engineConfig struct {
	qualityFloor      float64
	meanQualityFloor  float64
	costCeilingUSD    float64
	patternsCounter   string
	evolutionsCounter string
	minPatterns       int64
}

// Option configures the built-in checks on an Engine.
type Option func(*engineConfig)

// WithQualityFloor sets the per-call quality score every successful call
// must reach.
func WithQualityFloor(min float64) Option {
	return func(cfg *engineConfig) { cfg.qualityFloor = min }
}

// WithMeanQualityFloor switches quality-threshold to its lower-bar mode:
// the mean quality across successful calls must reach mean, individual
// calls may dip below.
func WithMeanQualityFloor(mean float64) Option {
	return func(cfg *engineConfig) { cfg.meanQualityFloor = mean }
}

// WithCostCeiling overrides the spend ceiling checked by
// cost-within-budget. Zero falls back to the run's own budget.
func WithCostCeiling(maxUSD float64) Option {
	return func(cfg *engineConfig) { cfg.costCeilingUSD = maxUSD }
}

// WithCounters names the snapshot counters holding extracted patterns and
// prompt evolutions.
func WithCounters(patterns, evolutions string) Option {
	return func(cfg *engineConfig) {
		if patterns != "" {
			cfg.patternsCounter = patterns
		}
		if evolutions != "" {
			cfg.evolutionsCounter = evolutions
		}
	}
}

// WithMinPatterns sets how many extracted patterns learning-extracted
// requires in the final snapshot.
func WithMinPatterns(n int64) Option {
	return func(cfg *engineConfig) { cfg.minPatterns = n }
}

// Engine runs a fixed set of named checks in registration order.
type Engine struct {
	order  []string
	checks map[string]Check
}

// NewEngine creates an engine with the six built-in checks registered.
func NewEngine(opts ...Option) *Engine {
	cfg := engineConfig{
		qualityFloor:      DefaultQualityFloor,
		patternsCounter:   DefaultPatternsCounter,
		evolutionsCounter: DefaultEvolutionsCounter,
		minPatterns:       DefaultMinPatterns,
	}
	for _, o := range opts {
		o(&cfg)
	}

	e := &Engine{checks: make(map[string]Check)}
	e.Register(types.AssertQualityThreshold, qualityThreshold(cfg))
	e.Register(types.AssertNoCrashes, noCrashes(cfg))
	e.Register(types.AssertMemoryPersisted, memoryPersisted(cfg))
	e.Register(types.AssertLearningExtracted, learningExtracted(cfg))
	e.Register(types.AssertEvolutionTriggered, evolutionTriggered(cfg))
	e.Register(types.AssertCostWithinBudget, costWithinBudget(cfg))
	return e
}

// Register adds a named check. Re-registering a name replaces the check
// but keeps its original position.
func (e *Engine) Register(name string, check Check) {
	if _, exists := e.checks[name]; !exists {
		e.order = append(e.order, name)
	}
	e.checks[name] = check
}

// Names returns the check names in evaluation order.
func (e *Engine) Names() []string {
	return append([]string(nil), e.order...)
}

// Evaluate runs every check against res and returns the failures in
// evaluation order. An empty slice means the run passed.
func (e *Engine) Evaluate(res *types.ValidationResult) []types.AssertionFailure {
	failures := make([]types.AssertionFailure, 0)
	for _, name := range e.order {
		if f := e.checks[name](res); f != nil {
			f.Name = name
			failures = append(failures, *f)
		}
	}
	return failures
}
