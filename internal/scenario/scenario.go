// Package scenario loads validation scenarios from YAML and runs them: the
// orchestrator drives a bounded task sequence against a learning component
// while the budget guard, retry policy, aggregator and snapshotter collect
// the evidence the assertion engine judges afterwards.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/loopcheck-ai/loopcheck/internal/assertion"
	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/internal/tasks"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "LOOPCHECK_"

// Defaults applied to fields a scenario file leaves unset.
const (
	DefaultMemoriesDir  = "memories"
	DefaultArtifactsDir = "artifacts"
)

//go:embed scenario.schema.json
var schemaJSON []byte

// Budget mirrors types.RunBudget with the plain-number fields scenario
// files use. Zero fields fall back to the defaults.
type Budget struct {
	MaxCostUSD         float64 `yaml:"max_cost_usd,omitempty"`
	MaxDurationSeconds float64 `yaml:"max_duration_seconds,omitempty"`
	MaxRetries         *int    `yaml:"max_retries,omitempty"`
	CallTimeoutSeconds float64 `yaml:"call_timeout_seconds,omitempty"`
	BackoffBaseSeconds float64 `yaml:"backoff_base_seconds,omitempty"`
}

// RunBudget converts the file form into the typed budget, filling defaults.
func (b Budget) RunBudget() types.RunBudget {
	budget := types.DefaultRunBudget()
	if b.MaxCostUSD > 0 {
		budget.MaxCostUSD = b.MaxCostUSD
	}
	if b.MaxDurationSeconds > 0 {
		budget.MaxDuration = secondsToDuration(b.MaxDurationSeconds)
	}
	if b.MaxRetries != nil {
		budget.MaxRetries = *b.MaxRetries
	}
	if b.CallTimeoutSeconds > 0 {
		budget.CallTimeout = secondsToDuration(b.CallTimeoutSeconds)
	}
	if b.BackoffBaseSeconds > 0 {
		budget.BackoffBase = secondsToDuration(b.BackoffBaseSeconds)
	}
	return budget
}

// MockOptions tunes the in-process mock component.
type MockOptions struct {
	Qualities    []float64 `yaml:"qualities,omitempty"`
	InputTokens  int       `yaml:"input_tokens,omitempty"`
	OutputTokens int       `yaml:"output_tokens,omitempty"`
	LatencyMS    int       `yaml:"latency_ms,omitempty"`
	EvolveEvery  int       `yaml:"evolve_every,omitempty"`
}

// FaultOptions injects failures between the harness and the component.
type FaultOptions struct {
	TransientRate   float64 `yaml:"transient_rate,omitempty"`
	FatalRate       float64 `yaml:"fatal_rate,omitempty"`
	LatencyJitterMS int     `yaml:"latency_jitter_ms,omitempty"`
	TimeoutAfterMS  int     `yaml:"timeout_after_ms,omitempty"`
	Seed            int64   `yaml:"seed,omitempty"`
}

// RateLimitOptions throttles outgoing calls.
type RateLimitOptions struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst,omitempty"`
}

// Transport picks and configures the learning component the run talks to.
type Transport struct {
	Kind      string            `yaml:"kind,omitempty"`
	Command   []string          `yaml:"command,omitempty"`
	Mock      *MockOptions      `yaml:"mock,omitempty"`
	Fault     *FaultOptions     `yaml:"fault,omitempty"`
	RateLimit *RateLimitOptions `yaml:"rate_limit,omitempty"`
}

// Transport kinds.
const (
	TransportMock = "mock"
	TransportRPC  = "rpc"
)

// Scenario is one validation run's full configuration.
type Scenario struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace,omitempty"`

	// Tasks lists work inline; TaskSet names a built-in set instead.
	// MaxCalls truncates whichever source is used.
	Tasks    []string `yaml:"tasks,omitempty"`
	TaskSet  string   `yaml:"task_set,omitempty"`
	MaxCalls int      `yaml:"max_calls,omitempty"`

	// RestartAfter tears down and reconstructs the component handle once
	// the call at this index has completed.
	RestartAfter *int `yaml:"restart_after,omitempty"`

	Budget Budget `yaml:"budget,omitempty"`

	QualityMin        float64 `yaml:"quality_min,omitempty"`
	QualityMean       float64 `yaml:"quality_mean,omitempty"`
	MinPatterns       int     `yaml:"min_patterns,omitempty"`
	PatternsCounter   string  `yaml:"patterns_counter,omitempty"`
	EvolutionsCounter string  `yaml:"evolutions_counter,omitempty"`

	PricePerMillionUSD float64 `yaml:"price_per_million_usd,omitempty"`

	MemoriesDir     string `yaml:"memories_dir,omitempty"`
	ArtifactsDir    string `yaml:"artifacts_dir,omitempty"`
	SaveArtifacts   *bool  `yaml:"save_artifacts,omitempty"`
	CleanupMemories *bool  `yaml:"cleanup_memories,omitempty"`

	Transport Transport `yaml:"transport,omitempty"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("decode embedded schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("scenario.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("scenario.schema.json")
	})
	return schema, schemaErr
}

// Load reads, schema-validates and decodes a scenario file, then resolves
// defaults and the task list. Unknown fields are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Parse decodes scenario YAML from memory. Split from Load for tests.
func Parse(data []byte) (*Scenario, error) {
	if err := validateAgainstSchema(data); err != nil {
		return nil, err
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	if err := s.resolveTasks(); err != nil {
		return nil, err
	}
	return &s, nil
}

// validateAgainstSchema round-trips the YAML through JSON so the embedded
// JSON Schema can check types and ranges before the strict decode.
func validateAgainstSchema(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("reencode scenario: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("reencode scenario: %w", err)
	}

	compiled, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}

func (s *Scenario) applyDefaults() {
	if s.Namespace == "" {
		s.Namespace = s.Name
	}
	if s.QualityMin == 0 {
		s.QualityMin = assertion.DefaultQualityFloor
	}
	if s.MinPatterns == 0 {
		s.MinPatterns = assertion.DefaultMinPatterns
	}
	if s.PatternsCounter == "" {
		s.PatternsCounter = assertion.DefaultPatternsCounter
	}
	if s.EvolutionsCounter == "" {
		s.EvolutionsCounter = assertion.DefaultEvolutionsCounter
	}
	if s.PricePerMillionUSD == 0 {
		s.PricePerMillionUSD = stats.DefaultPricePerMillionUSD
	}
	if s.MemoriesDir == "" {
		s.MemoriesDir = DefaultMemoriesDir
	}
	if s.ArtifactsDir == "" {
		s.ArtifactsDir = DefaultArtifactsDir
	}
	if s.SaveArtifacts == nil {
		s.SaveArtifacts = boolPtr(true)
	}
	if s.CleanupMemories == nil {
		s.CleanupMemories = boolPtr(true)
	}
	if s.Transport.Kind == "" {
		s.Transport.Kind = TransportMock
	}
}

// validate covers the cross-field rules the schema cannot express, and
// re-checks ranges because environment overrides bypass the schema.
func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Tasks) > 0 && s.TaskSet != "" {
		return fmt.Errorf("tasks and task_set are mutually exclusive")
	}
	if len(s.Tasks) == 0 && s.TaskSet == "" {
		return fmt.Errorf("one of tasks or task_set is required")
	}
	if s.Transport.Kind == TransportRPC && len(s.Transport.Command) == 0 {
		return fmt.Errorf("transport kind %q requires a command", TransportRPC)
	}
	if s.Transport.Kind != TransportRPC && len(s.Transport.Command) > 0 {
		return fmt.Errorf("transport command is only valid with kind %q", TransportRPC)
	}
	if s.QualityMin < 0 || s.QualityMin > 1 {
		return fmt.Errorf("quality_min %v outside [0, 1]", s.QualityMin)
	}
	if s.QualityMean < 0 || s.QualityMean > 1 {
		return fmt.Errorf("quality_mean %v outside [0, 1]", s.QualityMean)
	}
	if s.PricePerMillionUSD < 0 {
		return fmt.Errorf("price_per_million_usd must not be negative, got %v", s.PricePerMillionUSD)
	}
	if s.Budget.MaxCostUSD < 0 || s.Budget.MaxDurationSeconds < 0 ||
		s.Budget.CallTimeoutSeconds < 0 || s.Budget.BackoffBaseSeconds < 0 {
		return fmt.Errorf("budget ceilings must not be negative")
	}
	if s.Budget.MaxRetries != nil && *s.Budget.MaxRetries < 0 {
		return fmt.Errorf("budget max_retries must not be negative, got %d", *s.Budget.MaxRetries)
	}
	if err := s.Budget.RunBudget().Validate(); err != nil {
		return fmt.Errorf("budget: %w", err)
	}
	return nil
}

func (s *Scenario) resolveTasks() error {
	if s.TaskSet != "" {
		set, err := tasks.Set(s.TaskSet)
		if err != nil {
			return err
		}
		s.Tasks = set
		s.TaskSet = ""
	}
	if s.MaxCalls > 0 && s.MaxCalls < len(s.Tasks) {
		s.Tasks = s.Tasks[:s.MaxCalls]
	}
	return nil
}

// ApplyEnv overlays LOOPCHECK_* variables onto the scenario. lookup is
// os.LookupEnv in the CLI and a map lookup in tests.
func (s *Scenario) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}

	if v, ok := lookup(EnvPrefix + "NAMESPACE"); ok {
		s.Namespace = v
	}
	if v, ok := lookup(EnvPrefix + "MEMORIES_DIR"); ok {
		s.MemoriesDir = v
	}
	if v, ok := lookup(EnvPrefix + "ARTIFACTS_DIR"); ok {
		s.ArtifactsDir = v
	}

	if err := envFloat(lookup, "QUALITY_MIN", &s.QualityMin); err != nil {
		return err
	}
	if err := envFloat(lookup, "QUALITY_MEAN", &s.QualityMean); err != nil {
		return err
	}
	if err := envFloat(lookup, "PRICE_PER_MILLION_USD", &s.PricePerMillionUSD); err != nil {
		return err
	}
	if err := envFloat(lookup, "MAX_COST_USD", &s.Budget.MaxCostUSD); err != nil {
		return err
	}
	if err := envFloat(lookup, "MAX_DURATION_SECONDS", &s.Budget.MaxDurationSeconds); err != nil {
		return err
	}
	if err := envFloat(lookup, "CALL_TIMEOUT_SECONDS", &s.Budget.CallTimeoutSeconds); err != nil {
		return err
	}
	if err := envFloat(lookup, "BACKOFF_BASE_SECONDS", &s.Budget.BackoffBaseSeconds); err != nil {
		return err
	}

	if v, ok := lookup(EnvPrefix + "MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RETRIES: %w", EnvPrefix, err)
		}
		s.Budget.MaxRetries = &n
	}
	if err := envBool(lookup, "SAVE_ARTIFACTS", &s.SaveArtifacts); err != nil {
		return err
	}
	if err := envBool(lookup, "CLEANUP_MEMORIES", &s.CleanupMemories); err != nil {
		return err
	}

	return s.validate()
}

// SnapshotRoot is the directory snapshots cover: the namespace's slice of
// the memories dir, the same root the component persists under.
func (s *Scenario) SnapshotRoot() string {
	return filepath.Join(s.MemoriesDir, s.Namespace)
}

// EngineOptions translates the scenario's thresholds into assertion
// engine options.
func (s *Scenario) EngineOptions() []assertion.Option {
	opts := []assertion.Option{
		assertion.WithQualityFloor(s.QualityMin),
		assertion.WithCounters(s.PatternsCounter, s.EvolutionsCounter),
		assertion.WithMinPatterns(int64(s.MinPatterns)),
	}
	if s.QualityMean > 0 {
		opts = append(opts, assertion.WithMeanQualityFloor(s.QualityMean))
	}
	return opts
}

func envFloat(lookup func(string) (string, bool), name string, dst *float64) error {
	v, ok := lookup(EnvPrefix + name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = f
	return nil
}

func envBool(lookup func(string) (string, bool), name string, dst **bool) error {
	v, ok := lookup(EnvPrefix + name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	*dst = &b
	return nil
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func boolPtr(b bool) *bool { return &b }
