package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// Files the mock component maintains under its namespace directory.
const (
	mockPatternsFile   = "patterns.jsonl"
	mockEvolutionsFile = "evolutions.jsonl"
	mockPromptFile     = "prompt.txt"
	mockStateFile      = "state.json"
)

// Default shape of mock answers when the config leaves them unset.
const (
	defaultMockQuality      = 0.85
	defaultMockOutputTokens = 350
	defaultEvolveEvery      = 10
)

// MockConfig tunes the simulated learning component.
type MockConfig struct {
	// Qualities is cycled per successful call; empty means a flat 0.85.
	Qualities []float64
	// InputTokens and OutputTokens fix the per-call token usage. Zero
	// derives input from task length and uses the default output size.
	InputTokens  int
	OutputTokens int
	// Latency is added to every call before answering.
	Latency time.Duration
	// Errors are returned by submit invocation index (0-based) instead of
	// answering; a nil entry answers normally. Failed invocations learn
	// nothing.
	Errors []error
	// EvolveEvery triggers a prompt evolution after that many successful
	// calls; zero means every 10.
	EvolveEvery int
}

// MockLearner simulates a learning component in-process. Each successful
// call appends one pattern to patterns.jsonl; every EvolveEvery-th call
// also appends to evolutions.jsonl and rewrites prompt.txt. The call
// counter persists in state.json so a recreated mock resumes where its
// predecessor stopped, like a real component reloading its memory.
type MockLearner struct {
	mu  sync.Mutex
	cfg MockConfig

	dir       string
	namespace string

	submits    int // every Submit invocation, in-memory only
	calls      int // successful calls, persisted
	generation int // prompt version, persisted
	closed     bool
}

type mockState struct {
	Calls      int `json:"calls"`
	Generation int `json:"generation"`
}

type mockPattern struct {
	Call    int    `json:"call"`
	Task    string `json:"task"`
	Insight string `json:"insight"`
}

type mockEvolution struct {
	Generation int    `json:"generation"`
	AtCall     int    `json:"at_call"`
	Trigger    string `json:"trigger"`
}

var mockInsights = []string{
	"prefer guard clauses over nested conditionals",
	"validate inputs at the boundary",
	"name functions after their effect",
	"keep error paths short",
	"test edge cases before the happy path",
}

// NewMockLearner creates or reattaches a mock component persisting under
// root/namespace. Existing state is loaded, never truncated.
func NewMockLearner(root, namespace string, cfg MockConfig) (*MockLearner, error) {
	if root == "" {
		return nil, fmt.Errorf("mock learner: persistence root is empty")
	}
	if namespace == "" {
		return nil, fmt.Errorf("mock learner: namespace is empty")
	}
	if cfg.EvolveEvery <= 0 {
		cfg.EvolveEvery = defaultEvolveEvery
	}

	dir := filepath.Join(root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create namespace dir: %w", err)
	}

	m := &MockLearner{cfg: cfg, dir: dir, namespace: namespace, generation: 1}
	if err := m.loadState(); err != nil {
		return nil, err
	}
	return m, nil
}

// Submit answers one task, recording a pattern and possibly an evolution.
func (m *MockLearner) Submit(ctx context.Context, task string) (*Response, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock learner: submit after close")
	}
	idx := m.submits
	m.submits++
	latency := m.cfg.Latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if idx < len(m.cfg.Errors) && m.cfg.Errors[idx] != nil {
		return nil, m.cfg.Errors[idx]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	insight := mockInsights[(m.calls-1)%len(mockInsights)]
	if err := m.appendLine(mockPatternsFile, mockPattern{Call: m.calls, Task: task, Insight: insight}); err != nil {
		return nil, types.NewFatalError(types.KindMalformedInput, fmt.Errorf("persist pattern: %w", err))
	}

	if m.calls%m.cfg.EvolveEvery == 0 {
		m.generation++
		ev := mockEvolution{Generation: m.generation, AtCall: m.calls, Trigger: "pattern threshold"}
		if err := m.appendLine(mockEvolutionsFile, ev); err != nil {
			return nil, types.NewFatalError(types.KindMalformedInput, fmt.Errorf("persist evolution: %w", err))
		}
		prompt := fmt.Sprintf("You are a coding assistant (generation %d).\nLearned from %d tasks.\n", m.generation, m.calls)
		if err := os.WriteFile(filepath.Join(m.dir, mockPromptFile), []byte(prompt), 0o644); err != nil {
			return nil, types.NewFatalError(types.KindMalformedInput, fmt.Errorf("persist prompt: %w", err))
		}
	}

	if err := m.saveState(); err != nil {
		return nil, types.NewFatalError(types.KindMalformedInput, fmt.Errorf("persist state: %w", err))
	}

	return &Response{
		Text:         fmt.Sprintf("mock solution (generation %d): %s", m.generation, task),
		Quality:      m.qualityFor(m.calls),
		InputTokens:  m.inputTokensFor(task),
		OutputTokens: m.outputTokens(),
	}, nil
}

// Close marks the handle unusable. Persisted state stays on disk for the
// next handle against the same root.
func (m *MockLearner) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many tasks this handle and its predecessors answered.
func (m *MockLearner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockLearner) qualityFor(call int) float64 {
	if len(m.cfg.Qualities) == 0 {
		return defaultMockQuality
	}
	return m.cfg.Qualities[(call-1)%len(m.cfg.Qualities)]
}

func (m *MockLearner) inputTokensFor(task string) int {
	if m.cfg.InputTokens > 0 {
		return m.cfg.InputTokens
	}
	return 120 + len(task)/4
}

func (m *MockLearner) outputTokens() int {
	if m.cfg.OutputTokens > 0 {
		return m.cfg.OutputTokens
	}
	return defaultMockOutputTokens
}

func (m *MockLearner) loadState() error {
	data, err := os.ReadFile(filepath.Join(m.dir, mockStateFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read mock state: %w", err)
	}
	var st mockState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode mock state: %w", err)
	}
	m.calls = st.Calls
	if st.Generation > 0 {
		m.generation = st.Generation
	}
	return nil
}

func (m *MockLearner) saveState() error {
	data, err := json.Marshal(mockState{Calls: m.calls, Generation: m.generation})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, mockStateFile), data, 0o644)
}

func (m *MockLearner) appendLine(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(m.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
