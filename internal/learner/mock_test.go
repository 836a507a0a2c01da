package learner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Count(string(data), "\n")
}

func TestMockLearner_PersistsPatterns(t *testing.T) {
	root := t.TempDir()
	m, err := NewMockLearner(root, "test-ns", MockConfig{})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resp, err := m.Submit(ctx, "write a sort function")
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if resp.Quality != 0.85 {
			t.Errorf("default quality: got %v, want 0.85", resp.Quality)
		}
		if resp.InputTokens <= 0 || resp.OutputTokens <= 0 {
			t.Errorf("token counts must be positive, got %d/%d", resp.InputTokens, resp.OutputTokens)
		}
	}

	patterns := filepath.Join(root, "test-ns", "patterns.jsonl")
	if got := countLines(t, patterns); got != 3 {
		t.Errorf("patterns.jsonl lines: got %d, want 3", got)
	}
	if m.Calls() != 3 {
		t.Errorf("Calls: got %d, want 3", m.Calls())
	}
}

func TestMockLearner_ResumesAcrossHandles(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	first, err := NewMockLearner(root, "ns", MockConfig{})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := first.Submit(ctx, "task"); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A new handle against the same root continues the counter instead of
	// starting over.
	second, err := NewMockLearner(root, "ns", MockConfig{})
	if err != nil {
		t.Fatalf("NewMockLearner (second): %v", err)
	}
	if second.Calls() != 5 {
		t.Fatalf("resumed Calls: got %d, want 5", second.Calls())
	}
	if _, err := second.Submit(ctx, "task"); err != nil {
		t.Fatalf("Submit after resume: %v", err)
	}
	if got := countLines(t, filepath.Join(root, "ns", "patterns.jsonl")); got != 6 {
		t.Errorf("patterns.jsonl lines after resume: got %d, want 6", got)
	}
}

func TestMockLearner_EvolvesOnSchedule(t *testing.T) {
	root := t.TempDir()
	m, err := NewMockLearner(root, "ns", MockConfig{EvolveEvery: 4})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if _, err := m.Submit(ctx, "task"); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	// Calls 4 and 8 evolve.
	if got := countLines(t, filepath.Join(root, "ns", "evolutions.jsonl")); got != 2 {
		t.Errorf("evolutions.jsonl lines: got %d, want 2", got)
	}
	prompt, err := os.ReadFile(filepath.Join(root, "ns", "prompt.txt"))
	if err != nil {
		t.Fatalf("read prompt.txt: %v", err)
	}
	if !strings.Contains(string(prompt), "generation 3") {
		t.Errorf("prompt.txt should be at generation 3, got %q", prompt)
	}
}

func TestMockLearner_ScriptedErrorsLearnNothing(t *testing.T) {
	root := t.TempDir()
	transient := types.NewTransientError(types.KindTimeout, errors.New("scripted"))
	m, err := NewMockLearner(root, "ns", MockConfig{
		Errors: []error{transient, transient, nil},
	})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.Submit(ctx, "task"); !errors.Is(err, transient) {
			t.Fatalf("Submit %d: got %v, want scripted error", i, err)
		}
	}
	if _, err := m.Submit(ctx, "task"); err != nil {
		t.Fatalf("Submit 2 should succeed after scripted failures: %v", err)
	}

	// Failed invocations must not write patterns or advance the counter.
	if got := countLines(t, filepath.Join(root, "ns", "patterns.jsonl")); got != 1 {
		t.Errorf("patterns.jsonl lines: got %d, want 1", got)
	}
	if m.Calls() != 1 {
		t.Errorf("Calls: got %d, want 1", m.Calls())
	}
}

func TestMockLearner_QualityCycles(t *testing.T) {
	m, err := NewMockLearner(t.TempDir(), "ns", MockConfig{Qualities: []float64{0.9, 0.5}})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}

	ctx := context.Background()
	want := []float64{0.9, 0.5, 0.9}
	for i, w := range want {
		resp, err := m.Submit(ctx, "task")
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if resp.Quality != w {
			t.Errorf("call %d quality: got %v, want %v", i, resp.Quality, w)
		}
	}
}

func TestMockLearner_SubmitAfterClose(t *testing.T) {
	m, err := NewMockLearner(t.TempDir(), "ns", MockConfig{})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Submit(context.Background(), "task"); err == nil {
		t.Error("Submit after Close should fail")
	}
}

func TestMockLearner_HonorsContext(t *testing.T) {
	m, err := NewMockLearner(t.TempDir(), "ns", MockConfig{Latency: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewMockLearner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Submit(ctx, "task")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit: got %v, want context.DeadlineExceeded", err)
	}
	if m.Calls() != 0 {
		t.Errorf("timed-out call must not learn, Calls = %d", m.Calls())
	}
}

func TestMockLearner_RejectsEmptyIdentity(t *testing.T) {
	if _, err := NewMockLearner("", "ns", MockConfig{}); err == nil {
		t.Error("empty root should fail")
	}
	if _, err := NewMockLearner(t.TempDir(), "", MockConfig{}); err == nil {
		t.Error("empty namespace should fail")
	}
}
