package learner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// stubLearner is a minimal Learner for decorator tests.
type stubLearner struct {
	calls  int
	closed bool
	err    error
}

func (s *stubLearner) Submit(ctx context.Context, task string) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Text: "stub: " + task, Quality: 0.9, InputTokens: 100, OutputTokens: 200}, nil
}

func (s *stubLearner) Close() error {
	s.closed = true
	return nil
}

func TestFaultInjector_AlwaysTransient(t *testing.T) {
	inner := &stubLearner{}
	f := NewFaultInjectorWithSeed(inner, FaultConfig{TransientRate: 1.0}, 1)

	_, err := f.Submit(context.Background(), "task")
	if err == nil {
		t.Fatal("Submit should fail with TransientRate=1")
	}
	class, kind := types.Classify(err)
	if class != types.ErrorClassTransient {
		t.Errorf("class: got %q, want %q", class, types.ErrorClassTransient)
	}
	if kind != types.KindConnectionReset {
		t.Errorf("kind: got %q, want %q", kind, types.KindConnectionReset)
	}
	if inner.calls != 0 {
		t.Errorf("inner learner reached despite injected fault, calls = %d", inner.calls)
	}
}

func TestFaultInjector_AlwaysFatal(t *testing.T) {
	inner := &stubLearner{}
	f := NewFaultInjectorWithSeed(inner, FaultConfig{FatalRate: 1.0}, 1)

	_, err := f.Submit(context.Background(), "task")
	if err == nil {
		t.Fatal("Submit should fail with FatalRate=1")
	}
	class, kind := types.Classify(err)
	if class != types.ErrorClassFatal {
		t.Errorf("class: got %q, want %q", class, types.ErrorClassFatal)
	}
	if kind != types.KindMalformedInput {
		t.Errorf("kind: got %q, want %q", kind, types.KindMalformedInput)
	}
}

func TestFaultInjector_TimeoutAfter(t *testing.T) {
	inner := &stubLearner{}
	f := NewFaultInjectorWithSeed(inner, FaultConfig{TimeoutAfter: 5 * time.Millisecond}, 1)

	_, err := f.Submit(context.Background(), "task")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit: got %v, want context.DeadlineExceeded", err)
	}
	class, kind := types.Classify(err)
	if class != types.ErrorClassTransient || kind != types.KindTimeout {
		t.Errorf("classification: got %s/%s, want transient/timeout", class, kind)
	}
}

func TestFaultInjector_ZeroRatesDelegate(t *testing.T) {
	inner := &stubLearner{}
	f := NewFaultInjectorWithSeed(inner, FaultConfig{}, 1)

	resp, err := f.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Text != "stub: hello" {
		t.Errorf("Text: got %q, want %q", resp.Text, "stub: hello")
	}
	if inner.calls != 1 {
		t.Errorf("inner calls: got %d, want 1", inner.calls)
	}
}

func TestFaultInjector_RateIsApproximate(t *testing.T) {
	inner := &stubLearner{}
	f := NewFaultInjectorWithSeed(inner, FaultConfig{TransientRate: 0.5}, 42)

	failures := 0
	for i := 0; i < 200; i++ {
		if _, err := f.Submit(context.Background(), "task"); err != nil {
			failures++
		}
	}
	if failures < 60 || failures > 140 {
		t.Errorf("failure count with rate 0.5 over 200 calls: got %d, want roughly half", failures)
	}
}

func TestFaultInjector_CloseDelegates(t *testing.T) {
	inner := &stubLearner{}
	f := NewFaultInjector(inner, FaultConfig{})
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !inner.closed {
		t.Error("Close must reach the inner learner")
	}
}
