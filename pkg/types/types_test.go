package types_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

func TestCallRecord_JSON_RoundTrip(t *testing.T) {
	original := types.CallRecord{
		Index:        3,
		Task:         "Write a function to reverse a string",
		Response:     "def reverse(s): return s[::-1]",
		Quality:      0.85,
		LatencyS:     0.42,
		InputTokens:  150,
		OutputTokens: 350,
		CostUSD:      0.0001875,
		AttemptCount: 3,
		Attempts: []types.Attempt{
			{Index: 1, DurationS: 0.2, Error: "transient timeout: deadline", ErrorClass: types.ErrorClassTransient},
			{Index: 2, DurationS: 0.2, Error: "transient connection_reset: reset", ErrorClass: types.ErrorClassTransient},
			{Index: 3, DurationS: 0.42},
		},
		Status:    types.CallStatusSuccess,
		StartedAt: time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.CallRecord
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.Index != original.Index {
		t.Errorf("Index: got %d, want %d", restored.Index, original.Index)
	}
	if restored.Status != types.CallStatusSuccess {
		t.Errorf("Status: got %q, want %q", restored.Status, types.CallStatusSuccess)
	}
	if restored.AttemptCount != 3 {
		t.Errorf("AttemptCount: got %d, want 3", restored.AttemptCount)
	}
	if len(restored.Attempts) != 3 {
		t.Fatalf("Attempts length: got %d, want 3", len(restored.Attempts))
	}
	if restored.Attempts[0].ErrorClass != types.ErrorClassTransient {
		t.Errorf("Attempts[0].ErrorClass: got %q, want %q", restored.Attempts[0].ErrorClass, types.ErrorClassTransient)
	}
	if !restored.Succeeded() {
		t.Error("Succeeded: got false, want true")
	}
	if restored.TotalTokens() != 500 {
		t.Errorf("TotalTokens: got %d, want 500", restored.TotalTokens())
	}
}

func TestValidationResult_Successful(t *testing.T) {
	res := types.ValidationResult{
		Records: []types.CallRecord{
			{Index: 0, Status: types.CallStatusSuccess, Quality: 0.9},
			{Index: 1, Status: types.CallStatusFailedAfterRetries},
			{Index: 2, Status: types.CallStatusSuccess, Quality: 0.8},
			{Index: 3, Status: types.CallStatusAbortedByBudget},
		},
	}

	ok := res.Successful()
	if len(ok) != 2 {
		t.Fatalf("Successful returned %d records, want 2", len(ok))
	}
	if ok[0].Index != 0 || ok[1].Index != 2 {
		t.Errorf("Successful indices: got %d,%d, want 0,2", ok[0].Index, ok[1].Index)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass string
		wantKind  string
	}{
		{"transient timeout", types.NewTransientError(types.KindTimeout, errors.New("deadline")), types.ErrorClassTransient, types.KindTimeout},
		{"fatal auth", types.NewFatalError(types.KindAuthentication, errors.New("bad key")), types.ErrorClassFatal, types.KindAuthentication},
		{"wrapped learner error", fmt.Errorf("attempt 2: %w", types.NewTransientError(types.KindRateLimit, errors.New("429"))), types.ErrorClassTransient, types.KindRateLimit},
		{"context deadline", context.DeadlineExceeded, types.ErrorClassTransient, types.KindTimeout},
		{"plain error", errors.New("boom"), "", ""},
		{"context canceled", context.Canceled, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, kind := types.Classify(tt.err)
			if class != tt.wantClass {
				t.Errorf("class: got %q, want %q", class, tt.wantClass)
			}
			if kind != tt.wantKind {
				t.Errorf("kind: got %q, want %q", kind, tt.wantKind)
			}
		})
	}
}

func TestLearnerError_Unwrap(t *testing.T) {
	inner := errors.New("socket closed")
	le := types.NewTransientError(types.KindConnectionReset, inner)

	if !errors.Is(le, inner) {
		t.Error("errors.Is: learner error should wrap inner error")
	}
	if !le.Transient() {
		t.Error("Transient: got false, want true")
	}
	want := "transient connection_reset: socket closed"
	if le.Error() != want {
		t.Errorf("Error: got %q, want %q", le.Error(), want)
	}
}

func TestRunBudget_Validate(t *testing.T) {
	if err := types.DefaultRunBudget().Validate(); err != nil {
		t.Errorf("default budget should validate, got %v", err)
	}

	bad := types.DefaultRunBudget()
	bad.MaxCostUSD = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero max_cost_usd should fail validation")
	}

	bad = types.DefaultRunBudget()
	bad.MaxRetries = -1
	if err := bad.Validate(); err == nil {
		t.Error("negative max_retries should fail validation")
	}

	zeroRetries := types.DefaultRunBudget()
	zeroRetries.MaxRetries = 0
	if err := zeroRetries.Validate(); err != nil {
		t.Errorf("zero max_retries should validate (single attempt), got %v", err)
	}
	if zeroRetries.MaxAttempts() != 1 {
		t.Errorf("MaxAttempts with zero retries: got %d, want 1", zeroRetries.MaxAttempts())
	}
}

func TestSnapshotDelta_Grew(t *testing.T) {
	grew := types.SnapshotDelta{Counters: map[string]int64{"patterns": 10, "evolutions": 0}}
	if !grew.Grew() {
		t.Error("Grew: got false, want true for positive counter delta")
	}

	flat := types.SnapshotDelta{Counters: map[string]int64{"patterns": 0}}
	if flat.Grew() {
		t.Error("Grew: got true, want false for flat counters")
	}

	shrunk := types.SnapshotDelta{Counters: map[string]int64{"patterns": -2}}
	if shrunk.Grew() {
		t.Error("Grew: got true, want false for negative counter delta")
	}
}

func TestRequest_JSON_RoundTrip(t *testing.T) {
	original := types.Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  types.MethodSubmit,
		Params:  json.RawMessage(`{"task":"Write a binary search"}`),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.Request
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.JSONRPC != "2.0" {
		t.Errorf("JSONRPC: got %q, want %q", restored.JSONRPC, "2.0")
	}
	if restored.ID != original.ID {
		t.Errorf("ID: got %d, want %d", restored.ID, original.ID)
	}
	if restored.Method != original.Method {
		t.Errorf("Method: got %q, want %q", restored.Method, original.Method)
	}
}

func TestResponse_WithError(t *testing.T) {
	rpcErr := types.NewRPCError(
		types.ErrTimeout,
		"component timed out",
		types.ErrTypeTimeout,
		true,
		"no response within 30s",
	)
	resp := types.NewErrorResponse(42, rpcErr)

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var restored types.Response
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if restored.ID != 42 {
		t.Errorf("ID: got %d, want 42", restored.ID)
	}
	if restored.Error == nil {
		t.Fatal("Error is nil after round-trip")
	}
	if restored.Error.Code != types.ErrTimeout {
		t.Errorf("Error.Code: got %d, want %d", restored.Error.Code, types.ErrTimeout)
	}
	if restored.Error.Data == nil {
		t.Fatal("Error.Data is nil")
	}
	if !restored.Error.Data.Retryable {
		t.Error("Error.Data.Retryable: got false, want true")
	}
	if len(restored.Result) != 0 {
		t.Errorf("Result should be empty for error response, got %s", restored.Result)
	}
}

func TestNewSuccessResponse(t *testing.T) {
	resp, err := types.NewSuccessResponse(7, types.SubmitResult{
		Response:     "done",
		Quality:      0.9,
		InputTokens:  120,
		OutputTokens: 340,
	})
	if err != nil {
		t.Fatalf("NewSuccessResponse: %v", err)
	}

	var result types.SubmitResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Quality != 0.9 {
		t.Errorf("Quality: got %f, want 0.9", result.Quality)
	}
	if result.InputTokens != 120 {
		t.Errorf("InputTokens: got %d, want 120", result.InputTokens)
	}
}
