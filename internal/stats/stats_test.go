package stats_test

import (
	"math"
	"testing"

	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSummarize_KnownSample(t *testing.T) {
	// 1..100: nearest-rank p50=50, p95=95, p99=99.
	sample := make([]float64, 100)
	for i := range sample {
		sample[i] = float64(i + 1)
	}

	d := stats.Summarize(sample)
	if d == nil {
		t.Fatal("Summarize returned nil for non-empty sample")
	}
	if d.Min != 1 || d.Max != 100 {
		t.Errorf("min/max: got %v/%v, want 1/100", d.Min, d.Max)
	}
	if !almostEqual(d.Mean, 50.5) {
		t.Errorf("mean: got %v, want 50.5", d.Mean)
	}
	if d.P50 != 50 {
		t.Errorf("p50: got %v, want 50", d.P50)
	}
	if d.P95 != 95 {
		t.Errorf("p95: got %v, want 95", d.P95)
	}
	if d.P99 != 99 {
		t.Errorf("p99: got %v, want 99", d.P99)
	}
}

func TestSummarize_SingleObservation(t *testing.T) {
	d := stats.Summarize([]float64{0.7})
	if d == nil {
		t.Fatal("Summarize returned nil")
	}
	// With one sample every percentile collapses onto it.
	if d.P50 != 0.7 || d.P95 != 0.7 || d.P99 != 0.7 {
		t.Errorf("percentiles: got %v/%v/%v, want 0.7 each", d.P50, d.P95, d.P99)
	}
	if d.Min != 0.7 || d.Max != 0.7 || !almostEqual(d.Mean, 0.7) {
		t.Errorf("min/max/mean: got %v/%v/%v, want 0.7 each", d.Min, d.Max, d.Mean)
	}
	if d.StdDev != 0 {
		t.Errorf("stddev of single sample: got %v, want 0", d.StdDev)
	}
}

func TestSummarize_Empty(t *testing.T) {
	if d := stats.Summarize(nil); d != nil {
		t.Errorf("Summarize(nil): got %+v, want nil", d)
	}
}

func TestSummarize_PercentilesOrdered(t *testing.T) {
	sample := []float64{0.3, 0.9, 0.1, 0.75, 0.5, 0.42, 0.88}
	d := stats.Summarize(sample)
	if d.P50 > d.P95 || d.P95 > d.P99 {
		t.Errorf("percentiles must be non-decreasing: p50=%v p95=%v p99=%v", d.P50, d.P95, d.P99)
	}
	if d.Min > d.P50 || d.P99 > d.Max {
		t.Errorf("percentiles must stay inside [min,max]: %+v", d)
	}
}

func TestPercentile_Bounds(t *testing.T) {
	sorted := []float64{1, 2, 3}
	if _, err := stats.Percentile(sorted, 0); err == nil {
		t.Error("Percentile(0) should error")
	}
	if _, err := stats.Percentile(sorted, 1.5); err == nil {
		t.Error("Percentile(1.5) should error")
	}
	if _, err := stats.Percentile(nil, 0.5); err == nil {
		t.Error("Percentile of empty sample should error")
	}
	got, err := stats.Percentile(sorted, 1)
	if err != nil {
		t.Fatalf("Percentile(1): %v", err)
	}
	if got != 3 {
		t.Errorf("Percentile(1): got %v, want 3", got)
	}
}

func TestAggregator_Observe(t *testing.T) {
	a := stats.NewAggregator(0.375)

	a.Observe(types.CallRecord{
		Status: types.CallStatusSuccess, Quality: 0.9, LatencyS: 0.5,
		InputTokens: 150, OutputTokens: 350, AttemptCount: 1,
	})
	a.Observe(types.CallRecord{
		Status: types.CallStatusSuccess, Quality: 0.7, LatencyS: 1.5,
		InputTokens: 150, OutputTokens: 350, AttemptCount: 3,
	})
	a.Observe(types.CallRecord{
		Status: types.CallStatusFailedAfterRetries, AttemptCount: 4,
	})
	a.Observe(types.CallRecord{
		Status: types.CallStatusAbortedByBudget,
	})

	s := a.Summarize()
	if s.TotalCalls != 4 {
		t.Errorf("TotalCalls: got %d, want 4", s.TotalCalls)
	}
	if s.Succeeded != 2 {
		t.Errorf("Succeeded: got %d, want 2", s.Succeeded)
	}
	if s.FailedAfterRetries != 1 {
		t.Errorf("FailedAfterRetries: got %d, want 1", s.FailedAfterRetries)
	}
	if s.AbortedByBudget != 1 {
		t.Errorf("AbortedByBudget: got %d, want 1", s.AbortedByBudget)
	}
	if s.TotalAttempts != 8 {
		t.Errorf("TotalAttempts: got %d, want 8", s.TotalAttempts)
	}
	if s.TotalRetries != 5 {
		t.Errorf("TotalRetries: got %d, want 5 (2 on call 1, 3 on call 2)", s.TotalRetries)
	}
	if s.TotalInputTokens != 300 || s.TotalOutputTokens != 700 {
		t.Errorf("tokens: got %d/%d, want 300/700", s.TotalInputTokens, s.TotalOutputTokens)
	}
	// 1000 tokens at $0.375 per million.
	if !almostEqual(s.EstimatedCostUSD, 0.000375) {
		t.Errorf("EstimatedCostUSD: got %v, want 0.000375", s.EstimatedCostUSD)
	}

	if s.Quality == nil || s.Quality.Count != 2 {
		t.Fatalf("Quality distribution should hold 2 successful samples, got %+v", s.Quality)
	}
	if !almostEqual(s.Quality.Mean, 0.8) {
		t.Errorf("Quality.Mean: got %v, want 0.8", s.Quality.Mean)
	}
	if s.Latency == nil || s.Latency.Max != 1.5 {
		t.Fatalf("Latency distribution: got %+v, want max 1.5", s.Latency)
	}
	if !almostEqual(s.SuccessRate(), 0.5) {
		t.Errorf("SuccessRate: got %v, want 0.5", s.SuccessRate())
	}
}

func TestAggregator_EmptyRun(t *testing.T) {
	a := stats.NewAggregator(0)
	s := a.Summarize()
	if s.TotalCalls != 0 {
		t.Errorf("TotalCalls: got %d, want 0", s.TotalCalls)
	}
	if s.Latency != nil || s.Quality != nil {
		t.Error("distributions of an empty run should be nil")
	}
	if s.SuccessRate() != 0 {
		t.Errorf("SuccessRate of empty run: got %v, want 0", s.SuccessRate())
	}
}

func TestAggregator_CostOf(t *testing.T) {
	a := stats.NewAggregator(0.375)
	if got := a.CostOf(150, 350); !almostEqual(got, 0.0001875) {
		t.Errorf("CostOf(150,350): got %v, want 0.0001875", got)
	}
	// Non-positive rate falls back to the default.
	b := stats.NewAggregator(-1)
	if got := b.CostOf(1_000_000, 0); !almostEqual(got, stats.DefaultPricePerMillionUSD) {
		t.Errorf("CostOf with default rate: got %v, want %v", got, stats.DefaultPricePerMillionUSD)
	}
}
