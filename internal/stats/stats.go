// Package stats accumulates per-call observations into the run's summary
// statistics: latency and quality distributions, attempt and retry counts,
// token totals and estimated spend.
package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// DefaultPricePerMillionUSD is the blended cost assumed per million tokens
// when a scenario does not name its own rate.
const DefaultPricePerMillionUSD = 0.375

// Distribution summarizes one metric sample. Percentiles use the
// nearest-rank method on the sorted sample: index ceil(p*n)-1, clamped to
// the sample bounds, so a single observation reports the same value for
// every percentile.
type Distribution struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// Summary is the aggregate view of one run, serialized into metrics.json.
type Summary struct {
	TotalCalls         int           `json:"total_calls"`
	Succeeded          int           `json:"succeeded"`
	FailedAfterRetries int           `json:"failed_after_retries"`
	AbortedByBudget    int           `json:"aborted_by_budget"`
	TotalAttempts      int           `json:"total_attempts"`
	TotalRetries       int           `json:"total_retries"`
	TotalInputTokens   int64         `json:"total_input_tokens"`
	TotalOutputTokens  int64         `json:"total_output_tokens"`
	EstimatedCostUSD   float64       `json:"estimated_cost_usd"`
	Latency            *Distribution `json:"latency_s,omitempty"`
	Quality            *Distribution `json:"quality,omitempty"`
}

// SuccessRate returns the fraction of calls that succeeded, zero for an
// empty run.
func (s *Summary) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.TotalCalls)
}

// Aggregator folds call records into running totals. Observe must be
// called exactly once per completed record; the aggregator has no way to
// deduplicate. Not safe for concurrent use.
type Aggregator struct {
	pricePerMillion float64

	latencies []float64
	qualities []float64

	calls              int
	succeeded          int
	failedAfterRetries int
	abortedByBudget    int
	attempts           int
	retries            int
	inputTokens        int64
	outputTokens       int64
}

// NewAggregator creates an aggregator pricing tokens at the given USD rate
// per million. Non-positive rates fall back to the default.
func NewAggregator(pricePerMillionUSD float64) *Aggregator {
	if pricePerMillionUSD <= 0 {
		pricePerMillionUSD = DefaultPricePerMillionUSD
	}
	return &Aggregator{pricePerMillion: pricePerMillionUSD}
}

// CostOf prices a single call's token usage.
func (a *Aggregator) CostOf(inputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) / 1_000_000 * a.pricePerMillion
}

// Observe folds one completed record into the totals. Latency and quality
// enter their distributions only for successful calls; failed and aborted
// calls still count toward attempts, tokens and status tallies.
func (a *Aggregator) Observe(rec types.CallRecord) {
	a.calls++
	a.attempts += rec.AttemptCount
	if rec.AttemptCount > 1 {
		a.retries += rec.AttemptCount - 1
	}
	a.inputTokens += int64(rec.InputTokens)
	a.outputTokens += int64(rec.OutputTokens)

	switch rec.Status {
	case types.CallStatusSuccess:
		a.succeeded++
		a.latencies = append(a.latencies, rec.LatencyS)
		a.qualities = append(a.qualities, rec.Quality)
	case types.CallStatusFailedAfterRetries:
		a.failedAfterRetries++
	case types.CallStatusAbortedByBudget:
		a.abortedByBudget++
	}
}

// EstimatedCostUSD prices all tokens observed so far.
func (a *Aggregator) EstimatedCostUSD() float64 {
	return float64(a.inputTokens+a.outputTokens) / 1_000_000 * a.pricePerMillion
}

// Calls returns how many records have been observed.
func (a *Aggregator) Calls() int { return a.calls }

// Summarize computes the aggregate view of everything observed so far.
// Distributions are nil while their samples are empty.
func (a *Aggregator) Summarize() *Summary {
	return &Summary{
		TotalCalls:         a.calls,
		Succeeded:          a.succeeded,
		FailedAfterRetries: a.failedAfterRetries,
		AbortedByBudget:    a.abortedByBudget,
		TotalAttempts:      a.attempts,
		TotalRetries:       a.retries,
		TotalInputTokens:   a.inputTokens,
		TotalOutputTokens:  a.outputTokens,
		EstimatedCostUSD:   a.EstimatedCostUSD(),
		Latency:            Summarize(a.latencies),
		Quality:            Summarize(a.qualities),
	}
}

// FromResult replays a stored result's records through a fresh aggregator,
// so a summary can be rebuilt from result.json alone.
func FromResult(res *types.ValidationResult, pricePerMillionUSD float64) *Summary {
	agg := NewAggregator(pricePerMillionUSD)
	for _, rec := range res.Records {
		agg.Observe(rec)
	}
	return agg.Summarize()
}

// Summarize computes the distribution of one sample, or nil when the
// sample is empty.
func Summarize(sample []float64) *Distribution {
	n := len(sample)
	if n == 0 {
		return nil
	}

	sorted := make([]float64, n)
	copy(sorted, sample)
	sort.Float64s(sorted)

	mean, stddev := computeMoments(sorted)
	return &Distribution{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean,
		StdDev: stddev,
		P50:    sorted[percentileIndex(0.50, n)],
		P95:    sorted[percentileIndex(0.95, n)],
		P99:    sorted[percentileIndex(0.99, n)],
	}
}

// Percentile returns the nearest-rank percentile of sample, which must be
// sorted ascending. p outside (0,1] is an error.
func Percentile(sorted []float64, p float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, fmt.Errorf("percentile of empty sample")
	}
	if p <= 0 || p > 1 {
		return 0, fmt.Errorf("percentile %v outside (0,1]", p)
	}
	return sorted[percentileIndex(p, len(sorted))], nil
}

// percentileIndex maps percentile p of an n-element sorted sample to its
// nearest-rank index, clamped into [0, n-1].
func percentileIndex(p float64, n int) int {
	idx := int(math.Ceil(p*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// computeMoments returns the mean and population standard deviation of data.
func computeMoments(data []float64) (mean, stddev float64) {
	if len(data) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range data {
		sum += v
	}
	mean = sum / float64(len(data))

	var sumSqDiff float64
	for _, v := range data {
		diff := v - mean
		sumSqDiff += diff * diff
	}
	stddev = math.Sqrt(sumSqDiff / float64(len(data)))
	return mean, stddev
}
