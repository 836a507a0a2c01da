package types

import "time"

// Terminal statuses for a CallRecord.
const (
	CallStatusSuccess            = "success"
	CallStatusFailedAfterRetries = "failed_after_retries"
	CallStatusAbortedByBudget    = "aborted_by_budget"
)

// Error classes assigned during retry classification.
const (
	ErrorClassTransient = "transient"
	ErrorClassFatal     = "fatal"
)

// Attempt records a single delivery attempt inside a call's retry sequence.
type Attempt struct {
	Index      int     `json:"index"`
	DurationS  float64 `json:"duration_s"`
	Error      string  `json:"error,omitempty"`
	ErrorClass string  `json:"error_class,omitempty"`
}

// CallRecord is the immutable outcome of one task sent to the learning
// component, covering every attempt the retry policy made for it.
type CallRecord struct {
	Index        int       `json:"call_index"`
	Task         string    `json:"task"`
	Response     string    `json:"response,omitempty"`
	Quality      float64   `json:"quality_score"`
	LatencyS     float64   `json:"latency_s"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	AttemptCount int       `json:"attempt_count"`
	Attempts     []Attempt `json:"attempts,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	ErrorClass   string    `json:"error_class,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Succeeded reports whether the call reached a successful terminal status.
func (r *CallRecord) Succeeded() bool {
	return r.Status == CallStatusSuccess
}

// TotalTokens returns the combined input and output token count.
func (r *CallRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}
