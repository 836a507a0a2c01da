package types

import (
	"fmt"
	"time"
)

// Default budget ceilings applied when a scenario leaves them unset.
const (
	DefaultMaxCostUSD  = 1.00
	DefaultMaxDuration = 10 * time.Minute
	DefaultMaxRetries  = 3
	DefaultCallTimeout = 30 * time.Second
	DefaultBackoffBase = 5 * time.Second
)

// RunBudget holds the hard ceilings a validation run must stay inside.
// Cost and duration are cumulative across the run; retries, timeout and
// backoff govern each individual call.
type RunBudget struct {
	MaxCostUSD  float64       `json:"max_cost_usd"`
	MaxDuration time.Duration `json:"max_duration"`
	MaxRetries  int           `json:"max_retries"`
	CallTimeout time.Duration `json:"call_timeout"`
	BackoffBase time.Duration `json:"backoff_base"`
}

// DefaultRunBudget returns the standard ceilings for a validation run.
func DefaultRunBudget() RunBudget {
	return RunBudget{
		MaxCostUSD:  DefaultMaxCostUSD,
		MaxDuration: DefaultMaxDuration,
		MaxRetries:  DefaultMaxRetries,
		CallTimeout: DefaultCallTimeout,
		BackoffBase: DefaultBackoffBase,
	}
}

// Validate rejects budgets whose ceilings could never admit a call.
func (b RunBudget) Validate() error {
	if b.MaxCostUSD <= 0 {
		return fmt.Errorf("budget: max_cost_usd must be positive, got %v", b.MaxCostUSD)
	}
	if b.MaxDuration <= 0 {
		return fmt.Errorf("budget: max_duration must be positive, got %v", b.MaxDuration)
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("budget: max_retries must not be negative, got %d", b.MaxRetries)
	}
	if b.CallTimeout <= 0 {
		return fmt.Errorf("budget: call_timeout must be positive, got %v", b.CallTimeout)
	}
	if b.BackoffBase <= 0 {
		return fmt.Errorf("budget: backoff_base must be positive, got %v", b.BackoffBase)
	}
	return nil
}

// MaxAttempts returns the attempt ceiling per call: the first try plus
// one retry per allowed retry.
func (b RunBudget) MaxAttempts() int {
	return b.MaxRetries + 1
}
