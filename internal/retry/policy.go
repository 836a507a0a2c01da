// Package retry executes a single call against the learning component
// under the per-call ceilings of the run budget: bounded attempts, a
// timeout on each attempt, and linear backoff between them.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopcheck-ai/loopcheck/internal/learner"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// Outcome is the terminal result of one attempt sequence. Response is set
// only when Status is success; Err holds the last transient error when the
// sequence burned every attempt.
type Outcome struct {
	Response *learner.Response
	Status   string
	Attempts []types.Attempt
	Err      error
}

// Policy drives the attempt sequence for one call. The attempt ceiling is
// MaxRetries+1; the delay before retry n (1-based attempt index) is
// BackoffBase*n, so consecutive delays grow strictly.
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	CallTimeout time.Duration

	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a policy from the per-call fields of the run budget.
func NewPolicy(b types.RunBudget, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		MaxRetries:  b.MaxRetries,
		BackoffBase: b.BackoffBase,
		CallTimeout: b.CallTimeout,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// SetSleep replaces the backoff sleeper. Tests use it to observe delays
// without waiting them out.
func (p *Policy) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// Execute runs call until it succeeds, a fatal or unclassified error
// surfaces, the attempt ceiling is reached, or ctx is canceled.
//
// Transient failures are absorbed into the Outcome's attempt trail; after
// the final attempt fails the Outcome carries status failed_after_retries.
// Fatal and unclassified errors propagate as the returned error, as does
// cancellation of the parent ctx.
func (p *Policy) Execute(ctx context.Context, call func(ctx context.Context) (*learner.Response, error)) (*Outcome, error) {
	maxAttempts := p.MaxRetries + 1
	attempts := make([]types.Attempt, 0, 1)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if p.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}

		start := time.Now()
		resp, err := call(attemptCtx)
		cancel()
		duration := time.Since(start).Seconds()

		if err == nil {
			attempts = append(attempts, types.Attempt{Index: attempt, DurationS: duration})
			return &Outcome{Response: resp, Status: types.CallStatusSuccess, Attempts: attempts}, nil
		}

		// The run was canceled from above; the attempt trail is moot.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		class, kind := types.Classify(err)
		attempts = append(attempts, types.Attempt{
			Index:      attempt,
			DurationS:  duration,
			Error:      err.Error(),
			ErrorClass: class,
		})

		if class != types.ErrorClassTransient {
			if class == "" {
				return nil, fmt.Errorf("attempt %d failed with unclassified error: %w", attempt, err)
			}
			return nil, fmt.Errorf("attempt %d failed fatally (%s): %w", attempt, kind, err)
		}

		if attempt == maxAttempts {
			return &Outcome{
				Status:   types.CallStatusFailedAfterRetries,
				Attempts: attempts,
				Err:      err,
			}, nil
		}

		delay := time.Duration(attempt) * p.BackoffBase
		p.logger.Warn("transient failure, backing off",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"kind", kind,
			"delay", delay,
			"error", err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
	}

	// Unreachable: the loop always returns from its final iteration.
	return nil, fmt.Errorf("retry loop exited without outcome")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
