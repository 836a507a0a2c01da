package learner

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// RateLimitConfig caps how fast the harness may hit the component.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// RateLimitedLearner wraps a Learner with a token-bucket limiter so stress
// scenarios cannot hammer a real component faster than its quota allows.
type RateLimitedLearner struct {
	inner   Learner
	limiter *rate.Limiter
}

// NewRateLimitedLearner validates cfg and wraps inner.
func NewRateLimitedLearner(inner Learner, cfg RateLimitConfig) (*RateLimitedLearner, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("rate limit: requests_per_minute must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &RateLimitedLearner{
		inner:   inner,
		limiter: rate.NewLimiter(perSecond, cfg.Burst),
	}, nil
}

// Submit waits for a token, then delegates. A context that dies in the
// queue surfaces as the context's own error; a wait the limiter rejects
// up front, because it could not finish before the deadline, comes back
// as a transient rate_limit failure for the retry policy to absorb.
func (r *RateLimitedLearner) Submit(ctx context.Context, task string) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, types.NewTransientError(types.KindRateLimit, err)
	}
	return r.inner.Submit(ctx, task)
}

// Close delegates to the inner learner.
func (r *RateLimitedLearner) Close() error {
	return r.inner.Close()
}
