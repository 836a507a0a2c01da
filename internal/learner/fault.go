package learner

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// FaultConfig defines the fault injection parameters for a FaultInjector.
type FaultConfig struct {
	TransientRate float64       // Probability [0,1] of a classified transient failure
	FatalRate     float64       // Probability [0,1] of a classified fatal failure
	LatencyJitter time.Duration // Random additional latency [0, LatencyJitter)
	TimeoutAfter  time.Duration // If > 0, every call stalls then misses its deadline
}

// FaultInjector wraps a Learner and injects configurable faults, so
// scenarios can exercise the retry and abort paths against a component
// that otherwise behaves.
type FaultInjector struct {
	inner  Learner
	config FaultConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewFaultInjector creates a FaultInjector with a time-based seed.
func NewFaultInjector(inner Learner, config FaultConfig) *FaultInjector {
	return NewFaultInjectorWithSeed(inner, config, time.Now().UnixNano())
}

// NewFaultInjectorWithSeed creates a FaultInjector with a deterministic seed for testing.
func NewFaultInjectorWithSeed(inner Learner, config FaultConfig, seed int64) *FaultInjector {
	return &FaultInjector{
		inner:  inner,
		config: config,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec
	}
}

// Submit injects faults according to FaultConfig before delegating to the
// inner learner. Transient faults roll first, then fatal ones, so a config
// with both rates exercises both classes.
func (f *FaultInjector) Submit(ctx context.Context, task string) (*Response, error) {
	f.mu.Lock()
	transientRoll := f.rng.Float64()
	fatalRoll := f.rng.Float64()
	var jitter time.Duration
	if f.config.LatencyJitter > 0 {
		jitter = time.Duration(f.rng.Int63n(int64(f.config.LatencyJitter)))
	}
	f.mu.Unlock()

	if f.config.TransientRate > 0 && transientRoll < f.config.TransientRate {
		return nil, types.NewTransientError(types.KindConnectionReset,
			errors.New("injected fault: simulated connection reset"))
	}

	if f.config.FatalRate > 0 && fatalRoll < f.config.FatalRate {
		return nil, types.NewFatalError(types.KindMalformedInput,
			errors.New("injected fault: simulated malformed input"))
	}

	if f.config.TimeoutAfter > 0 {
		select {
		case <-time.After(f.config.TimeoutAfter):
		case <-ctx.Done():
		}
		return nil, context.DeadlineExceeded
	}

	if jitter > 0 {
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return f.inner.Submit(ctx, task)
}

// Close delegates to the inner learner.
func (f *FaultInjector) Close() error {
	return f.inner.Close()
}
