package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// ExhaustedError is returned by callers that need to surface a breached
// ceiling as an error rather than a boolean.
type ExhaustedError struct {
	SpentUSD float64
	Elapsed  time.Duration
	Budget   types.RunBudget
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: spent $%.4f of $%.4f, elapsed %s of %s",
		e.SpentUSD, e.Budget.MaxCostUSD, e.Elapsed.Round(time.Millisecond), e.Budget.MaxDuration)
}

// Guard enforces the cumulative cost and duration ceilings of one run.
// Once a ceiling has been crossed the guard stays exhausted: Admit never
// returns true again, regardless of later inputs.
// It is safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	budget    types.RunBudget
	spentUSD  float64
	elapsed   time.Duration
	exhausted bool
}

// New creates a guard for the given budget ceilings.
func New(b types.RunBudget) *Guard {
	return &Guard{budget: b}
}

// Admit reports whether a call with the given estimated cost may start.
// The estimate is advisory: admission requires that realized spend plus
// the estimate stays within the cost ceiling.
func (g *Guard) Admit(estimatedCostUSD float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.exhausted {
		return false
	}
	if estimatedCostUSD < 0 {
		estimatedCostUSD = 0
	}
	return g.spentUSD+estimatedCostUSD <= g.budget.MaxCostUSD
}

// Record accounts for a finished call: its realized cost and the wall-clock
// time its whole attempt sequence consumed. Crossing either ceiling marks
// the guard exhausted.
func (g *Guard) Record(actualCostUSD float64, elapsed time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if actualCostUSD > 0 {
		g.spentUSD += actualCostUSD
	}
	if elapsed > 0 {
		g.elapsed += elapsed
	}
	if g.spentUSD >= g.budget.MaxCostUSD || g.elapsed >= g.budget.MaxDuration {
		g.exhausted = true
	}
}

// Exhausted reports whether any ceiling has been crossed.
func (g *Guard) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exhausted
}

// SpentUSD returns the realized spend so far.
func (g *Guard) SpentUSD() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spentUSD
}

// Elapsed returns the accumulated call time so far.
func (g *Guard) Elapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.elapsed
}

// Err returns an ExhaustedError describing the current state, or nil when
// the guard still admits calls.
func (g *Guard) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.exhausted {
		return nil
	}
	return &ExhaustedError{SpentUSD: g.spentUSD, Elapsed: g.elapsed, Budget: g.budget}
}
