package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopcheck-ai/loopcheck/internal/artifact"
	"github.com/loopcheck-ai/loopcheck/internal/budget"
	"github.com/loopcheck-ai/loopcheck/internal/learner"
	"github.com/loopcheck-ai/loopcheck/internal/retry"
	"github.com/loopcheck-ai/loopcheck/internal/snapshot"
	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// State is the orchestrator's lifecycle position. A run moves from idle
// through running into exactly one terminal state.
type State string

// Orchestrator states.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithArtifacts attaches an artifact writer. The orchestrator streams the
// call log during the run and writes snapshots, metrics and the result at
// the end; it does not close the writer.
func WithArtifacts(w *artifact.Writer) Option {
	return func(o *Orchestrator) { o.writer = w }
}

// WithRunID fixes the run ID instead of generating one, so callers can
// name artifact directories before the run starts.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// WithSleep replaces the retry backoff sleeper, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// Orchestrator drives one validation run: a bounded, strictly sequential
// task loop against a learning component, guarded by the run budget and
// bracketed by state snapshots. Each Orchestrator runs once.
type Orchestrator struct {
	factory learner.Factory
	logger  *slog.Logger
	writer  *artifact.Writer
	runID   string
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
}

// New builds an idle orchestrator around the component factory.
func New(factory learner.Factory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		factory: factory,
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current lifecycle position.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run executes the scenario's task sequence and returns the evidence
// bundle. Budget exhaustion is not an error: an aborted run still returns
// a complete ValidationResult. Fatal or unclassified component errors, and
// cancellation of ctx, propagate as the returned error; the orchestrator
// closes the component handle it owns on every path.
func (o *Orchestrator) Run(ctx context.Context, s *Scenario) (result *types.ValidationResult, err error) {
	o.mu.Lock()
	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator already ran (state %s)", state)
	}
	o.state = StateRunning
	o.mu.Unlock()

	defer func() {
		if err != nil {
			o.setState(StateAborted)
		}
	}()

	runBudget := s.Budget.RunBudget()
	if err := runBudget.Validate(); err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}

	runID := o.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	root := s.SnapshotRoot()
	started := time.Now()

	o.logger.Info("run starting",
		"run_id", runID,
		"scenario", s.Name,
		"namespace", s.Namespace,
		"tasks", len(s.Tasks),
		"max_cost_usd", runBudget.MaxCostUSD)

	initial, err := snapshot.Capture(root)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	o.writeSnapshot("initial", initial)

	current, err := o.factory()
	if err != nil {
		return nil, fmt.Errorf("construct component: %w", err)
	}
	defer func() {
		if current == nil {
			return
		}
		if cerr := current.Close(); cerr != nil {
			o.logger.Warn("component close failed", "error", cerr)
		}
	}()

	guard := budget.New(runBudget)
	policy := retry.NewPolicy(runBudget, o.logger)
	if o.sleep != nil {
		policy.SetSleep(o.sleep)
	}
	agg := stats.NewAggregator(s.PricePerMillionUSD)

	records := make([]types.CallRecord, 0, len(s.Tasks))
	outcome := types.OutcomeCompleted
	restarted := false

	for i, task := range s.Tasks {
		if guard.Exhausted() {
			o.logger.Info("budget exhausted, stopping",
				"calls", len(records),
				"spent_usd", guard.SpentUSD(),
				"elapsed", guard.Elapsed())
			outcome = types.OutcomeAborted
			break
		}

		estimate := meanRealizedCost(records)
		if !guard.Admit(estimate) {
			rec := types.CallRecord{
				Index:     i,
				Task:      task,
				Status:    types.CallStatusAbortedByBudget,
				StartedAt: time.Now().UTC(),
			}
			records = append(records, rec)
			agg.Observe(rec)
			o.appendCall(rec)
			o.logger.Info("admission denied, stopping",
				"call", i,
				"estimated_cost_usd", estimate,
				"spent_usd", guard.SpentUSD())
			outcome = types.OutcomeAborted
			break
		}

		seqStart := time.Now()
		attemptOutcome, err := policy.Execute(ctx, func(ctx context.Context) (*learner.Response, error) {
			return current.Submit(ctx, task)
		})
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}

		rec := buildRecord(i, task, seqStart, attemptOutcome, agg)
		records = append(records, rec)
		agg.Observe(rec)
		guard.Record(rec.CostUSD, time.Since(seqStart))
		o.appendCall(rec)

		if s.RestartAfter != nil && i == *s.RestartAfter {
			cerr := current.Close()
			current = nil
			if cerr != nil {
				return nil, fmt.Errorf("close component for restart: %w", cerr)
			}
			next, ferr := o.factory()
			if ferr != nil {
				return nil, fmt.Errorf("reconstruct component: %w", ferr)
			}
			current = next
			restarted = true
			o.logger.Info("component handle reconstructed", "after_call", i)
		}
	}

	final, err := snapshot.Capture(root)
	if err != nil {
		return nil, fmt.Errorf("final snapshot: %w", err)
	}
	o.writeSnapshot("final", final)

	summary := agg.Summarize()
	result = &types.ValidationResult{
		RunID:             runID,
		Scenario:          s.Name,
		Namespace:         s.Namespace,
		Outcome:           outcome,
		StartedAt:         started.UTC(),
		FinishedAt:        time.Now().UTC(),
		Budget:            runBudget,
		TasksSupplied:     len(s.Tasks),
		Records:           records,
		Initial:           *initial,
		Final:             *final,
		TotalCostUSD:      guard.SpentUSD(),
		TotalInputTokens:  summary.TotalInputTokens,
		TotalOutputTokens: summary.TotalOutputTokens,
		ElapsedS:          time.Since(started).Seconds(),
		Restarted:         restarted,
	}

	o.writeMetrics(summary)
	o.writeResult(result)

	if outcome == types.OutcomeCompleted {
		o.setState(StateCompleted)
	} else {
		o.setState(StateAborted)
	}
	o.logger.Info("run finished",
		"run_id", runID,
		"outcome", outcome,
		"calls", len(records),
		"succeeded", summary.Succeeded,
		"spent_usd", result.TotalCostUSD,
		"elapsed_s", result.ElapsedS)

	return result, nil
}

// buildRecord finalizes one attempt sequence into an immutable CallRecord.
func buildRecord(index int, task string, startedAt time.Time, out *retry.Outcome, agg *stats.Aggregator) types.CallRecord {
	rec := types.CallRecord{
		Index:        index,
		Task:         task,
		Status:       out.Status,
		Attempts:     out.Attempts,
		AttemptCount: len(out.Attempts),
		StartedAt:    startedAt.UTC(),
	}
	if out.Status == types.CallStatusSuccess && out.Response != nil {
		rec.Response = out.Response.Text
		rec.Quality = out.Response.Quality
		rec.InputTokens = out.Response.InputTokens
		rec.OutputTokens = out.Response.OutputTokens
		rec.CostUSD = agg.CostOf(rec.InputTokens, rec.OutputTokens)
		if n := len(out.Attempts); n > 0 {
			rec.LatencyS = out.Attempts[n-1].DurationS
		}
		return rec
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
		class, _ := types.Classify(out.Err)
		rec.ErrorClass = class
	}
	return rec
}

// meanRealizedCost estimates the next call's cost from the calls that have
// actually run, zero when none have.
func meanRealizedCost(records []types.CallRecord) float64 {
	var sum float64
	var ran int
	for _, rec := range records {
		if rec.AttemptCount == 0 {
			continue
		}
		sum += rec.CostUSD
		ran++
	}
	if ran == 0 {
		return 0
	}
	return sum / float64(ran)
}

// Artifact writes never kill a run; losing evidence is logged and the run
// carries on.

func (o *Orchestrator) appendCall(rec types.CallRecord) {
	if err := o.writer.AppendCall(rec); err != nil {
		o.logger.Warn("call log write failed", "call", rec.Index, "error", err)
	}
}

func (o *Orchestrator) writeSnapshot(name string, snap *types.MemorySnapshot) {
	if err := o.writer.WriteSnapshot(name, snap); err != nil {
		o.logger.Warn("snapshot write failed", "name", name, "error", err)
	}
}

func (o *Orchestrator) writeMetrics(summary *stats.Summary) {
	if err := o.writer.WriteMetrics(summary); err != nil {
		o.logger.Warn("metrics write failed", "error", err)
	}
}

func (o *Orchestrator) writeResult(res *types.ValidationResult) {
	if err := o.writer.WriteResult(res); err != nil {
		o.logger.Warn("result write failed", "error", err)
	}
}
