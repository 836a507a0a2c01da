package types

import (
	"fmt"
	"time"
)

// Terminal outcomes of a validation run.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
)

// ValidationResult is the full evidence bundle produced by one run: every
// call record, the before/after memory snapshots and the realized spend.
type ValidationResult struct {
	RunID             string         `json:"run_id"`
	Scenario          string         `json:"scenario"`
	Namespace         string         `json:"namespace"`
	Outcome           string         `json:"outcome"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        time.Time      `json:"finished_at"`
	Budget            RunBudget      `json:"budget"`
	TasksSupplied     int            `json:"tasks_supplied"`
	Records           []CallRecord   `json:"records"`
	Initial           MemorySnapshot `json:"initial_snapshot"`
	Final             MemorySnapshot `json:"final_snapshot"`
	TotalCostUSD      float64        `json:"total_cost_usd"`
	TotalInputTokens  int64          `json:"total_input_tokens"`
	TotalOutputTokens int64          `json:"total_output_tokens"`
	ElapsedS          float64        `json:"elapsed_s"`
	Restarted         bool           `json:"restarted"`
}

// Successful returns the records that reached a successful terminal status,
// in call order.
func (r *ValidationResult) Successful() []CallRecord {
	out := make([]CallRecord, 0, len(r.Records))
	for _, rec := range r.Records {
		if rec.Succeeded() {
			out = append(out, rec)
		}
	}
	return out
}

// Completed reports whether the run drained its task list without aborting.
func (r *ValidationResult) Completed() bool {
	return r.Outcome == OutcomeCompleted
}

// AssertionFailure describes one named check that did not hold against a
// ValidationResult. Failures are collected, never thrown.
type AssertionFailure struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
}

func (f AssertionFailure) String() string {
	return fmt.Sprintf("%s: expected %s, observed %s", f.Name, f.Expected, f.Observed)
}

// Names of the built-in assertions evaluated after every run.
const (
	AssertQualityThreshold   = "quality-threshold"
	AssertNoCrashes          = "no-crashes"
	AssertMemoryPersisted    = "memory-persisted"
	AssertLearningExtracted  = "learning-extracted"
	AssertEvolutionTriggered = "evolution-triggered"
	AssertCostWithinBudget   = "cost-within-budget"
)
