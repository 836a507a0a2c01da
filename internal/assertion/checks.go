package assertion

import (
	"fmt"

	"github.com/loopcheck-ai/loopcheck/internal/snapshot"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// qualityThreshold verifies the quality of successful calls. In floor mode
// every successful call must reach the per-call floor; in mean mode the
// average across successful calls must reach the mean floor. A run with no
// successful calls fails either way: nothing was validated.
func qualityThreshold(cfg engineConfig) Check {
	return func(res *types.ValidationResult) *types.AssertionFailure {
		successful := res.Successful()
		if len(successful) == 0 {
			return &types.AssertionFailure{
				Expected: "at least one successful call to measure quality on",
				Observed: fmt.Sprintf("0 of %d calls succeeded", len(res.Records)),
			}
		}

		if cfg.meanQualityFloor > 0 {
			var sum float64
			for _, rec := range successful {
				sum += rec.Quality
			}
			mean := sum / float64(len(successful))
			if mean < cfg.meanQualityFloor {
				return &types.AssertionFailure{
					Expected: fmt.Sprintf("mean quality >= %.2f across successful calls", cfg.meanQualityFloor),
					Observed: fmt.Sprintf("mean quality %.3f over %d calls", mean, len(successful)),
				}
			}
			return nil
		}

		below := 0
		minScore := successful[0].Quality
		for _, rec := range successful {
			if rec.Quality < cfg.qualityFloor {
				below++
			}
			if rec.Quality < minScore {
				minScore = rec.Quality
			}
		}
		if below > 0 {
			return &types.AssertionFailure{
				Expected: fmt.Sprintf("every successful call at quality >= %.2f", cfg.qualityFloor),
				Observed: fmt.Sprintf("%d/%d calls below threshold, minimum score %.3f", below, len(successful), minScore),
			}
		}
		return nil
	}
}

// noCrashes verifies that no recorded call ended with a fatal or
// unclassified error. Calls that burned their retries on transient faults
// count as failures elsewhere, not as crashes.
func noCrashes(cfg engineConfig) Check {
	return func(res *types.ValidationResult) *types.AssertionFailure {
		if len(res.Records) == 0 {
			return &types.AssertionFailure{
				Expected: "at least one call record",
				Observed: "run produced no records",
			}
		}

		crashed := 0
		first := ""
		for _, rec := range res.Records {
			fatal := rec.ErrorClass == types.ErrorClassFatal
			unclassified := rec.Error != "" && rec.ErrorClass == ""
			if fatal || unclassified {
				crashed++
				if first == "" {
					first = fmt.Sprintf("call %d: %s", rec.Index, rec.Error)
				}
			}
		}
		if crashed > 0 {
			return &types.AssertionFailure{
				Expected: "no call ending in a fatal or unclassified error",
				Observed: fmt.Sprintf("%d crashed calls, first: %s", crashed, first),
			}
		}
		return nil
	}
}

// memoryPersisted verifies the component's memory grew during the run.
func memoryPersisted(cfg engineConfig) Check {
	return func(res *types.ValidationResult) *types.AssertionFailure {
		delta, err := snapshot.Diff(&res.Initial, &res.Final)
		if err != nil {
			return &types.AssertionFailure{
				Expected: "comparable before/after snapshots",
				Observed: err.Error(),
			}
		}
		if !delta.Grew() {
			return &types.AssertionFailure{
				Expected: "at least one memory counter to grow",
				Observed: fmt.Sprintf("no counter increased (files %+d, bytes %+d)",
					delta.FileCountDelta, delta.ByteDelta),
			}
		}
		return nil
	}
}

// learningExtracted verifies the final snapshot holds enough extracted
// patterns.
func learningExtracted(cfg engineConfig) Check {
	return func(res *types.ValidationResult) *types.AssertionFailure {
		got := res.Final.Counter(cfg.patternsCounter)
		if got < cfg.minPatterns {
			return &types.AssertionFailure{
				Expected: fmt.Sprintf("at least %d %q records in the final snapshot", cfg.minPatterns, cfg.patternsCounter),
				Observed: fmt.Sprintf("%d records", got),
			}
		}
		return nil
	}
}

// evolutionTriggered verifies the evolution counter strictly increased
// over the run.
func evolutionTriggered(cfg engineConfig) Check {
	return func(res *types.ValidationResult) *types.AssertionFailure {
		before := res.Initial.Counter(cfg.evolutionsCounter)
		after := res.Final.Counter(cfg.evolutionsCounter)
		if after <= before {
			return &types.AssertionFailure{
				Expected: fmt.Sprintf("%q counter to increase during the run", cfg.evolutionsCounter),
				Observed: fmt.Sprintf("%d before, %d after", before, after),
			}
		}
		return nil
	}
}

// costWithinBudget verifies realized spend stayed at or under the ceiling.
func costWithinBudget(cfg engineConfig) Check {
	return func(res *types.ValidationResult) *types.AssertionFailure {
		ceiling := cfg.costCeilingUSD
		if ceiling <= 0 {
			ceiling = res.Budget.MaxCostUSD
		}
		if ceiling <= 0 {
			return &types.AssertionFailure{
				Expected: "a positive cost ceiling to check against",
				Observed: "run carries no budget and no ceiling was configured",
			}
		}
		if res.TotalCostUSD > ceiling {
			return &types.AssertionFailure{
				Expected: fmt.Sprintf("total cost <= $%.4f", ceiling),
				Observed: fmt.Sprintf("$%.4f spent", res.TotalCostUSD),
			}
		}
		return nil
	}
}
