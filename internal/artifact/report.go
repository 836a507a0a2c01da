package artifact

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// AssertionRow pairs a check name with its failure, nil when it passed.
type AssertionRow struct {
	Name    string
	Failure *types.AssertionFailure
}

// AssertionRows zips the evaluated check names with the failures they
// produced, preserving evaluation order.
func AssertionRows(names []string, failures []types.AssertionFailure) []AssertionRow {
	byName := make(map[string]*types.AssertionFailure, len(failures))
	for i := range failures {
		byName[failures[i].Name] = &failures[i]
	}
	rows := make([]AssertionRow, 0, len(names))
	for _, name := range names {
		rows = append(rows, AssertionRow{Name: name, Failure: byName[name]})
	}
	return rows
}

// Report holds everything the markdown report renders. Timestamps come
// from the result itself, so identical runs render byte-identical reports.
type Report struct {
	Title   string
	Result  *types.ValidationResult
	Summary *stats.Summary
	Checks  []AssertionRow
}

// GenerateMarkdown writes a Markdown-formatted validation report to w.
func GenerateMarkdown(w io.Writer, r *Report) error {
	title := r.Title
	if title == "" {
		title = "Validation Report"
	}
	res := r.Result
	sum := r.Summary

	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "**Run:** `%s`\n**Scenario:** %s\n**Namespace:** %s\n**Generated:** %s\n**Outcome:** %s\n\n",
		res.RunID, res.Scenario, res.Namespace,
		res.FinishedAt.UTC().Format(time.RFC3339), res.Outcome); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "## Summary\n\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- **Calls:** %d total (%d succeeded, %d failed after retries, %d aborted by budget)\n",
		sum.TotalCalls, sum.Succeeded, sum.FailedAfterRetries, sum.AbortedByBudget); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- **Attempts:** %d (%d retries)\n", sum.TotalAttempts, sum.TotalRetries); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- **Tokens:** %d in / %d out\n", sum.TotalInputTokens, sum.TotalOutputTokens); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- **Cost:** $%.4f of $%.4f ceiling\n", res.TotalCostUSD, res.Budget.MaxCostUSD); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- **Wall clock:** %.1fs\n", res.ElapsedS); err != nil {
		return err
	}
	if res.Restarted {
		if _, err := fmt.Fprintf(w, "- **Component restarted mid-run**\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	if err := writeDistribution(w, "Latency", "Seconds", sum.Latency); err != nil {
		return err
	}
	if err := writeDistribution(w, "Quality", "Score", sum.Quality); err != nil {
		return err
	}

	if err := writeMemory(w, res); err != nil {
		return err
	}

	return writeAssertions(w, r.Checks)
}

func writeDistribution(w io.Writer, title, unit string, d *stats.Distribution) error {
	if _, err := fmt.Fprintf(w, "## %s\n\n", title); err != nil {
		return err
	}
	if d == nil {
		_, err := fmt.Fprintf(w, "_No successful calls to measure._\n\n")
		return err
	}
	if _, err := fmt.Fprintf(w, "| Metric | %s |\n|--------|------|\n", unit); err != nil {
		return err
	}
	rows := []struct {
		name  string
		value float64
	}{
		{"min", d.Min}, {"max", d.Max}, {"mean", d.Mean},
		{"p50", d.P50}, {"p95", d.P95}, {"p99", d.P99},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "| %s | %.3f |\n", row.name, row.value); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func writeMemory(w io.Writer, res *types.ValidationResult) error {
	if _, err := fmt.Fprintf(w, "## Memory\n\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "- **Files:** %d before, %d after\n- **Bytes:** %d before, %d after\n\n",
		res.Initial.FileCount, res.Final.FileCount,
		res.Initial.TotalBytes, res.Final.TotalBytes); err != nil {
		return err
	}

	names := make([]string, 0, len(res.Final.Counters))
	seen := map[string]bool{}
	for name := range res.Final.Counters {
		names = append(names, name)
		seen[name] = true
	}
	for name := range res.Initial.Counters {
		if !seen[name] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		_, err := fmt.Fprintf(w, "_No counters observed._\n\n")
		return err
	}
	sort.Strings(names)

	if _, err := fmt.Fprintln(w, "| Counter | Before | After | Change |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|---------|--------|-------|--------|"); err != nil {
		return err
	}
	for _, name := range names {
		before := res.Initial.Counter(name)
		after := res.Final.Counter(name)
		if _, err := fmt.Fprintf(w, "| %s | %d | %d | %+d |\n", name, before, after, after-before); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func writeAssertions(w io.Writer, checks []AssertionRow) error {
	if _, err := fmt.Fprintf(w, "## Assertions\n\n"); err != nil {
		return err
	}
	if len(checks) == 0 {
		_, err := fmt.Fprintln(w, "_No assertions evaluated._")
		return err
	}

	if _, err := fmt.Fprintln(w, "| Assertion | Status | Detail |"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|-----------|--------|--------|"); err != nil {
		return err
	}
	for _, row := range checks {
		if row.Failure == nil {
			if _, err := fmt.Fprintf(w, "| `%s` | :white_check_mark: pass | |\n", row.Name); err != nil {
				return err
			}
			continue
		}
		detail := fmt.Sprintf("expected %s, observed %s", row.Failure.Expected, row.Failure.Observed)
		detail = strings.ReplaceAll(detail, "|", "\\|")
		if len(detail) > 160 {
			detail = detail[:157] + "..."
		}
		if _, err := fmt.Fprintf(w, "| `%s` | :x: fail | %s |\n", row.Name, detail); err != nil {
			return err
		}
	}
	return nil
}
