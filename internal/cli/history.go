package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopcheck-ai/loopcheck/internal/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Namespace string
	Limit     int
	Run       string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <history.db>",
		Short: "List recorded validation runs",
		Long: `List recent validation runs recorded by run --history, newest first,
with the mean quality trend across them. With --run, list the per-call
rows of one recorded run instead.

Example:
  loopcheck history runs.db --namespace validation-basic
  loopcheck history runs.db --namespace validation-basic --run a1b2c3d4-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "namespace to list runs for (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "maximum runs to list")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show the per-call rows of this run ID")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}

// runRow and callRow are the JSON shapes of the history command's output.
type runRow struct {
	RunID             string    `json:"run_id"`
	Scenario          string    `json:"scenario"`
	Outcome           string    `json:"outcome"`
	Calls             int       `json:"calls"`
	Succeeded         int       `json:"succeeded"`
	MeanQuality       float64   `json:"mean_quality"`
	TotalCostUSD      float64   `json:"total_cost_usd"`
	AssertionFailures int       `json:"assertion_failures"`
	CreatedAt         time.Time `json:"created_at"`
}

type callRow struct {
	Index    int     `json:"call_index"`
	Task     string  `json:"task"`
	Status   string  `json:"status"`
	Quality  float64 `json:"quality_score"`
	CostUSD  float64 `json:"cost_usd"`
	Attempts int     `json:"attempts"`
	Error    string  `json:"error,omitempty"`
}

type historyPayload struct {
	Namespace   string   `json:"namespace"`
	Runs        []runRow `json:"runs"`
	MeanQuality float64  `json:"mean_quality"`
	RunCount    int      `json:"run_count"`
}

func showHistory(opts *HistoryOptions, path string, cmd *cobra.Command) error {
	store, err := history.Open(path)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to open history store", err)
	}
	defer store.Close()

	if opts.Run != "" {
		return showCalls(opts, store, cmd)
	}

	runs, err := store.Recent(opts.Namespace, opts.Limit)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to list runs", err)
	}
	mean, count, err := store.RecentMeanQuality(opts.Namespace, opts.Limit)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to compute quality trend", err)
	}

	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, runRow{
			RunID:             r.RunID,
			Scenario:          r.Scenario,
			Outcome:           r.Outcome,
			Calls:             r.Calls,
			Succeeded:         r.Succeeded,
			MeanQuality:       r.MeanQuality,
			TotalCostUSD:      r.TotalCostUSD,
			AssertionFailures: r.AssertionFailures,
			CreatedAt:         r.CreatedAt,
		})
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(historyPayload{
			Namespace:   opts.Namespace,
			Runs:        rows,
			MeanQuality: mean,
			RunCount:    count,
		})
	}

	if len(rows) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no recorded runs for namespace %q\n", opts.Namespace)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSCENARIO\tOUTCOME\tCALLS\tOK\tQUALITY\tCOST\tFAILURES\tWHEN")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.3f\t$%.4f\t%d\t%s\n",
			shortID(r.RunID), r.Scenario, r.Outcome, r.Calls, r.Succeeded,
			r.MeanQuality, r.TotalCostUSD, r.AssertionFailures,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nmean quality over last %d runs: %.3f\n", count, mean)
	return nil
}

func showCalls(opts *HistoryOptions, store *history.Store, cmd *cobra.Command) error {
	calls, err := store.Calls(opts.Run)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to list calls", err)
	}

	rows := make([]callRow, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, callRow{
			Index:    c.Index,
			Task:     c.Task,
			Status:   c.Status,
			Quality:  c.Quality,
			CostUSD:  c.CostUSD,
			Attempts: c.Attempts,
			Error:    c.Error,
		})
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no recorded calls for run %q\n", opts.Run)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CALL\tSTATUS\tQUALITY\tCOST\tATTEMPTS\tTASK")
	for _, c := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t$%.4f\t%d\t%s\n",
			c.Index, c.Status, c.Quality, c.CostUSD, c.Attempts, truncateTask(c.Task, 48))
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateTask(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
