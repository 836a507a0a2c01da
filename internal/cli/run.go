package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loopcheck-ai/loopcheck/internal/artifact"
	"github.com/loopcheck-ai/loopcheck/internal/assertion"
	"github.com/loopcheck-ai/loopcheck/internal/history"
	"github.com/loopcheck-ai/loopcheck/internal/scenario"
	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Artifacts string
	Memories  string
	History   string
	EnvFile   string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions, version string) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a validation scenario",
		Long: `Execute a validation scenario against a learning component.

The scenario file names the tasks, the budget and the transport (the
built-in mock or an external rpc command). Environment variables with the
LOOPCHECK_ prefix override scenario fields. The run produces a verdict
line, an artifact directory with the full evidence, and exit code 0 when
every assertion holds, 1 on assertion failures, 2 on harness errors.

Example:
  loopcheck run scenarios/basic.yaml
  loopcheck run scenarios/basic.yaml --artifacts /tmp/artifacts --history runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], version, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "", "artifact directory (overrides the scenario)")
	cmd.Flags().StringVar(&opts.Memories, "memories", "", "memories directory (overrides the scenario)")
	cmd.Flags().StringVar(&opts.History, "history", "", "SQLite database to record this run into")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "load LOOPCHECK_* overrides from a .env file")

	return cmd
}

func runScenario(opts *RunOptions, path, version string, cmd *cobra.Command) error {
	logger := setupLogging(opts.Verbose)

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return WrapExitError(ExitHarnessError, "failed to load env file", err)
		}
	}

	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to load scenario", err)
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return WrapExitError(ExitHarnessError, "invalid environment override", err)
	}
	if opts.Artifacts != "" {
		s.ArtifactsDir = opts.Artifacts
	}
	if opts.Memories != "" {
		s.MemoriesDir = opts.Memories
	}

	factory, err := s.Factory(logger, version)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to configure transport", err)
	}

	runID := uuid.NewString()
	var artifactDir string
	if s.SaveArtifacts != nil && *s.SaveArtifacts {
		artifactDir = filepath.Join(s.ArtifactsDir, fmt.Sprintf("%s-%s", s.Name, runID[:8]))
	}
	writer, err := artifact.NewWriter(artifactDir, logger)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to prepare artifact directory", err)
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil {
			logger.Error("closing artifact writer", "error", closeErr)
		}
	}()

	// Use the command's context if set (tests), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	orch := scenario.New(factory,
		scenario.WithLogger(logger),
		scenario.WithRunID(runID),
		scenario.WithArtifacts(writer),
	)

	res, err := orch.Run(ctx, s)
	if err != nil {
		return WrapExitError(ExitHarnessError, "run failed", err)
	}

	engine := assertion.NewEngine(s.EngineOptions()...)
	failures := engine.Evaluate(res)
	summary := stats.FromResult(res, s.PricePerMillionUSD)

	if err := writer.WriteReport(&artifact.Report{
		Title:   s.Name,
		Result:  res,
		Summary: summary,
		Checks:  artifact.AssertionRows(engine.Names(), failures),
	}); err != nil {
		logger.Warn("writing report", "error", err)
	}

	if opts.History != "" {
		recordHistory(opts.History, res, len(failures), logger)
	}

	if s.CleanupMemories != nil && *s.CleanupMemories {
		if err := os.RemoveAll(s.SnapshotRoot()); err != nil {
			logger.Warn("cleaning up memories", "root", s.SnapshotRoot(), "error", err)
		}
	}

	if err := printVerdict(cmd.OutOrStdout(), opts.Format, res, summary, failures, writer.Dir()); err != nil {
		return WrapExitError(ExitHarnessError, "failed to render verdict", err)
	}

	if len(failures) > 0 {
		return NewExitError(ExitAssertionFailures,
			fmt.Sprintf("%d of %d assertions failed", len(failures), len(engine.Names())))
	}
	return nil
}

func recordHistory(path string, res *types.ValidationResult, failures int, logger *slog.Logger) {
	store, err := history.Open(path)
	if err != nil {
		logger.Warn("opening history store", "path", path, "error", err)
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing history store", "error", err)
		}
	}()

	if err := store.RecordResult(res, failures); err != nil {
		logger.Warn("recording run history", "error", err)
	}
}

// verdict is the JSON shape of the run command's output.
type verdict struct {
	RunID        string                   `json:"run_id"`
	Scenario     string                   `json:"scenario"`
	Namespace    string                   `json:"namespace"`
	Outcome      string                   `json:"outcome"`
	Pass         bool                     `json:"pass"`
	Calls        int                      `json:"calls"`
	Succeeded    int                      `json:"succeeded"`
	MeanQuality  float64                  `json:"mean_quality"`
	TotalCostUSD float64                  `json:"total_cost_usd"`
	ElapsedS     float64                  `json:"elapsed_s"`
	Failures     []types.AssertionFailure `json:"assertion_failures"`
	Artifacts    string                   `json:"artifacts,omitempty"`
}

func printVerdict(w io.Writer, format string, res *types.ValidationResult, summary *stats.Summary, failures []types.AssertionFailure, artifactDir string) error {
	meanQuality := 0.0
	if summary.Quality != nil {
		meanQuality = summary.Quality.Mean
	}

	if format == "json" {
		return json.NewEncoder(w).Encode(verdict{
			RunID:        res.RunID,
			Scenario:     res.Scenario,
			Namespace:    res.Namespace,
			Outcome:      res.Outcome,
			Pass:         len(failures) == 0,
			Calls:        summary.TotalCalls,
			Succeeded:    summary.Succeeded,
			MeanQuality:  meanQuality,
			TotalCostUSD: res.TotalCostUSD,
			ElapsedS:     res.ElapsedS,
			Failures:     failures,
			Artifacts:    artifactDir,
		})
	}

	status := color.New(color.FgGreen, color.Bold).Sprint("PASS")
	if len(failures) > 0 {
		status = color.New(color.FgRed, color.Bold).Sprint("FAIL")
	}
	if _, err := fmt.Fprintf(w, "%s %s: %d/%d calls succeeded, mean quality %.2f, cost $%.4f, outcome %s\n",
		status, res.Scenario, summary.Succeeded, summary.TotalCalls,
		meanQuality, res.TotalCostUSD, res.Outcome); err != nil {
		return err
	}
	for _, f := range failures {
		if _, err := fmt.Fprintf(w, "  %s %s\n", color.RedString("x"), f.String()); err != nil {
			return err
		}
	}
	if artifactDir != "" {
		if _, err := fmt.Fprintf(w, "  artifacts: %s\n", artifactDir); err != nil {
			return err
		}
	}
	return nil
}
