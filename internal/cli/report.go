package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loopcheck-ai/loopcheck/internal/artifact"
	"github.com/loopcheck-ai/loopcheck/internal/stats"
	"github.com/loopcheck-ai/loopcheck/pkg/types"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Price float64
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report <artifact-dir|result.json>",
		Short: "Re-render the report from a stored result",
		Long: `Re-render the markdown report from a previously written result.json
without rerunning the scenario. Accepts either the artifact directory or
the result.json path inside it.

Example:
  loopcheck report artifacts/validation-basic-a1b2c3d4
  loopcheck report artifacts/validation-basic-a1b2c3d4/result.json > report.md`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderReport(opts, args[0], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Price, "price", stats.DefaultPricePerMillionUSD,
		"blended price per million tokens for cost estimates")

	return cmd
}

// reportPayload is the JSON shape of the report command's output.
type reportPayload struct {
	Result  *types.ValidationResult `json:"result"`
	Summary *stats.Summary          `json:"summary"`
}

func renderReport(opts *ReportOptions, path string, cmd *cobra.Command) error {
	dir := path
	if strings.HasSuffix(path, ".json") {
		dir = filepath.Dir(path)
	}

	res, err := artifact.ReadResult(dir)
	if err != nil {
		return WrapExitError(ExitHarnessError, "failed to read stored result", err)
	}
	summary := stats.FromResult(res, opts.Price)

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(reportPayload{Result: res, Summary: summary})
	}

	// Assertion outcomes live with the run that evaluated them, not in
	// result.json, so the regenerated report carries none.
	return artifact.GenerateMarkdown(cmd.OutOrStdout(), &artifact.Report{
		Title:   res.Scenario,
		Result:  res,
		Summary: summary,
	})
}
