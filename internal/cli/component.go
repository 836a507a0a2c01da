package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopcheck-ai/loopcheck/internal/learner"
	"github.com/loopcheck-ai/loopcheck/internal/server"
)

// ComponentOptions holds flags for the component command.
type ComponentOptions struct {
	*RootOptions
	Qualities   []float64
	EvolveEvery int
	LatencyMS   int
}

// NewComponentCommand creates the component command.
func NewComponentCommand(rootOpts *RootOptions, version string) *cobra.Command {
	opts := &ComponentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "component",
		Short: "Host the built-in mock component over stdio",
		Long: `Speak the NDJSON JSON-RPC wire protocol on stdin/stdout, backed by the
built-in mock learner. Point a scenario's rpc transport at this command to
exercise the subprocess path end to end:

  transport:
    kind: rpc
    command: ["loopcheck", "component", "--evolve-every", "5"]

Logs go to stderr; stdout carries only protocol frames.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveComponent(opts, version, cmd)
		},
	}

	cmd.Flags().Float64SliceVar(&opts.Qualities, "quality", nil, "quality scores to cycle through")
	cmd.Flags().IntVar(&opts.EvolveEvery, "evolve-every", 0, "evolve the prompt every N successful calls")
	cmd.Flags().IntVar(&opts.LatencyMS, "latency-ms", 0, "simulated latency per call in milliseconds")

	return cmd
}

func serveComponent(opts *ComponentOptions, version string, cmd *cobra.Command) error {
	logger := setupLogging(opts.Verbose)

	cfg := learner.MockConfig{
		Qualities:   opts.Qualities,
		EvolveEvery: opts.EvolveEvery,
		Latency:     time.Duration(opts.LatencyMS) * time.Millisecond,
	}
	comp := server.NewComponent("loopcheck-mock", version, func(namespace, root string) (learner.Learner, error) {
		return learner.NewMockLearner(root, namespace, cfg)
	})

	srv := server.New(cmd.InOrStdin(), cmd.OutOrStdout(), logger)
	comp.Attach(srv)
	defer func() {
		if err := comp.Close(); err != nil {
			logger.Error("closing component", "error", err)
		}
	}()

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
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("component serving", "version", version)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitHarnessError, "component server error", err)
	}
	logger.Info("component stopped")
	return nil
}
