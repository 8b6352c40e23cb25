package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var (
	generateList   string
	generatePrompt string
	generateModel  string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Research and write icebreakers for the pending leads of a list",
	Long: "Processes pending leads in batches until none are left. Ctrl-C stops " +
		"at the next batch boundary; the current batch always finishes and the " +
		"remaining leads stay pending for the next run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		rc, err := resolveRunConfig(ctx, env.Store, generateList, generatePrompt, generateModel)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		summary, err := env.Orchestrator.Run(ctx, rc, func(p pipeline.Progress) {
			_, _ = fmt.Fprintln(out, p.String())
		})
		if summary != nil {
			formatRunSummary(out, summary)
		}
		if err != nil {
			return eris.Wrap(err, "generate")
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateList, "list", "", "list to process (required)")
	generateCmd.Flags().StringVar(&generatePrompt, "prompt", "", "prompt template (default: saved settings)")
	generateCmd.Flags().StringVar(&generateModel, "model", "", "generation model id (default: saved settings)")
	_ = generateCmd.MarkFlagRequired("list")
	rootCmd.AddCommand(generateCmd)
}

func formatRunSummary(out io.Writer, s *pipeline.RunSummary) {
	state := "completed"
	switch {
	case s.Cancelled:
		state = "cancelled"
	case !s.Completed:
		state = "stopped"
	}
	_, _ = fmt.Fprintf(out, "%s: %s after %s\n", s.List, state, s.Duration.Round(time.Second))
	_, _ = fmt.Fprintf(out, "  processed %d of %d in %d batches: %d generated, %d failed\n",
		s.Processed, s.TotalAtStart, s.Batches, s.Generated, s.Failed)
	if s.PersistFailures > 0 {
		_, _ = fmt.Fprintf(out, "  %d results could not be saved\n", s.PersistFailures)
	}
	if s.StaleReleased > 0 || s.Released > 0 {
		_, _ = fmt.Fprintf(out, "  returned to pending: %d stale, %d unprocessed\n", s.StaleReleased, s.Released)
	}
}
