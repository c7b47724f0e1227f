package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <opportunity-id>",
	Short: "Request analysis artifacts for an opportunity and wait for them",
	Long: `Trigger the AI insights, competitor, and similar-contract artifacts for an
opportunity and poll until each one completes or fails. Artifacts complete
independently; the command returns once none is still processing.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringSlice("types", nil, "artifact types (aiInsights, competitors, similarContracts); default all")
	f.Duration("timeout", 0, "give up waiting after this long (default analysis.poll_timeout_secs)")
	f.String("format", "table", "output format: table or json")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	types, _ := cmd.Flags().GetStringSlice("types")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format, "table", "json"); err != nil {
		return eris.Wrap(err, "analyze")
	}
	if err := cfg.Validate("analysis"); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = cfg.Analysis.PollTimeout() + 5*time.Second
	}

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	id := args[0]
	if _, err := env.Service.RequestAnalysis(ctx, id, types...); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	snap, err := env.Service.WaitAnalysis(waitCtx, id)
	if err != nil {
		return err
	}

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), snap)
	}
	return writeSnapshot(cmd.OutOrStdout(), snap)
}
