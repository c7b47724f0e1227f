package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/matchscore/internal/store"
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record bid outcomes and report prediction accuracy",
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record <score-id> <won|lost|no_bid|withdrawn>",
	Short: "Attach the actual outcome to a persisted score",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Service.RecordOutcome(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		zap.L().Info("outcome recorded",
			zap.String("score_id", s.ID),
			zap.String("outcome", string(s.ActualOutcome)),
		)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Score %s (%d, %s): %s\n", s.ID, s.OverallScore, s.Rating, s.ActualOutcome)
		return err
	},
}

var outcomeReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Compare predicted ratings with recorded outcomes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		profileID, _ := cmd.Flags().GetString("profile-id")
		configVersion, _ := cmd.Flags().GetString("config-version")
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format, "table", "json"); err != nil {
			return eris.Wrap(err, "outcome report")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Service.Accuracy(ctx, store.ScoreFilter{
			ProfileID:     profileID,
			ConfigVersion: configVersion,
		})
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		return writeReport(cmd.OutOrStdout(), report)
	},
}

func init() {
	f := outcomeReportCmd.Flags()
	f.String("profile-id", "", "limit the report to one profile")
	f.String("config-version", "", "limit the report to one weight configuration version")
	f.String("format", "table", "output format: table or json")

	outcomeCmd.AddCommand(outcomeRecordCmd, outcomeReportCmd)
	rootCmd.AddCommand(outcomeCmd)
}
