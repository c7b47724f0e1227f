package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/matchscore/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a business profile against one opportunity",
	Long: `Compute the match score between a business profile and a contract
opportunity and print the category and factor breakdown.

The profile is read from a JSON file (--profile) or loaded from the store
(--profile-id). The opportunity is read from a JSON file; legacy field
variants are normalized on ingestion.

Examples:
  # Score a stored profile against an opportunity file
  score --profile-id p-123 --opportunity opp.json

  # Score and persist the result for later outcome tracking
  score --profile profile.json --opportunity opp.json --persist

  # Read the opportunity from stdin and print JSON
  cat opp.json | score --profile-id p-123 --opportunity - --format json`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("profile", "", "profile JSON file (- for stdin)")
	f.String("profile-id", "", "stored profile id")
	f.String("opportunity", "", "opportunity JSON file (- for stdin)")
	f.Bool("persist", false, "save the score to the store")
	f.String("format", "table", "output format: table or json")
	f.String("output", "", "output file path (default: stdout)")
	_ = scoreCmd.MarkFlagRequired("opportunity")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profilePath, _ := cmd.Flags().GetString("profile")
	profileID, _ := cmd.Flags().GetString("profile-id")
	oppPath, _ := cmd.Flags().GetString("opportunity")
	persist, _ := cmd.Flags().GetBool("persist")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	if err := checkFormat(format, "table", "json"); err != nil {
		return eris.Wrap(err, "score")
	}
	if profilePath == "-" && oppPath == "-" {
		return eris.New("score: only one of --profile and --opportunity can read stdin")
	}

	raw, err := readRaw(oppPath, cmd.InOrStdin())
	if err != nil {
		return eris.Wrap(err, "score: opportunity")
	}
	opp := model.NormalizeOpportunity(raw)

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	profile, err := resolveProfile(ctx, env.Service, profilePath, profileID, cmd.InOrStdin())
	if err != nil {
		return eris.Wrap(err, "score: profile")
	}

	result, err := env.Service.Score(ctx, profile, opp, persist)
	if err != nil {
		return err
	}
	zap.L().Info("opportunity scored",
		zap.String("profile_id", result.ProfileID),
		zap.String("opportunity_id", result.OpportunityID),
		zap.Int("score", result.OverallScore),
		zap.Bool("persisted", persist),
	)

	w, closeFn, err := openOutput(outputPath, cmd.OutOrStdout())
	if err != nil {
		return eris.Wrap(err, "score")
	}
	defer closeFn()

	if format == "json" {
		return writeJSON(w, result)
	}
	return writeScoreTable(w, result, env.Service.Weights().Categories())
}
