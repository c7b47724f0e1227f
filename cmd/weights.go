package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/matchscore/internal/scorer"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Inspect and repair weight configuration files",
}

var weightsValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check that a weight configuration is consistent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wc, err := scorer.LoadWeights(args[0])
		if err != nil {
			return err
		}
		return printWeightsSummary(cmd.OutOrStdout(), wc)
	},
}

var weightsNormalizeCmd = &cobra.Command{
	Use:   "normalize <path>",
	Short: "Rescale weights so every group sums to 1.0",
	Long: `Rescale category weights and each category's factor weights so they sum
to 1.0, and report every weight that changed. The result is written as YAML
to --output, or to stdout with the report on stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath, _ := cmd.Flags().GetString("output")
		return normalizeWeights(args[0], outputPath, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

var weightsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active weight configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		wc, err := loadWeights()
		if err != nil {
			return err
		}
		data, err := wc.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	weightsNormalizeCmd.Flags().String("output", "", "write the normalized YAML here (default: stdout)")

	weightsCmd.AddCommand(weightsValidateCmd, weightsNormalizeCmd, weightsShowCmd)
	rootCmd.AddCommand(weightsCmd)
}

func normalizeWeights(path, outputPath string, stdout, stderr io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "weights: read %s", path)
	}
	wc, err := scorer.ParseWeights(data)
	if err != nil {
		return err
	}
	normalized, changes, err := wc.Normalize()
	if err != nil {
		return err
	}
	if err := normalized.Validate(); err != nil {
		return eris.Wrap(err, "weights: normalized config still invalid")
	}
	out, err := normalized.YAML()
	if err != nil {
		return err
	}

	report := stderr
	if outputPath != "" {
		if err := os.WriteFile(outputPath, out, 0o644); err != nil {
			return eris.Wrapf(err, "weights: write %s", outputPath)
		}
		report = stdout
	} else if _, err := stdout.Write(out); err != nil {
		return eris.Wrap(err, "weights: write output")
	}

	if len(changes) == 0 {
		fmt.Fprintln(report, "No weights changed.")
		return nil
	}
	fmt.Fprintf(report, "Rescaled %d weights:\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(report, "  %-45s %.6f -> %.6f\n", c.Path, c.From, c.To)
	}
	return nil
}

func printWeightsSummary(w io.Writer, wc scorer.WeightConfig) error {
	fmt.Fprintf(w, "Valid weight configuration %q (version %s)\n", wc.Name, wc.Version)
	fmt.Fprintf(w, "Hash: %s\n", wc.Hash())
	fmt.Fprintf(w, "Thresholds: excellent %d, good %d, needs improvement %d\n",
		wc.Thresholds.Excellent, wc.Thresholds.Good, wc.Thresholds.NeedsImprovement)
	for _, cat := range wc.Categories() {
		fmt.Fprintf(w, "  %-22s %.2f\n", cat, wc.CategoryWeights[cat])
		for _, f := range wc.Factors(cat) {
			fmt.Fprintf(w, "    %-26s %.2f\n", f, wc.FactorWeights[cat][f])
		}
	}
	return nil
}
