package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/matchscore/internal/cache"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search opportunities and score each result for a profile",
	Long: `Fetch one page of contract opportunities from SAM.gov and score every
result against the profile. Sorting by matchScore orders the page locally.

Examples:
  # Search IT services opportunities for a stored profile
  search --profile-id p-123 --filter naics=541512,541519 --filter state=VA

  # Second page, best matches first, as CSV
  search --profile profile.json --page 2 --sort matchScore:desc --format csv`,
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.String("profile", "", "profile JSON file (- for stdin)")
	f.String("profile-id", "", "stored profile id")
	f.StringArray("filter", nil, "search filter key=value; comma-separated values form a set (repeatable)")
	f.Int("page", 1, "page number")
	f.Int("page-size", 0, "results per page (default from config)")
	f.String("sort", "", "sort field[:asc|desc], e.g. matchScore:desc or postedDate")
	f.String("format", "table", "output format: table, csv, or json")
	f.String("output", "", "output file path (default: stdout)")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profilePath, _ := cmd.Flags().GetString("profile")
	profileID, _ := cmd.Flags().GetString("profile-id")
	filterFlags, _ := cmd.Flags().GetStringArray("filter")
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	sortFlag, _ := cmd.Flags().GetString("sort")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	if err := checkFormat(format, "table", "csv", "json"); err != nil {
		return eris.Wrap(err, "search")
	}
	filters, err := parseFilters(filterFlags)
	if err != nil {
		return eris.Wrap(err, "search")
	}
	sortBy, err := parseSort(sortFlag)
	if err != nil {
		return eris.Wrap(err, "search")
	}
	if pageSize <= 0 {
		pageSize = cfg.SAM.PageSize
	}

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	profile, err := resolveProfile(ctx, env.Service, profilePath, profileID, cmd.InOrStdin())
	if err != nil {
		return eris.Wrap(err, "search: profile")
	}

	result, err := env.Service.Search(ctx, profile, cache.Query{
		Filters:  filters,
		Page:     page,
		PageSize: pageSize,
		Sort:     sortBy,
	})
	if err != nil {
		return err
	}

	w, closeFn, err := openOutput(outputPath, cmd.OutOrStdout())
	if err != nil {
		return eris.Wrap(err, "search")
	}
	defer closeFn()

	switch format {
	case "json":
		return writeJSON(w, result)
	case "csv":
		return writeSearchCSV(w, result)
	default:
		return writeSearchTable(w, result)
	}
}
