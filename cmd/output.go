package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/matching"
	"github.com/sells-group/matchscore/internal/scorer"
)

// openOutput returns the output file, or stdout when path is empty.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create output file %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func checkFormat(format string, allowed ...string) error {
	for _, a := range allowed {
		if format == a {
			return nil
		}
	}
	return eris.Errorf("--format must be one of %s (got %q)", strings.Join(allowed, ", "), format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "write json")
	}
	return nil
}

// writeScoreTable prints one score with its category and factor breakdown.
// order lists categories in display order; unknown categories follow sorted.
func writeScoreTable(w io.Writer, s scorer.MatchScore, order []string) error {
	fmt.Fprintf(w, "Score:       %d / 100 (%s)\n", s.OverallScore, s.Rating)
	fmt.Fprintf(w, "Confidence:  %d\n", s.Confidence)
	fmt.Fprintf(w, "Profile:     %s\n", s.ProfileID)
	fmt.Fprintf(w, "Opportunity: %s\n", s.OpportunityID)
	fmt.Fprintf(w, "Config:      %s (%s)\n", s.ConfigVersion, s.ConfigHash)
	if s.ID != "" {
		fmt.Fprintf(w, "Score ID:    %s\n", s.ID)
	}

	for _, name := range categoryOrder(s, order) {
		cat := s.Categories[name]
		fmt.Fprintf(w, "\n%-26s %6.1f x %.2f = %6.2f\n", name, cat.Score, cat.Weight, cat.Contribution())
		for _, f := range cat.Factors {
			mark := ""
			if f.Degraded {
				mark = " (no data)"
			}
			fmt.Fprintf(w, "  %-24s %6.1f x %.2f   %s%s\n", f.Factor, f.RawScore, f.Weight, f.Explanation, mark)
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return eris.Wrap(err, "write score table")
	}
	return nil
}

func categoryOrder(s scorer.MatchScore, order []string) []string {
	seen := make(map[string]bool, len(order))
	var names []string
	for _, name := range order {
		if _, ok := s.Categories[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range s.Categories {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

func writeSearchTable(w io.Writer, page matching.ScoredPage) error {
	header := fmt.Sprintf("%-20s %-50s %-8s %-8s %12s %6s %-17s\n",
		"Notice", "Title", "NAICS", "SetAside", "Value", "Score", "Rating")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 128)); err != nil {
		return eris.Wrap(err, "write table separator")
	}

	for _, it := range page.Items {
		title := it.Opportunity.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		value := "-"
		if it.Opportunity.EstimatedValue != nil {
			value = formatMoney(*it.Opportunity.EstimatedValue)
		}
		line := fmt.Sprintf("%-20s %-50s %-8s %-8s %12s %6d %-17s\n",
			it.Opportunity.ID, title, strings.Join(it.Opportunity.NAICSCodes, ","),
			it.Opportunity.SetAside, value, it.Score.OverallScore, it.Score.Rating)
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "write table row")
		}
	}

	source := "provider"
	if page.FromCache {
		source = "cache"
		if page.Stale {
			source = "cache (stale)"
		}
	}
	_, err := fmt.Fprintf(w, "\nPage %d (%d per page), %d total, more: %v, source: %s\n",
		page.Page, page.PageSize, page.Total, page.HasMore, source)
	return err
}

func writeSearchCSV(w io.Writer, page matching.ScoredPage) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"id", "title", "agency", "naics", "set_aside", "estimated_value", "score", "confidence", "rating"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "write CSV header")
	}
	for _, it := range page.Items {
		value := ""
		if it.Opportunity.EstimatedValue != nil {
			value = strconv.FormatFloat(*it.Opportunity.EstimatedValue, 'f', -1, 64)
		}
		row := []string{
			it.Opportunity.ID,
			it.Opportunity.Title,
			it.Opportunity.Agency,
			strings.Join(it.Opportunity.NAICSCodes, ";"),
			it.Opportunity.SetAside,
			value,
			strconv.Itoa(it.Score.OverallScore),
			strconv.Itoa(it.Score.Confidence),
			it.Score.Rating,
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "write CSV row")
		}
	}
	return nil
}

func writeSnapshot(w io.Writer, snap analysis.Snapshot) error {
	fmt.Fprintf(w, "Opportunity: %s (cycle %d)\n", snap.OpportunityID, snap.Cycle)
	for _, a := range snap.Artifacts {
		detail := ""
		switch {
		case a.Reason != "":
			detail = fmt.Sprintf("%s: %s", a.FailureKind, a.Reason)
		case a.State == analysis.StateCompleted && a.Stale:
			detail = "stale"
		}
		fmt.Fprintf(w, "  %-18s %-11s %s\n", a.Type, a.State, detail)
	}
	_, err := fmt.Fprintf(w, "Complete: %v, polling: %v\n", snap.Complete, snap.Polling)
	return err
}

func writeReport(w io.Writer, r scorer.AccuracyReport) error {
	fmt.Fprintf(w, "Scores:          %d\n", r.Scored)
	fmt.Fprintf(w, "With outcome:    %d (won %d, lost %d, no bid %d, withdrawn %d)\n",
		r.WithOutcome, r.Won, r.Lost, r.NoBid, r.Withdrawn)
	fmt.Fprintf(w, "Win threshold:   %d\n", r.WinThreshold)
	fmt.Fprintf(w, "Predicted wins:  %d (true positives %d)\n", r.PredictedWins, r.TruePositives)
	fmt.Fprintf(w, "Hit rate:        %.1f%%\n", r.HitRate*100)
	fmt.Fprintf(w, "Precision:       %.1f%%\n", r.Precision*100)
	fmt.Fprintf(w, "Recall:          %.1f%%\n", r.Recall*100)
	fmt.Fprintf(w, "Mean score won:  %.1f\n", r.MeanScoreWon)
	fmt.Fprintf(w, "Mean score lost: %.1f\n", r.MeanScoreLost)
	if len(r.ConfigVersions) > 0 {
		fmt.Fprintf(w, "Config versions: %s\n", strings.Join(r.ConfigVersions, ", "))
	}
	return nil
}
