package scorer

import "math"

// AccuracyReport compares predictions with recorded outcomes. A score
// predicts a win when it reaches the Good threshold. Only won and lost
// outcomes count toward the prediction metrics.
type AccuracyReport struct {
	Scored         int      `json:"scored"`
	WithOutcome    int      `json:"with_outcome"`
	Won            int      `json:"won"`
	Lost           int      `json:"lost"`
	NoBid          int      `json:"no_bid"`
	Withdrawn      int      `json:"withdrawn"`
	PredictedWins  int      `json:"predicted_wins"`
	TruePositives  int      `json:"true_positives"`
	HitRate        float64  `json:"hit_rate"`
	Precision      float64  `json:"precision"`
	Recall         float64  `json:"recall"`
	MeanScoreWon   float64  `json:"mean_score_won"`
	MeanScoreLost  float64  `json:"mean_score_lost"`
	WinThreshold   int      `json:"win_threshold"`
	ConfigVersions []string `json:"config_versions,omitempty"`
}

// Accuracy builds an AccuracyReport using the config's Good threshold.
func Accuracy(scores []MatchScore, cfg WeightConfig) AccuracyReport {
	r := AccuracyReport{Scored: len(scores), WinThreshold: cfg.Thresholds.Good}

	seen := make(map[string]bool)
	var correct int
	var sumWon, sumLost float64
	for _, s := range scores {
		if s.ActualOutcome == "" {
			continue
		}
		r.WithOutcome++
		if !seen[s.ConfigVersion] {
			seen[s.ConfigVersion] = true
			r.ConfigVersions = append(r.ConfigVersions, s.ConfigVersion)
		}

		predicted := s.OverallScore >= r.WinThreshold
		switch s.ActualOutcome {
		case OutcomeWon:
			r.Won++
			sumWon += float64(s.OverallScore)
			if predicted {
				r.TruePositives++
				correct++
			}
		case OutcomeLost:
			r.Lost++
			sumLost += float64(s.OverallScore)
			if !predicted {
				correct++
			}
		case OutcomeNoBid:
			r.NoBid++
			continue
		case OutcomeWithdrawn:
			r.Withdrawn++
			continue
		}
		if predicted {
			r.PredictedWins++
		}
	}

	decided := r.Won + r.Lost
	r.HitRate = ratio(correct, decided)
	r.Precision = ratio(r.TruePositives, r.PredictedWins)
	r.Recall = ratio(r.TruePositives, r.Won)
	if r.Won > 0 {
		r.MeanScoreWon = round2(sumWon / float64(r.Won))
	}
	if r.Lost > 0 {
		r.MeanScoreLost = round2(sumLost / float64(r.Lost))
	}
	return r
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round2(float64(n) / float64(d))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
