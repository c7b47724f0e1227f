package scorer

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/matchscore/internal/model"
)

// Compute scores a profile against an opportunity. It is pure: the same
// inputs always yield the same result, with ID and CreatedAt left empty.
// Missing inputs degrade individual factors and lower confidence; Compute
// never fails.
func Compute(p model.Profile, o model.Opportunity, cfg WeightConfig, rules Rules, asOf time.Time) MatchScore {
	in := Input{Profile: &p, Opportunity: &o, AsOf: asOf}

	ms := MatchScore{
		ProfileID:     p.ID,
		OpportunityID: o.ID,
		ConfigVersion: cfg.Version,
		ConfigHash:    cfg.Hash(),
		Categories:    make(map[string]CategoryResult, len(cfg.CategoryWeights)),
	}

	var total float64
	var usable, factors int
	for _, cat := range cfg.Categories() {
		cr := CategoryResult{Weight: cfg.CategoryWeights[cat]}
		for _, name := range cfg.Factors(cat) {
			fr := evaluate(rules[name], in, name)
			fr.Factor = name
			fr.Weight = cfg.FactorWeights[cat][name]
			cr.Score += fr.Contribution()
			cr.Factors = append(cr.Factors, fr)

			factors++
			if !fr.Degraded {
				usable++
			}
		}
		total += cr.Contribution()
		ms.Categories[cat] = cr
	}

	ms.OverallScore = clampScore(total)
	if factors > 0 {
		ms.Confidence = clampScore(100 * float64(usable) / float64(factors))
	}
	if usable == 0 {
		ms.OverallScore = 0
	}
	ms.Rating = cfg.Rating(ms.OverallScore)
	return ms
}

// evaluate runs a rule, treating a missing rule as a degraded factor and
// clamping the raw score to 0-100.
func evaluate(rule Rule, in Input, name string) FactorResult {
	if rule == nil {
		return degraded("no rule registered for %s", name)
	}
	fr := rule(in)
	if fr.Degraded {
		fr.RawScore = 0
	}
	if math.IsNaN(fr.RawScore) {
		fr = degraded("rule %s produced no score", name)
	}
	fr.RawScore = math.Max(0, math.Min(100, fr.RawScore))
	if fr.Explanation == "" {
		fr.Explanation = fmt.Sprintf("%s scored %.0f", name, fr.RawScore)
	}
	return fr
}

func clampScore(v float64) int {
	r := int(math.Round(v))
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
