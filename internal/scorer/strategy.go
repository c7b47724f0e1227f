package scorer

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Strategy scores a qualitative factor. Implementations may be heuristic or
// backed by generated insights but must honor the Rule contract.
type Strategy interface {
	Evaluate(in Input) FactorResult
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(in Input) FactorResult

// Evaluate calls f.
func (f StrategyFunc) Evaluate(in Input) FactorResult { return f(in) }

// KeywordStrategy scores alignment as the overlap between the profile's brand
// keywords and the opportunity text. Core competencies are scored by their own
// factor and are not counted here.
type KeywordStrategy struct {
	// Saturation is the number of shared keywords that earns a full score.
	// Zero means 8.
	Saturation int
}

// Evaluate implements Strategy.
func (s KeywordStrategy) Evaluate(in Input) FactorResult {
	p, o := in.Profile, in.Opportunity
	mine := tokenSet(strings.Join(p.BrandKeywords, " "))
	if len(mine) == 0 {
		return degraded("profile has no brand keywords")
	}
	theirs := tokenSet(o.Title + " " + o.Description + " " + o.Agency)
	if len(theirs) == 0 {
		return degraded("opportunity has no descriptive text")
	}

	var shared []string
	for tok := range mine {
		if theirs[tok] {
			shared = append(shared, tok)
		}
	}
	sort.Strings(shared)

	saturation := s.Saturation
	if saturation <= 0 {
		saturation = 8
	}
	denom := math.Min(float64(len(mine)), float64(saturation))
	res := FactorResult{
		RawScore:    math.Min(100, 100*float64(len(shared))/denom),
		Explanation: fmt.Sprintf("%d shared keywords", len(shared)),
	}
	if len(shared) > 0 {
		top := shared
		if len(top) > 5 {
			top = top[:5]
		}
		res.Insights = &Insights{Strengths: top}
	} else {
		res.Insights = &Insights{Opportunities: []string{"tailor capability statement to the opportunity language"}}
	}
	return res
}
