package scorer

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Insights are qualitative notes attached to a factor.
type Insights struct {
	Strengths     []string `json:"strengths,omitempty"`
	Weaknesses    []string `json:"weaknesses,omitempty"`
	Opportunities []string `json:"opportunities,omitempty"`
}

// FactorResult is the score of one factor. Its contribution is always derived
// from RawScore and Weight and is never stored on its own.
type FactorResult struct {
	Factor      string    `json:"factor"`
	RawScore    float64   `json:"raw_score"`
	Weight      float64   `json:"weight"`
	Explanation string    `json:"explanation"`
	Insights    *Insights `json:"insights,omitempty"`
	// Degraded marks a factor scored 0 because an input was absent.
	Degraded bool `json:"degraded,omitempty"`
}

// Contribution returns RawScore × Weight.
func (f FactorResult) Contribution() float64 {
	return f.RawScore * f.Weight
}

type factorJSON FactorResult

// MarshalJSON adds the derived contribution to the encoded factor.
func (f FactorResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		factorJSON
		Contribution float64 `json:"contribution"`
	}{factorJSON(f), f.Contribution()})
}

// CategoryResult aggregates the factors of one category.
type CategoryResult struct {
	Score   float64        `json:"score"`
	Weight  float64        `json:"weight"`
	Factors []FactorResult `json:"factors"`
}

// Contribution returns Score × Weight.
func (c CategoryResult) Contribution() float64 {
	return c.Score * c.Weight
}

type categoryJSON CategoryResult

// MarshalJSON adds the derived contribution to the encoded category.
func (c CategoryResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		categoryJSON
		Contribution float64 `json:"contribution"`
	}{categoryJSON(c), c.Contribution()})
}

// Outcome is the actual result of a bid, recorded after the fact.
type Outcome string

// Recognized outcomes.
const (
	OutcomeWon       Outcome = "won"
	OutcomeLost      Outcome = "lost"
	OutcomeNoBid     Outcome = "no_bid"
	OutcomeWithdrawn Outcome = "withdrawn"
)

// ParseOutcome validates an outcome label.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeWon, OutcomeLost, OutcomeNoBid, OutcomeWithdrawn:
		return o, nil
	default:
		return "", eris.Errorf("scorer: unknown outcome %q", s)
	}
}

// MatchScore is an immutable scoring record. Recalculation produces a new
// record; the only later change is the outcome, applied with WithOutcome.
type MatchScore struct {
	ID               string                    `json:"id"`
	ProfileID        string                    `json:"profile_id"`
	OpportunityID    string                    `json:"opportunity_id"`
	AlgorithmVersion string                    `json:"algorithm_version"`
	ConfigVersion    string                    `json:"config_version"`
	ConfigHash       string                    `json:"config_hash"`
	OverallScore     int                       `json:"overall_score"`
	Confidence       int                       `json:"confidence"`
	Rating           string                    `json:"rating"`
	Categories       map[string]CategoryResult `json:"categories"`
	CreatedAt        time.Time                 `json:"created_at"`
	ActualOutcome    Outcome                   `json:"actual_outcome,omitempty"`
}

// WithOutcome returns a copy of the score with the outcome recorded.
func (m MatchScore) WithOutcome(o Outcome) MatchScore {
	out := m
	out.Categories = make(map[string]CategoryResult, len(m.Categories))
	for name, cat := range m.Categories {
		factors := make([]FactorResult, len(cat.Factors))
		copy(factors, cat.Factors)
		cat.Factors = factors
		out.Categories[name] = cat
	}
	out.ActualOutcome = o
	return out
}

// Factor looks up a factor result by name across all categories.
func (m MatchScore) Factor(name string) (FactorResult, bool) {
	for _, cat := range m.Categories {
		for _, f := range cat.Factors {
			if f.Factor == name {
				return f, true
			}
		}
	}
	return FactorResult{}, false
}
