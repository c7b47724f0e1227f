// Package scorer computes weighted compatibility scores between a business
// profile and a contract opportunity.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Category names.
const (
	CategoryPastPerformance     = "pastPerformance"
	CategoryTechnicalCapability = "technicalCapability"
	CategoryStrategicFit        = "strategicFit"
	CategoryCredibility         = "credibility"
)

// Factor names.
const (
	FactorAgencyExperience         = "agencyExperience"
	FactorNAICSHistory             = "naicsHistory"
	FactorContractValueFit         = "contractValueFit"
	FactorNAICSAlignment           = "naicsAlignment"
	FactorCoreCompetencies         = "coreCompetencies"
	FactorCertifications           = "certifications"
	FactorSetAsideEligibility      = "setAsideEligibility"
	FactorGeographicProximity      = "geographicProximity"
	FactorBrandAlignment           = "brandAlignment"
	FactorDeadlineFeasibility      = "deadlineFeasibility"
	FactorRegistrationCompleteness = "registrationCompleteness"
	FactorContactCompleteness      = "contactCompleteness"
)

// DefaultWeightsVersion is the version of DefaultWeights.
const DefaultWeightsVersion = "2024.1"

// weightEpsilon is the tolerance applied to weight sums.
const weightEpsilon = 0.001

// Ratings derived from thresholds.
const (
	RatingExcellent        = "excellent"
	RatingGood             = "good"
	RatingNeedsImprovement = "needs_improvement"
	RatingPoor             = "poor"
)

// Thresholds are descending score cut points.
type Thresholds struct {
	Excellent        int `json:"excellent" yaml:"excellent"`
	Good             int `json:"good" yaml:"good"`
	NeedsImprovement int `json:"needs_improvement" yaml:"needs_improvement"`
}

// WeightConfig is a named, versioned set of category and factor weights.
// A config referenced by a persisted score must not be edited; publish a new
// version instead.
type WeightConfig struct {
	ID              string                        `json:"id" yaml:"id"`
	Name            string                        `json:"name" yaml:"name"`
	Version         string                        `json:"version" yaml:"version"`
	CategoryWeights map[string]float64            `json:"category_weights" yaml:"category_weights"`
	FactorWeights   map[string]map[string]float64 `json:"factor_weights" yaml:"factor_weights"`
	Thresholds      Thresholds                    `json:"thresholds" yaml:"thresholds"`
}

// DefaultWeights returns the built-in weight configuration.
func DefaultWeights() WeightConfig {
	return WeightConfig{
		ID:      "default",
		Name:    "Default",
		Version: DefaultWeightsVersion,
		CategoryWeights: map[string]float64{
			CategoryPastPerformance:     0.35,
			CategoryTechnicalCapability: 0.35,
			CategoryStrategicFit:        0.15,
			CategoryCredibility:         0.15,
		},
		FactorWeights: map[string]map[string]float64{
			CategoryPastPerformance: {
				FactorAgencyExperience: 0.40,
				FactorNAICSHistory:     0.35,
				FactorContractValueFit: 0.25,
			},
			CategoryTechnicalCapability: {
				FactorNAICSAlignment:   0.50,
				FactorCoreCompetencies: 0.30,
				FactorCertifications:   0.20,
			},
			CategoryStrategicFit: {
				FactorSetAsideEligibility: 0.35,
				FactorGeographicProximity: 0.25,
				FactorBrandAlignment:      0.25,
				FactorDeadlineFeasibility: 0.15,
			},
			CategoryCredibility: {
				FactorRegistrationCompleteness: 0.60,
				FactorContactCompleteness:      0.40,
			},
		},
		Thresholds: Thresholds{Excellent: 80, Good: 60, NeedsImprovement: 40},
	}
}

// Clone returns a deep copy of the config so callers cannot share its maps.
func (c WeightConfig) Clone() WeightConfig {
	out := c
	if c.CategoryWeights != nil {
		out.CategoryWeights = make(map[string]float64, len(c.CategoryWeights))
		for k, v := range c.CategoryWeights {
			out.CategoryWeights[k] = v
		}
	}
	if c.FactorWeights != nil {
		out.FactorWeights = make(map[string]map[string]float64, len(c.FactorWeights))
		for cat, fw := range c.FactorWeights {
			inner := make(map[string]float64, len(fw))
			for k, v := range fw {
				inner[k] = v
			}
			out.FactorWeights[cat] = inner
		}
	}
	return out
}

// Categories returns the category names in sorted order.
func (c WeightConfig) Categories() []string {
	names := make([]string, 0, len(c.CategoryWeights))
	for name := range c.CategoryWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factors returns the factor names of a category in sorted order.
func (c WeightConfig) Factors(category string) []string {
	fw := c.FactorWeights[category]
	names := make([]string, 0, len(fw))
	for name := range fw {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FactorCount returns the total number of factors across all weighted categories.
func (c WeightConfig) FactorCount() int {
	n := 0
	for cat := range c.CategoryWeights {
		n += len(c.FactorWeights[cat])
	}
	return n
}

// Validate checks that the configuration is internally consistent. It never
// modifies the configuration.
func (c WeightConfig) Validate() error {
	var errs []string

	if c.Version == "" {
		errs = append(errs, "version is required")
	}
	if len(c.CategoryWeights) == 0 {
		errs = append(errs, "at least one category is required")
	}

	var catSum float64
	for _, cat := range c.Categories() {
		w := c.CategoryWeights[cat]
		if msg := weightProblem(w); msg != "" {
			errs = append(errs, fmt.Sprintf("category %s weight %s", cat, msg))
		} else {
			catSum += w
		}

		factors := c.FactorWeights[cat]
		if len(factors) == 0 {
			errs = append(errs, fmt.Sprintf("category %s has no factors", cat))
			continue
		}
		var factorSum float64
		for _, f := range c.Factors(cat) {
			fw := factors[f]
			if msg := weightProblem(fw); msg != "" {
				errs = append(errs, fmt.Sprintf("factor %s.%s weight %s", cat, f, msg))
				factorSum = math.NaN()
				continue
			}
			factorSum += fw
		}
		if !math.IsNaN(factorSum) && math.Abs(factorSum-1) > weightEpsilon {
			errs = append(errs, fmt.Sprintf("factor weights in %s should sum to 1.0, got %.4f", cat, factorSum))
		}
	}
	if len(c.CategoryWeights) > 0 && math.Abs(catSum-1) > weightEpsilon {
		errs = append(errs, fmt.Sprintf("category weights should sum to 1.0, got %.4f", catSum))
	}

	var orphans []string
	for cat := range c.FactorWeights {
		if _, ok := c.CategoryWeights[cat]; !ok {
			orphans = append(orphans, cat)
		}
	}
	sort.Strings(orphans)
	for _, cat := range orphans {
		errs = append(errs, fmt.Sprintf("factor weights given for unknown category %s", cat))
	}

	t := c.Thresholds
	if t.Excellent > 100 || t.NeedsImprovement < 0 ||
		t.Excellent <= t.Good || t.Good <= t.NeedsImprovement {
		errs = append(errs, fmt.Sprintf("thresholds must be strictly descending within 0-100, got %d/%d/%d",
			t.Excellent, t.Good, t.NeedsImprovement))
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// weightProblem describes why w is not a usable weight, or returns "".
func weightProblem(w float64) string {
	switch {
	case math.IsNaN(w) || math.IsInf(w, 0):
		return "must be a finite number"
	case w < 0:
		return "must be >= 0"
	}
	return ""
}

// Adjustment records one weight rescaled by Normalize.
type Adjustment struct {
	Path string  `json:"path"`
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Normalize returns a copy of the config with category weights and each
// category's factor weights rescaled to sum to 1.0, plus every weight it
// changed. It fails when a group has a negative weight or sums to zero.
func (c WeightConfig) Normalize() (WeightConfig, []Adjustment, error) {
	out := c
	out.FactorWeights = make(map[string]map[string]float64, len(c.FactorWeights))

	var changes []Adjustment

	scaled, adj, err := rescale("", c.CategoryWeights)
	if err != nil {
		return WeightConfig{}, nil, err
	}
	out.CategoryWeights = scaled
	changes = append(changes, adj...)

	for _, cat := range sortedKeys(c.FactorWeights) {
		scaled, adj, err := rescale(cat+".", c.FactorWeights[cat])
		if err != nil {
			return WeightConfig{}, nil, err
		}
		out.FactorWeights[cat] = scaled
		changes = append(changes, adj...)
	}
	return out, changes, nil
}

func rescale(prefix string, weights map[string]float64) (map[string]float64, []Adjustment, error) {
	var sum float64
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, nil, eris.Errorf("scorer: cannot normalize non-finite weight %s%s", prefix, name)
		}
		if w < 0 {
			return nil, nil, eris.Errorf("scorer: cannot normalize negative weight %s%s", prefix, name)
		}
		sum += w
	}
	if sum == 0 {
		return nil, nil, eris.Errorf("scorer: cannot normalize zero-sum weights %s", strings.TrimSuffix(prefix, "."))
	}

	out := make(map[string]float64, len(weights))
	var changes []Adjustment
	for _, name := range sortedKeys(weights) {
		from := weights[name]
		to := from
		if math.Abs(sum-1) > weightEpsilon/10 {
			to = math.Round(from/sum*1e6) / 1e6
		}
		out[name] = to
		if to != from {
			changes = append(changes, Adjustment{Path: prefix + name, From: from, To: to})
		}
	}
	return out, changes, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rating maps an overall score to its threshold band.
func (c WeightConfig) Rating(score int) string {
	switch {
	case score >= c.Thresholds.Excellent:
		return RatingExcellent
	case score >= c.Thresholds.Good:
		return RatingGood
	case score >= c.Thresholds.NeedsImprovement:
		return RatingNeedsImprovement
	default:
		return RatingPoor
	}
}

// Hash returns a SHA-256 hash of the weights and thresholds so a score can be
// reproduced against the exact configuration that produced it.
func (c WeightConfig) Hash() string {
	data, err := json.Marshal(struct {
		Version         string                        `json:"version"`
		CategoryWeights map[string]float64            `json:"category_weights"`
		FactorWeights   map[string]map[string]float64 `json:"factor_weights"`
		Thresholds      Thresholds                    `json:"thresholds"`
	}{c.Version, c.CategoryWeights, c.FactorWeights, c.Thresholds})
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}

// ParseWeights decodes a YAML weight configuration without validating it.
func ParseWeights(data []byte) (WeightConfig, error) {
	var cfg WeightConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return WeightConfig{}, eris.Wrap(err, "scorer: parse weights")
	}
	return cfg, nil
}

// LoadWeights reads and validates a YAML weight configuration file.
// An inconsistent file is rejected; use Normalize explicitly to repair one.
func LoadWeights(path string) (WeightConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WeightConfig{}, eris.Wrapf(err, "scorer: read weights %s", path)
	}
	cfg, err := ParseWeights(data)
	if err != nil {
		return WeightConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return WeightConfig{}, eris.Wrapf(err, "scorer: load weights %s", path)
	}
	return cfg, nil
}

// YAML encodes the configuration in the same format LoadWeights reads.
func (c WeightConfig) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: marshal weights")
	}
	return data, nil
}
