package scorer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sells-group/matchscore/internal/model"
)

// Input is everything a factor rule may read. Rules must not retain or
// mutate it.
type Input struct {
	Profile     *model.Profile
	Opportunity *model.Opportunity
	// AsOf is the reference time for time-dependent factors.
	AsOf time.Time
}

// Rule scores one factor on a 0-100 scale. A rule is total: when an input it
// needs is absent it returns a degraded result instead of failing. Compute
// fills in Factor and Weight.
type Rule func(in Input) FactorResult

// Rules maps factor names to the rule that scores them.
type Rules map[string]Rule

// DefaultRules returns the built-in rule set with brandAlignment scored by
// the given strategy. A nil strategy selects KeywordStrategy.
func DefaultRules(brand Strategy) Rules {
	if brand == nil {
		brand = KeywordStrategy{}
	}
	return Rules{
		FactorAgencyExperience:         scoreAgencyExperience,
		FactorNAICSHistory:             scoreNAICSHistory,
		FactorContractValueFit:         scoreContractValueFit,
		FactorNAICSAlignment:           scoreNAICSAlignment,
		FactorCoreCompetencies:         scoreCoreCompetencies,
		FactorCertifications:           scoreCertifications,
		FactorSetAsideEligibility:      scoreSetAsideEligibility,
		FactorGeographicProximity:      scoreGeographicProximity,
		FactorBrandAlignment:           brand.Evaluate,
		FactorDeadlineFeasibility:      scoreDeadlineFeasibility,
		FactorRegistrationCompleteness: scoreRegistrationCompleteness,
		FactorContactCompleteness:      scoreContactCompleteness,
	}
}

// With returns a copy of the rule set with the factor's rule replaced.
func (r Rules) With(factor string, rule Rule) Rules {
	out := make(Rules, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[factor] = rule
	return out
}

func degraded(format string, args ...any) FactorResult {
	return FactorResult{Explanation: fmt.Sprintf(format, args...), Degraded: true}
}

// scoreNAICSAlignment rewards exact 6-digit matches on required codes, then
// falls back to industry group (4-digit) and sector (2-digit) overlap.
func scoreNAICSAlignment(in Input) FactorResult {
	required := in.Opportunity.NAICSCodes
	held := in.Profile.NAICSCodes
	if len(required) == 0 {
		return degraded("opportunity lists no NAICS codes")
	}
	if len(held) == 0 {
		return degraded("profile lists no NAICS codes")
	}

	var matched []string
	for _, code := range required {
		if containsString(held, code) {
			matched = append(matched, code)
		}
	}
	if len(matched) > 0 {
		score := 70 + 30*float64(len(matched))/float64(len(required))
		return FactorResult{
			RawScore:    score,
			Explanation: fmt.Sprintf("exact NAICS match on %d of %d required codes", len(matched), len(required)),
			Insights:    &Insights{Strengths: prefixAll("NAICS ", matched)},
		}
	}
	if prefixOverlap(held, required, 4) {
		return FactorResult{RawScore: 50, Explanation: "NAICS industry group match"}
	}
	if prefixOverlap(held, required, 2) {
		return FactorResult{RawScore: 25, Explanation: "NAICS sector match"}
	}
	return FactorResult{
		Explanation: "no NAICS overlap",
		Insights:    &Insights{Weaknesses: []string{"no registered NAICS code in the required sector"}},
	}
}

// scoreCoreCompetencies measures how many competencies appear in the
// opportunity title and description.
func scoreCoreCompetencies(in Input) FactorResult {
	comps := in.Profile.CoreCompetencies
	if len(comps) == 0 {
		return degraded("profile lists no core competencies")
	}
	text := tokenSet(in.Opportunity.Title + " " + in.Opportunity.Description)
	if len(text) == 0 {
		return degraded("opportunity has no title or description")
	}

	var matched []string
	for _, c := range comps {
		for _, tok := range model.Tokenize(c) {
			if text[tok] {
				matched = append(matched, c)
				break
			}
		}
	}
	denom := math.Min(float64(len(comps)), 4)
	score := math.Min(100, 100*float64(len(matched))/denom)
	res := FactorResult{
		RawScore:    score,
		Explanation: fmt.Sprintf("%d of %d core competencies referenced", len(matched), len(comps)),
	}
	if len(matched) > 0 {
		res.Insights = &Insights{Strengths: matched}
	}
	return res
}

// scoreCertifications credits holding the certification the set-aside asks
// for, or any certification on an unrestricted opportunity.
func scoreCertifications(in Input) FactorResult {
	certs := in.Profile.Certifications
	if len(certs) == 0 {
		return degraded("profile lists no certifications")
	}
	opp := in.Opportunity
	if opp.SetAside == "" {
		return degraded("opportunity has no set-aside type")
	}
	if opp.Unrestricted() {
		return FactorResult{RawScore: 60, Explanation: "unrestricted competition; certifications held but not required"}
	}

	qualifying := model.QualifyingCertifications(opp.SetAside)
	for _, q := range qualifying {
		if in.Profile.HasCertification(q) {
			return FactorResult{
				RawScore:    100,
				Explanation: fmt.Sprintf("holds %s required by %s set-aside", q, opp.SetAside),
				Insights:    &Insights{Strengths: []string{"eligible certification: " + q}},
			}
		}
	}

	// Partial credit for recognized socio-economic certifications that open
	// teaming and subcontracting routes.
	smallBusiness := model.QualifyingCertifications(model.SetAsideSBA)
	recognized := 0
	for _, c := range certs {
		if containsString(smallBusiness, c) {
			recognized++
		}
	}
	return FactorResult{
		RawScore:    math.Min(40, 15*float64(recognized)),
		Explanation: fmt.Sprintf("none of %d held certifications satisfy %s", len(certs), opp.SetAside),
		Insights:    &Insights{Opportunities: []string{"pursue as subcontractor to an eligible prime"}},
	}
}

// scoreSetAsideEligibility is 100 for unrestricted competition or a held
// qualifying certification, otherwise 0.
func scoreSetAsideEligibility(in Input) FactorResult {
	opp := in.Opportunity
	if opp.SetAside == "" {
		return degraded("opportunity has no set-aside type")
	}
	if opp.Unrestricted() {
		return FactorResult{RawScore: 100, Explanation: "unrestricted competition"}
	}
	qualifying := model.QualifyingCertifications(opp.SetAside)
	if len(qualifying) == 0 {
		return degraded("unknown set-aside type %s", opp.SetAside)
	}
	if len(in.Profile.Certifications) == 0 {
		return degraded("profile lists no certifications for %s set-aside", opp.SetAside)
	}
	for _, q := range qualifying {
		if in.Profile.HasCertification(q) {
			return FactorResult{RawScore: 100, Explanation: fmt.Sprintf("eligible for %s set-aside", opp.SetAside)}
		}
	}
	return FactorResult{
		Explanation: fmt.Sprintf("not eligible for %s set-aside", opp.SetAside),
		Insights:    &Insights{Weaknesses: []string{"set-aside eligibility not met"}},
	}
}

// scoreAgencyExperience counts past contracts with the buying agency.
func scoreAgencyExperience(in Input) FactorResult {
	agency := in.Opportunity.Agency
	if agency == "" {
		return degraded("opportunity has no agency")
	}
	past := in.Profile.PastPerformance
	if len(past) == 0 {
		return degraded("profile has no past performance")
	}

	n := 0
	for _, pc := range past {
		if sameAgency(pc.Agency, agency) {
			n++
		}
	}
	var score float64
	switch {
	case n >= 3:
		score = 100
	case n == 2:
		score = 85
	case n == 1:
		score = 70
	}
	return FactorResult{
		RawScore:    score,
		Explanation: fmt.Sprintf("%d past contracts with %s", n, agency),
	}
}

// scoreNAICSHistory counts past contracts performed under the opportunity's
// NAICS codes. Industry group matches count half.
func scoreNAICSHistory(in Input) FactorResult {
	codes := in.Opportunity.NAICSCodes
	if len(codes) == 0 {
		return degraded("opportunity lists no NAICS codes")
	}
	past := in.Profile.PastPerformance
	if len(past) == 0 {
		return degraded("profile has no past performance")
	}

	var points float64
	for _, pc := range past {
		switch {
		case pc.NAICSCode == "":
		case containsString(codes, pc.NAICSCode):
			points++
		case prefixOverlap([]string{pc.NAICSCode}, codes, 4):
			points += 0.5
		}
	}
	var score float64
	switch {
	case points >= 3:
		score = 100
	case points >= 2:
		score = 85
	case points >= 1:
		score = 70
	case points > 0:
		score = 40
	}
	return FactorResult{
		RawScore:    score,
		Explanation: fmt.Sprintf("%.1f NAICS-matched past contracts", points),
	}
}

// scoreContractValueFit compares the estimated value with the largest prior
// award. Work up to the largest prior award is a full fit.
func scoreContractValueFit(in Input) FactorResult {
	est := in.Opportunity.EstimatedValue
	if est == nil || *est <= 0 {
		return degraded("opportunity has no estimated value")
	}
	var largest float64
	for _, pc := range in.Profile.PastPerformance {
		largest = math.Max(largest, pc.Value)
	}
	if largest <= 0 {
		return degraded("profile has no valued past contracts")
	}

	ratio := *est / largest
	var score float64
	switch {
	case ratio <= 1:
		score = 100
	case ratio <= 2:
		score = 80
	case ratio <= 5:
		score = 50
	case ratio <= 10:
		score = 25
	default:
		score = 10
	}
	res := FactorResult{
		RawScore:    score,
		Explanation: fmt.Sprintf("estimated value is %.1fx the largest prior award", ratio),
	}
	if ratio > 2 {
		res.Insights = &Insights{Weaknesses: []string{"contract value well above prior awards"}}
	}
	return res
}

// scoreGeographicProximity scores same-state work highest, then buckets by
// great-circle distance when both sides have coordinates.
func scoreGeographicProximity(in Input) FactorResult {
	home, site := in.Profile.Location, in.Opportunity.Location
	if home.IsZero() {
		return degraded("profile has no location")
	}
	if site.IsZero() {
		return degraded("opportunity has no place of performance")
	}
	if home.SameState(site) {
		return FactorResult{RawScore: 100, Explanation: "place of performance in home state " + home.State}
	}
	if miles, ok := model.DistanceMiles(home, site); ok {
		var score float64
		switch {
		case miles <= 50:
			score = 100
		case miles <= 150:
			score = 80
		case miles <= 300:
			score = 60
		case miles <= 600:
			score = 40
		default:
			score = 20
		}
		return FactorResult{RawScore: score, Explanation: fmt.Sprintf("%.0f miles from place of performance", miles)}
	}
	if home.State != "" && site.State != "" {
		return FactorResult{RawScore: 30, Explanation: fmt.Sprintf("out of state (%s vs %s)", home.State, site.State)}
	}
	return degraded("locations not comparable")
}

// scoreDeadlineFeasibility buckets the days left before responses are due.
func scoreDeadlineFeasibility(in Input) FactorResult {
	due := in.Opportunity.ResponseDeadline
	if due == nil {
		return degraded("opportunity has no response deadline")
	}
	days := due.Sub(in.AsOf).Hours() / 24
	var score float64
	switch {
	case days >= 30:
		score = 100
	case days >= 14:
		score = 75
	case days >= 7:
		score = 50
	case days > 0:
		score = 25
	}
	res := FactorResult{RawScore: score, Explanation: fmt.Sprintf("%.0f days until response deadline", math.Max(0, days))}
	if days <= 0 {
		res.Explanation = "response deadline has passed"
	}
	return res
}

// scoreRegistrationCompleteness checks the SAM registration identifiers.
func scoreRegistrationCompleteness(in Input) FactorResult {
	p := in.Profile
	checks := []check{
		{"UEI", p.UEI != ""},
		{"CAGE code", p.CAGECode != ""},
		{"NAICS codes", len(p.NAICSCodes) > 0},
	}
	return completeness("registration", checks)
}

// scoreContactCompleteness checks the public contact details.
func scoreContactCompleteness(in Input) FactorResult {
	p := in.Profile
	c := p.Contact
	if c == nil {
		c = &model.Contact{}
	}
	checks := []check{
		{"contact name", c.Name != ""},
		{"email", c.Email != ""},
		{"phone", c.Phone != ""},
		{"website", p.Website != ""},
	}
	return completeness("contact", checks)
}

type check struct {
	name string
	ok   bool
}

func completeness(label string, checks []check) FactorResult {
	var have, missing []string
	for _, c := range checks {
		if c.ok {
			have = append(have, c.name)
		} else {
			missing = append(missing, c.name)
		}
	}
	if len(have) == 0 {
		return degraded("no %s details on profile", label)
	}
	res := FactorResult{
		RawScore:    100 * float64(len(have)) / float64(len(checks)),
		Explanation: fmt.Sprintf("%d of %d %s details present", len(have), len(checks), label),
	}
	if len(missing) > 0 {
		res.Insights = &Insights{Weaknesses: prefixAll("missing ", missing)}
	}
	return res
}

func sameAgency(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func prefixOverlap(held, required []string, n int) bool {
	for _, h := range held {
		if len(h) < n {
			continue
		}
		for _, r := range required {
			if len(r) >= n && h[:n] == r[:n] {
				return true
			}
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func prefixAll(prefix string, items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = prefix + s
	}
	return out
}

func tokenSet(text string) map[string]bool {
	toks := model.Tokenize(text)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}
