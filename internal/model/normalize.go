package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
)

// Raw is an ingested record as decoded from an upstream JSON document.
type Raw map[string]any

// Field name variants seen across upstream sources. The first name listed is
// the canonical one; the rest are legacy spellings.
var (
	profileIDKeys     = []string{"id", "profileId", "profile_id"}
	companyNameKeys   = []string{"companyName", "company_name", "legalBusinessName", "name"}
	websiteKeys       = []string{"website", "websiteUrl", "url"}
	ueiKeys           = []string{"uei", "ueiSAM", "uei_sam"}
	cageKeys          = []string{"cageCode", "cage_code", "cage"}
	naicsKeys         = []string{"naicsCodes", "naics_codes", "naics", "naicsCode"}
	certificationKeys = []string{"certifications", "certs", "sbaCertifications"}
	competencyKeys    = []string{"coreCompetencies", "core_competencies", "competencies", "capabilities"}
	brandKeys         = []string{"brandKeywords", "brand_keywords", "brandValues", "keywords"}
	contactKeys       = []string{"contact", "primaryContact", "pointOfContact"}
	contactNameKeys   = []string{"fullName", "fullname", "name", "contactName"}
	contactEmailKeys  = []string{"email", "emailAddress", "contactEmail"}
	contactPhoneKeys  = []string{"phone", "phoneNumber", "telephone"}
	locationKeys      = []string{"location", "address", "placeOfPerformance"}
	pastPerfKeys      = []string{"pastPerformance", "past_performance", "pastContracts"}
	oppIDKeys         = []string{"id", "noticeId", "opportunityId"}
	noticeIDKeys      = []string{"noticeId", "notice_id", "solicitationNumber"}
	titleKeys         = []string{"title", "name"}
	descriptionKeys   = []string{"description", "synopsis", "summary"}
	agencyKeys        = []string{"agency", "fullParentPathName", "department", "agencyName"}
	setAsideKeys      = []string{"setAside", "set_aside", "typeOfSetAside", "setAsideCode"}
	postedKeys        = []string{"postedDate", "posted_date", "publishDate"}
	deadlineKeys      = []string{"responseDeadline", "responseDeadLine", "response_deadline", "deadline"}
	valueKeys         = []string{"estimatedValue", "estimated_value", "value", "awardCeiling"}
	cityKeys          = []string{"city", "cityName"}
	stateKeys         = []string{"state", "stateCode", "state_code"}
	zipKeys           = []string{"zip", "zipCode", "zip_code", "postalCode"}
	latKeys           = []string{"lat", "latitude"}
	lonKeys           = []string{"lon", "lng", "longitude"}
	pastAgencyKeys    = []string{"agency", "agencyName", "customer"}
	pastNAICSKeys     = []string{"naicsCode", "naics_code", "naics"}
	pastValueKeys     = []string{"value", "amount", "contractValue"}
	pastCompletedKeys = []string{"completedAt", "completed_at", "endDate"}
	updatedAtKeys     = []string{"updatedAt", "updated_at"}
)

// setAsideAliases maps descriptive set-aside labels onto SAM.gov codes.
var setAsideAliases = map[string]string{
	"":                     SetAsideNone,
	"none":                 SetAsideNone,
	"full and open":        SetAsideNone,
	"unrestricted":         SetAsideNone,
	"sba":                  SetAsideSBA,
	"small business":       SetAsideSBA,
	"total small business": SetAsideSBA,
	"8a":                   SetAside8A,
	"8(a)":                 SetAside8A,
	"hzc":                  SetAsideHUBZone,
	"hubzone":              SetAsideHUBZone,
	"sdvosbc":              SetAsideSDVOSB,
	"sdvosb":               SetAsideSDVOSB,
	"wosb":                 SetAsideWOSB,
	"edwosb":               SetAsideEDWOSB,
	"vsa":                  SetAsideVSA,
	"veteran-owned":        SetAsideVSA,
}

// NormalizeProfile maps an ingested profile document with any of the known
// legacy field spellings onto the canonical Profile.
func NormalizeProfile(raw Raw) Profile {
	p := Profile{
		ID:               firstString(raw, profileIDKeys...),
		CompanyName:      firstString(raw, companyNameKeys...),
		Website:          firstString(raw, websiteKeys...),
		UEI:              strings.ToUpper(firstString(raw, ueiKeys...)),
		CAGECode:         strings.ToUpper(firstString(raw, cageKeys...)),
		NAICSCodes:       NormalizeNAICS(stringList(raw, naicsKeys...)),
		CoreCompetencies: dedupe(stringList(raw, competencyKeys...)),
		BrandKeywords:    dedupe(stringList(raw, brandKeys...)),
		Location:         normalizeLocation(firstMap(raw, locationKeys...)),
		Contact:          normalizeContact(raw),
	}
	if t := firstTime(raw, updatedAtKeys...); t != nil {
		p.UpdatedAt = *t
	}

	var certs []string
	for _, c := range stringList(raw, certificationKeys...) {
		certs = append(certs, CanonicalCertification(c))
	}
	p.Certifications = dedupe(certs)

	for _, item := range mapList(raw, pastPerfKeys...) {
		pc := PastContract{
			Agency:      firstString(item, pastAgencyKeys...),
			CompletedAt: firstTime(item, pastCompletedKeys...),
		}
		if codes := NormalizeNAICS(stringList(item, pastNAICSKeys...)); len(codes) > 0 {
			pc.NAICSCode = codes[0]
		}
		if v, ok := firstFloat(item, pastValueKeys...); ok {
			pc.Value = v
		}
		p.PastPerformance = append(p.PastPerformance, pc)
	}
	return p
}

// NormalizeOpportunity maps an ingested opportunity document onto the
// canonical Opportunity.
func NormalizeOpportunity(raw Raw) Opportunity {
	o := Opportunity{
		ID:               firstString(raw, oppIDKeys...),
		NoticeID:         firstString(raw, noticeIDKeys...),
		Title:            firstString(raw, titleKeys...),
		Description:      firstString(raw, descriptionKeys...),
		Agency:           firstString(raw, agencyKeys...),
		NAICSCodes:       NormalizeNAICS(stringList(raw, naicsKeys...)),
		SetAside:         NormalizeSetAside(firstString(raw, setAsideKeys...)),
		Location:         normalizeLocation(firstMap(raw, locationKeys...)),
		PostedDate:       firstTime(raw, postedKeys...),
		ResponseDeadline: firstTime(raw, deadlineKeys...),
	}
	if v, ok := firstFloat(raw, valueKeys...); ok {
		o.EstimatedValue = &v
	}
	return o
}

// NormalizeSetAside maps a set-aside label or code onto a SAM.gov code.
// Unknown labels are upper-cased and kept.
func NormalizeSetAside(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	if code, ok := setAsideAliases[key]; ok {
		return code
	}
	return strings.ToUpper(key)
}

// NormalizeNAICS trims, strips non-digits, drops codes shorter than two
// digits, and de-duplicates while keeping first-seen order.
func NormalizeNAICS(codes []string) []string {
	var out []string
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		var b strings.Builder
		for _, r := range c {
			if unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		code := b.String()
		if len(code) > 6 {
			code = code[:6]
		}
		if len(code) < 2 || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

var folder = cases.Fold()

// Tokenize case-folds text and splits it into alphanumeric tokens of three or
// more runes, dropping common stop words.
func Tokenize(text string) []string {
	folded := folder.String(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"are": true, "will": true, "from": true, "shall": true, "all": true, "any": true,
	"services": true, "support": true, "contractor": true, "government": true,
}

func normalizeContact(raw Raw) *Contact {
	src := firstMap(raw, contactKeys...)
	if src == nil {
		// Some sources flatten contact fields onto the profile itself.
		src = Raw{
			"fullName": firstString(raw, "contactFullName", "contactName"),
			"email":    firstString(raw, "contactEmail", "email"),
			"phone":    firstString(raw, "contactPhone", "phone"),
		}
	}
	c := &Contact{
		Name:  firstString(src, contactNameKeys...),
		Email: strings.ToLower(firstString(src, contactEmailKeys...)),
		Phone: firstString(src, contactPhoneKeys...),
	}
	if c.IsZero() {
		return nil
	}
	return c
}

func normalizeLocation(raw Raw) *Location {
	if raw == nil {
		return nil
	}
	loc := &Location{
		City:  firstString(raw, cityKeys...),
		State: strings.ToUpper(firstString(raw, stateKeys...)),
		Zip:   firstString(raw, zipKeys...),
	}
	// SAM nests state/city as {"code": "VA", "name": "Virginia"}.
	if loc.State == "" {
		if m := firstMap(raw, stateKeys...); m != nil {
			loc.State = strings.ToUpper(firstString(m, "code"))
		}
	}
	if loc.City == "" {
		if m := firstMap(raw, cityKeys...); m != nil {
			loc.City = firstString(m, "name")
		}
	}
	if lat, ok := firstFloat(raw, latKeys...); ok {
		if lon, ok := firstFloat(raw, lonKeys...); ok {
			loc.Lat, loc.Lon = &lat, &lon
		}
	}
	if loc.IsZero() {
		return nil
	}
	return loc
}

func firstString(raw Raw, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			s = strconv.Itoa(t)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(raw Raw, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch t := raw[k].(type) {
		case float64:
			return t, true
		case int:
			return float64(t), true
		case int64:
			return float64(t), true
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, true
			}
		case string:
			clean := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(t))
			if f, err := strconv.ParseFloat(clean, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func firstTime(raw Raw, keys ...string) *time.Time {
	for _, k := range keys {
		switch t := raw[k].(type) {
		case time.Time:
			tt := t.UTC()
			return &tt
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range timeLayouts {
				if parsed, err := time.Parse(layout, s); err == nil {
					parsed = parsed.UTC()
					return &parsed
				}
			}
		}
	}
	return nil
}

func firstMap(raw Raw, keys ...string) Raw {
	for _, k := range keys {
		switch t := raw[k].(type) {
		case map[string]any:
			return Raw(t)
		case Raw:
			return t
		}
	}
	return nil
}

func mapList(raw Raw, keys ...string) []Raw {
	for _, k := range keys {
		items, ok := raw[k].([]any)
		if !ok {
			continue
		}
		var out []Raw
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Raw(m))
			}
		}
		return out
	}
	return nil
}

// stringList accepts a JSON array, a []string, or a comma separated string.
func stringList(raw Raw, keys ...string) []string {
	for _, k := range keys {
		switch t := raw[k].(type) {
		case []string:
			return trimAll(t)
		case []any:
			var out []string
			for _, item := range t {
				switch v := item.(type) {
				case string:
					out = append(out, v)
				case float64:
					out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
				case map[string]any:
					// {"code": "541512", "description": "..."} style entries.
					if s := firstString(Raw(v), "code", "name", "value"); s != "" {
						out = append(out, s)
					}
				default:
					out = append(out, fmt.Sprint(v))
				}
			}
			return trimAll(out)
		case string:
			return trimAll(strings.Split(t, ","))
		}
	}
	return nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
