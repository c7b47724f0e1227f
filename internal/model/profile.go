package model

import (
	"strings"
	"time"
)

// Contact is the primary point of contact on a business profile.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// IsZero reports whether no contact field is populated.
func (c *Contact) IsZero() bool {
	return c == nil || (c.Name == "" && c.Email == "" && c.Phone == "")
}

// PastContract is a prior award held by the business.
type PastContract struct {
	Agency      string     `json:"agency,omitempty"`
	NAICSCode   string     `json:"naics_code,omitempty"`
	Value       float64    `json:"value,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Profile is the canonical business profile snapshot consumed by scoring.
// It is produced by NormalizeProfile and treated as read-only by the engine.
type Profile struct {
	ID               string         `json:"id"`
	CompanyName      string         `json:"company_name,omitempty"`
	Website          string         `json:"website,omitempty"`
	UEI              string         `json:"uei,omitempty"`
	CAGECode         string         `json:"cage_code,omitempty"`
	NAICSCodes       []string       `json:"naics_codes,omitempty"`
	Certifications   []string       `json:"certifications,omitempty"`
	CoreCompetencies []string       `json:"core_competencies,omitempty"`
	BrandKeywords    []string       `json:"brand_keywords,omitempty"`
	Location         *Location      `json:"location,omitempty"`
	Contact          *Contact       `json:"contact,omitempty"`
	PastPerformance  []PastContract `json:"past_performance,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at,omitempty"`
}

// HasCertification reports whether the profile holds the canonical certification.
func (p *Profile) HasCertification(cert string) bool {
	cert = CanonicalCertification(cert)
	for _, c := range p.Certifications {
		if c == cert {
			return true
		}
	}
	return false
}

// certificationAliases maps free-form certification labels to canonical codes.
var certificationAliases = map[string]string{
	"8a":       Cert8A,
	"8(a)":     Cert8A,
	"sba 8(a)": Cert8A,
	"hubzone":  CertHUBZone,
	"hub zone": CertHUBZone,
	"sdvosb":   CertSDVOSB,
	"sdvosbc":  CertSDVOSB,
	"vosb":     CertVOSB,
	"wosb":     CertWOSB,
	"edwosb":   CertEDWOSB,
	"sdb":      CertSDB,
	"sb":       CertSmallBusiness,

	// Long-form labels seen in SAM registrations.
	"service-disabled veteran-owned small business": CertSDVOSB,
	"veteran-owned small business":                  CertVOSB,
	"women-owned small business":                    CertWOSB,
	"small disadvantaged business":                  CertSDB,
	"small business":                                CertSmallBusiness,
}

// Canonical certification codes.
const (
	Cert8A            = "8a"
	CertHUBZone       = "hubzone"
	CertSDVOSB        = "sdvosb"
	CertVOSB          = "vosb"
	CertWOSB          = "wosb"
	CertEDWOSB        = "edwosb"
	CertSDB           = "sdb"
	CertSmallBusiness = "small_business"
)

// CanonicalCertification maps a certification label to its canonical code.
// Unknown labels are returned folded and trimmed.
func CanonicalCertification(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	if c, ok := certificationAliases[key]; ok {
		return c
	}
	return key
}
