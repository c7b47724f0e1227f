package model

import "time"

// Set-aside codes as published by SAM.gov (typeOfSetAside).
const (
	SetAsideNone    = "NONE"
	SetAsideSBA     = "SBA"
	SetAside8A      = "8A"
	SetAsideHUBZone = "HZC"
	SetAsideSDVOSB  = "SDVOSBC"
	SetAsideWOSB    = "WOSB"
	SetAsideEDWOSB  = "EDWOSB"
	SetAsideVSA     = "VSA"
)

// setAsideCertifications maps a set-aside code to the certifications that
// satisfy it. SetAsideNone is unrestricted and has no entry.
var setAsideCertifications = map[string][]string{
	SetAsideSBA:     {CertSmallBusiness, Cert8A, CertHUBZone, CertSDVOSB, CertVOSB, CertWOSB, CertEDWOSB, CertSDB},
	SetAside8A:      {Cert8A},
	SetAsideHUBZone: {CertHUBZone},
	SetAsideSDVOSB:  {CertSDVOSB},
	SetAsideWOSB:    {CertWOSB, CertEDWOSB},
	SetAsideEDWOSB:  {CertEDWOSB},
	SetAsideVSA:     {CertVOSB, CertSDVOSB},
}

// QualifyingCertifications returns the certifications that satisfy the
// set-aside. It returns nil for unrestricted or unknown set-asides.
func QualifyingCertifications(setAside string) []string {
	return setAsideCertifications[setAside]
}

// Opportunity is the canonical contract opportunity snapshot consumed by scoring.
type Opportunity struct {
	ID               string     `json:"id"`
	NoticeID         string     `json:"notice_id,omitempty"`
	Title            string     `json:"title,omitempty"`
	Description      string     `json:"description,omitempty"`
	Agency           string     `json:"agency,omitempty"`
	NAICSCodes       []string   `json:"naics_codes,omitempty"`
	SetAside         string     `json:"set_aside,omitempty"`
	Location         *Location  `json:"location,omitempty"`
	PostedDate       *time.Time `json:"posted_date,omitempty"`
	ResponseDeadline *time.Time `json:"response_deadline,omitempty"`
	EstimatedValue   *float64   `json:"estimated_value,omitempty"`
}

// Unrestricted reports whether the opportunity is open to full competition.
func (o *Opportunity) Unrestricted() bool {
	return o.SetAside == SetAsideNone
}

// OpportunityPage is one page of search results from the search provider.
type OpportunityPage struct {
	Items   []Opportunity `json:"items"`
	Total   int           `json:"total"`
	HasMore bool          `json:"has_more"`
}
