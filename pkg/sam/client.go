// Package sam searches contract opportunities on the SAM.gov public API.
package sam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/resilience"
)

const (
	defaultBaseURL = "https://api.sam.gov"
	searchPath     = "/opportunities/v2/search"
	service        = "sam"

	// maxPageSize is the largest limit the search endpoint accepts.
	maxPageSize = 1000
	// postedWindow is the default posted-date range. The API rejects
	// ranges longer than one year.
	postedWindow = 364 * 24 * time.Hour
	dateLayout   = "01/02/2006"
)

// filterParams maps query filter names onto search parameters. Filters not
// listed are passed through under their own name.
var filterParams = map[string]string{
	"naics":            "ncode",
	"naicsCode":        "ncode",
	"setAside":         "typeOfSetAside",
	"keyword":          "title",
	"agency":           "organizationName",
	"noticeType":       "ptype",
	"state":            "state",
	"zip":              "zip",
	"postedFrom":       "postedFrom",
	"postedTo":         "postedTo",
	"responseDeadline": "rdlto",
	"status":           "status",
}

var dateParams = map[string]bool{"postedFrom": true, "postedTo": true, "rdlto": true}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPolicy replaces the retry, breaker, and rate-limit policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithClock overrides the clock used for default posted-date windows.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.nowFunc = now }
}

// Client implements matching.SearchProvider against SAM.gov.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	policy  resilience.Policy
	nowFunc func() time.Time
}

// NewClient creates a SAM.gov client. The default policy allows two
// requests per second, retries transient failures, and opens a breaker
// after five consecutive ones.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: resilience.Policy{
			Backoff: resilience.DefaultBackoff(),
			Breaker: resilience.NewBreaker(service, 5, 30*time.Second),
			Limiter: rate.NewLimiter(rate.Limit(2), 1),
		},
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	TotalRecords      int         `json:"totalRecords"`
	Limit             int         `json:"limit"`
	Offset            int         `json:"offset"`
	OpportunitiesData []model.Raw `json:"opportunitiesData"`
}

// SearchOpportunities fetches one page. Page and PageSize map onto offset
// and limit; the page is ordered locally by the query's sort field because
// the endpoint has no sort parameter.
func (c *Client) SearchOpportunities(ctx context.Context, q cache.Query) (model.OpportunityPage, error) {
	q = q.Normalize()
	if c.apiKey == "" {
		return model.OpportunityPage{}, eris.New("sam: api key not configured (sam.api_key)")
	}
	params := c.params(q)

	resp, err := resilience.Call(ctx, c.policy, "sam.search", func(ctx context.Context) (searchResponse, error) {
		return c.get(ctx, params)
	})
	if err != nil {
		return model.OpportunityPage{}, err
	}

	page := model.OpportunityPage{
		Items: make([]model.Opportunity, 0, len(resp.OpportunitiesData)),
		Total: resp.TotalRecords,
	}
	for _, raw := range resp.OpportunitiesData {
		opp := model.NormalizeOpportunity(raw)
		if opp.ID == "" {
			continue
		}
		page.Items = append(page.Items, opp)
	}
	offset := (q.Page - 1) * min(q.PageSize, maxPageSize)
	page.HasMore = offset+len(resp.OpportunitiesData) < resp.TotalRecords
	sortPage(page.Items, q.Sort)

	zap.L().Debug("sam: search page",
		zap.Int("page", q.Page),
		zap.Int("items", len(page.Items)),
		zap.Int("total", page.Total),
	)
	return page, nil
}

func (c *Client) get(ctx context.Context, params url.Values) (searchResponse, error) {
	reqURL := c.baseURL + searchPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return searchResponse{}, eris.Wrap(err, "sam: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return searchResponse{}, eris.Wrap(err, "sam: send request")
	}
	if err := resilience.CheckResponse(service, resp); err != nil {
		return searchResponse{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return searchResponse{}, eris.Wrap(err, "sam: read response")
	}
	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return searchResponse{}, eris.Wrap(err, "sam: unmarshal response")
	}
	return out, nil
}

func (c *Client) params(q cache.Query) url.Values {
	v := url.Values{}
	v.Set("api_key", c.apiKey)
	limit := min(q.PageSize, maxPageSize)
	v.Set("limit", strconv.Itoa(limit))
	v.Set("offset", strconv.Itoa((q.Page-1)*limit))

	for name, val := range q.Filters {
		param, ok := filterParams[name]
		if !ok {
			param = name
		}
		value := paramValue(val)
		if dateParams[param] {
			value = samDate(value)
		}
		v.Set(param, value)
	}

	now := c.nowFunc()
	if v.Get("postedTo") == "" {
		v.Set("postedTo", now.Format(dateLayout))
	}
	if v.Get("postedFrom") == "" {
		v.Set("postedFrom", now.Add(-postedWindow).Format(dateLayout))
	}
	return v
}

// paramValue renders a canonical filter value. Sets become comma lists.
func paramValue(val any) string {
	switch t := val.(type) {
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = paramValue(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// samDate rewrites ISO dates into the MM/dd/yyyy form the API expects.
// Values in any other form are passed through.
func samDate(s string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout)
		}
	}
	return s
}

func sortPage(items []model.Opportunity, s cache.Sort) {
	var key func(o model.Opportunity) (float64, bool)
	switch s.Field {
	case "postedDate":
		key = func(o model.Opportunity) (float64, bool) { return unix(o.PostedDate) }
	case "responseDeadline":
		key = func(o model.Opportunity) (float64, bool) { return unix(o.ResponseDeadline) }
	case "estimatedValue":
		key = func(o model.Opportunity) (float64, bool) {
			if o.EstimatedValue == nil {
				return 0, false
			}
			return *o.EstimatedValue, true
		}
	default:
		return
	}
	asc := s.Direction == "asc"
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := key(items[i])
		b, bok := key(items[j])
		if aok != bok {
			// Missing values sort last in either direction.
			return aok
		}
		if asc {
			return a < b
		}
		return a > b
	})
}

func unix(t *time.Time) (float64, bool) {
	if t == nil {
		return 0, false
	}
	return float64(t.Unix()), true
}
