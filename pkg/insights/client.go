// Package insights is the HTTP client for the opportunity analysis service.
// It implements analysis.Provider.
package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/resilience"
)

const service = "insights"

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPolicy replaces the retry and breaker policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// Client calls the analysis service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	policy  resilience.Policy
}

// NewClient creates an analysis client for baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
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
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type triggerRequest struct {
	Types []analysis.Type `json:"types"`
}

// Trigger asks the service to (re)compute the given artifacts.
func (c *Client) Trigger(ctx context.Context, opportunityID string, types []analysis.Type) error {
	body, err := json.Marshal(triggerRequest{Types: types})
	if err != nil {
		return eris.Wrap(err, "insights: marshal request")
	}
	_, err = resilience.Call(ctx, c.policy, "insights.trigger", func(ctx context.Context) (struct{}, error) {
		resp, err := c.do(ctx, http.MethodPost, c.analysisURL(opportunityID), body)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close() //nolint:errcheck
		return struct{}{}, nil
	})
	return err
}

// Poll fetches artifacts completed after the per-type timestamps. Types
// still in progress come back null and are dropped.
func (c *Client) Poll(ctx context.Context, opportunityID string, since map[analysis.Type]time.Time) (map[analysis.Type]json.RawMessage, error) {
	u := c.analysisURL(opportunityID)
	if len(since) > 0 {
		v := url.Values{}
		for t, at := range since {
			v.Set("since_"+string(t), at.UTC().Format(time.RFC3339))
		}
		u += "?" + v.Encode()
	}

	// Each poll is one attempt; the orchestrator owns the retry cadence.
	p := c.policy
	p.Backoff = resilience.Backoff{MaxAttempts: 1}
	raw, err := resilience.Call(ctx, p, "insights.poll", func(ctx context.Context) (map[string]json.RawMessage, error) {
		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "insights: read response")
		}
		var out map[string]json.RawMessage
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, eris.Wrap(err, "insights: unmarshal response")
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	payloads := make(map[analysis.Type]json.RawMessage, len(raw))
	for name, data := range raw {
		t := analysis.Type(name)
		if !t.Valid() || isNull(data) {
			continue
		}
		payloads[t] = data
	}
	return payloads, nil
}

func (c *Client) analysisURL(opportunityID string) string {
	return c.baseURL + "/v1/opportunities/" + url.PathEscape(opportunityID) + "/analysis"
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, eris.Wrap(err, "insights: create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "insights: send request")
	}
	if err := resilience.CheckResponse(service, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
