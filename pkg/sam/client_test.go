package sam

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/resilience"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const searchBody = `{
	"totalRecords": 3,
	"limit": 2,
	"offset": 0,
	"opportunitiesData": [
		{
			"noticeId": "abc123",
			"title": "Cloud Migration Support",
			"solicitationNumber": "47QTCA-25-R-0001",
			"fullParentPathName": "GENERAL SERVICES ADMINISTRATION",
			"postedDate": "2025-02-01",
			"responseDeadLine": "2025-03-15T17:00:00-05:00",
			"naicsCode": "541512",
			"typeOfSetAside": "SBA",
			"placeOfPerformance": {"state": {"code": "va"}, "city": {"name": "Arlington"}}
		},
		{
			"noticeId": "def456",
			"title": "Network Modernization",
			"postedDate": "2025-02-20",
			"naicsCode": "541519",
			"typeOfSetAside": ""
		},
		{
			"title": "Missing notice id is skipped"
		}
	]
}`

func noRetry() resilience.Policy {
	return resilience.Policy{Backoff: resilience.Backoff{MaxAttempts: 1}}
}

func newTestClient(url string, opts ...Option) *Client {
	base := []Option{WithBaseURL(url), WithPolicy(noRetry()), WithClock(func() time.Time { return fixedNow })}
	return NewClient("test-key", append(base, opts...)...)
}

func TestSearchOpportunities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, searchPath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "2", q.Get("offset"))
		assert.Equal(t, "VA", q.Get("state"))
		assert.Equal(t, "541512,541519", q.Get("ncode"))
		assert.Equal(t, "01/01/2025", q.Get("postedFrom"))
		assert.Equal(t, "03/01/2025", q.Get("postedTo"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	page, err := c.SearchOpportunities(context.Background(), cache.Query{
		Filters: map[string]any{
			"state":      "VA",
			"naics":      []string{"541519", "541512"},
			"postedFrom": "2025-01-01",
		},
		Page:     2,
		PageSize: 2,
		Sort:     cache.Sort{Field: "postedDate", Direction: "desc"},
	})
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.False(t, page.HasMore)

	newest := page.Items[0]
	assert.Equal(t, "def456", newest.ID, "sorted by posted date descending")
	first := page.Items[1]
	assert.Equal(t, "abc123", first.ID)
	assert.Equal(t, "abc123", first.NoticeID)
	assert.Equal(t, []string{"541512"}, first.NAICSCodes)
	assert.Equal(t, "SBA", first.SetAside)
	require.NotNil(t, first.Location)
	assert.Equal(t, "VA", first.Location.State)
	require.NotNil(t, first.ResponseDeadline)
	assert.Equal(t, time.Date(2025, 3, 15, 22, 0, 0, 0, time.UTC), *first.ResponseDeadline)
}

func TestSearchOpportunitiesErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"postedFrom is required"}`, "sam: status 400"},
		{"server error", http.StatusInternalServerError, `oops`, "sam: status 500: oops"},
		{"malformed response", http.StatusOK, `{not json`, "unmarshal response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).SearchOpportunities(context.Background(), cache.Query{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSearchOpportunitiesRequiresKey(t *testing.T) {
	_, err := NewClient("").SearchOpportunities(context.Background(), cache.Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key not configured")
}

func TestSearchOpportunitiesRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"totalRecords":0,"opportunitiesData":[]}`))
	}))
	defer srv.Close()

	policy := resilience.Policy{Backoff: resilience.Backoff{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond}}
	page, err := newTestClient(srv.URL, WithPolicy(policy)).SearchOpportunities(context.Background(), cache.Query{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchOpportunitiesBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	policy := resilience.Policy{
		Backoff: resilience.Backoff{MaxAttempts: 1},
		Breaker: resilience.NewBreaker("sam", 2, time.Minute),
	}
	c := newTestClient(srv.URL, WithPolicy(policy))
	for range 2 {
		_, err := c.SearchOpportunities(context.Background(), cache.Query{})
		require.Error(t, err)
	}
	_, err := c.SearchOpportunities(context.Background(), cache.Query{})
	assert.True(t, errors.Is(err, resilience.ErrOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestParamValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"VA", "VA"},
		{[]any{"a", "b"}, "a,b"},
		{[]string{"x"}, "x"},
		{float64(25), "25"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, paramValue(tt.in))
	}
}

func TestSamDate(t *testing.T) {
	assert.Equal(t, "01/31/2025", samDate("2025-01-31"))
	assert.Equal(t, "01/31/2025", samDate("2025-01-31T10:00:00Z"))
	assert.Equal(t, "01/31/2025", samDate("01/31/2025"))
}
