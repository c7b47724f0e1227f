package insights

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/resilience"
)

func fastPolicy() resilience.Policy {
	return resilience.Policy{Backoff: resilience.Backoff{MaxAttempts: 3, Initial: time.Millisecond, Max: time.Millisecond}}
}

func TestTrigger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/opportunities/opp%2F1/analysis", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"types":["aiInsights","competitors"]}`, string(body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", WithPolicy(fastPolicy()))
	err := c.Trigger(context.Background(), "opp/1", []analysis.Type{analysis.TypeAIInsights, analysis.TypeCompetitors})
	require.NoError(t, err)
}

func TestTriggerErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		wantErr   string
	}{
		{"rejected request is not retried", http.StatusUnprocessableEntity, 1, "insights: status 422"},
		{"transient failure is retried", http.StatusServiceUnavailable, 3, "insights: status 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, "", WithPolicy(fastPolicy())).Trigger(context.Background(), "o1", analysis.AllTypes())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestPoll(t *testing.T) {
	since := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		assert.Equal(t, "2025-03-01T09:00:00Z", q.Get("since_aiInsights"))
		assert.Equal(t, "2025-03-01T09:00:00Z", q.Get("since_similarContracts"))
		assert.Empty(t, q.Get("since_competitors"))
		_, _ = w.Write([]byte(`{
			"aiInsights": {"summary": "strong fit"},
			"competitors": null,
			"similarContracts": null,
			"requestId": "r-1"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithPolicy(fastPolicy()))
	got, err := c.Poll(context.Background(), "o1", map[analysis.Type]time.Time{
		analysis.TypeAIInsights:       since,
		analysis.TypeSimilarContracts: since,
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "null and unknown entries are dropped")
	assert.JSONEq(t, `{"summary":"strong fit"}`, string(got[analysis.TypeAIInsights]))
}

func TestPollMakesOneAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", WithPolicy(fastPolicy())).Poll(context.Background(), "o1", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[1,2]`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Poll(context.Background(), "o1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

// The client drives a real orchestrator from trigger to completion.
func TestClientWithOrchestrator(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		body := map[string]any{"aiInsights": map[string]string{"summary": "ok"}, "competitors": nil, "similarContracts": nil}
		if polls.Add(1) > 1 {
			body["competitors"] = []string{"Globex"}
			body["similarContracts"] = []string{"GS-35F-0001"}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	orch := analysis.New(NewClient(srv.URL, "", WithPolicy(fastPolicy())), analysis.WithPollInterval(5*time.Millisecond))
	defer orch.Close()

	require.NoError(t, orch.Trigger(context.Background(), "o1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := orch.Wait(ctx, "o1")
	require.NoError(t, err)
	assert.True(t, snap.Complete)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}
