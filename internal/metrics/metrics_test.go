package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/resilience"
	"github.com/sells-group/matchscore/internal/scorer"
)

func TestCacheObserver(t *testing.T) {
	m := New()
	obs := m.Cache("search")
	obs.ObserveLookup(cache.OutcomeMiss)
	obs.ObserveLookup(cache.OutcomeHit)
	obs.ObserveLookup(cache.OutcomeHit)
	m.Cache("other").ObserveLookup(cache.OutcomeHit)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("search", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("search", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("other", "hit")))
}

func TestObserveTransition(t *testing.T) {
	m := New()
	m.ObserveTransition("o1", analysis.TypeCompetitors, analysis.StatePending, analysis.StateProcessing)
	m.ObserveTransition("o2", analysis.TypeCompetitors, analysis.StatePending, analysis.StateProcessing)
	m.ObserveTransition("o1", analysis.TypeCompetitors, analysis.StateProcessing, analysis.StateCompleted)

	processing := m.artifactsProcessing.WithLabelValues(string(analysis.TypeCompetitors))
	assert.Equal(t, 1.0, testutil.ToFloat64(processing))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.artifactTransitions.WithLabelValues("competitors", "pending", "processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.artifactTransitions.WithLabelValues("competitors", "processing", "completed")))
}

func TestObserveScoreAndBreaker(t *testing.T) {
	m := New()
	m.ObserveScore(scorer.MatchScore{OverallScore: 85, Confidence: 90, Rating: "excellent"})
	m.ObserveScore(scorer.MatchScore{OverallScore: 40, Confidence: 60, Rating: "poor"})
	assert.Equal(t, 2, testutil.CollectAndCount(m.scores))

	hook := m.BreakerHook()
	hook("sam", resilience.StateClosed, resilience.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("sam")))
	hook("sam", resilience.StateOpen, resilience.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("sam")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/v1/search", 200, 25*time.Millisecond)
	m.Cache("search").ObserveLookup(cache.OutcomeMiss)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `matchscore_http_requests_total{method="GET",route="/v1/search",status="200"} 1`)
	assert.Contains(t, string(body), `matchscore_cache_lookups_total{cache="search",outcome="miss"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
