package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
	"github.com/sells-group/matchscore/internal/store"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type scoreCounter struct{ n int }

func (c *scoreCounter) ObserveScore(scorer.MatchScore) { c.n++ }

func testProfile() model.Profile {
	return model.Profile{
		ID:               "p1",
		CompanyName:      "Acme Federal",
		Website:          "https://acme.example",
		UEI:              "ABCDEF123456",
		NAICSCodes:       []string{"541512"},
		CoreCompetencies: []string{"cloud migration", "cybersecurity"},
	}
}

func testPage() model.OpportunityPage {
	return model.OpportunityPage{
		Items: []model.Opportunity{
			{ID: "o-low", Title: "Road resurfacing", NAICSCodes: []string{"237310"}, Agency: "DOT"},
			{ID: "o-high", Title: "Cloud migration and cybersecurity services", NAICSCodes: []string{"541512"}, Agency: "GSA"},
		},
		Total:   2,
		HasMore: false,
	}
}

func newTestScorer(t *testing.T) *scorer.Scorer {
	t.Helper()
	n := 0
	s, err := scorer.New(scorer.DefaultWeights(),
		scorer.WithClock(func() time.Time { return now }),
		scorer.WithIDFunc(func() string {
			n++
			return fmt.Sprintf("score-%d", n)
		}),
	)
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, deps Deps) *Service {
	t.Helper()
	if deps.Scorer == nil {
		deps.Scorer = newTestScorer(t)
	}
	if deps.Cache == nil {
		deps.Cache = cache.New[model.OpportunityPage](cache.WithClock(func() time.Time { return now }))
	}
	if deps.Search == nil {
		deps.Search = &mockSearch{}
	}
	svc, err := New(deps)
	require.NoError(t, err)
	return svc
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scorer")
	assert.Contains(t, err.Error(), "cache")
	assert.Contains(t, err.Error(), "search provider")
}

func TestSearchServesFromCache(t *testing.T) {
	search := &mockSearch{}
	search.On("SearchOpportunities", mock.Anything, mock.Anything).Return(testPage(), nil).Once()
	obs := &scoreCounter{}
	svc := newTestService(t, Deps{Search: search, Observer: obs, Concurrency: 1})
	ctx := context.Background()
	q := cache.Query{Filters: map[string]any{"state": "VA"}, Page: 1, Sort: cache.Sort{Field: "postedDate", Direction: "desc"}}

	first, err := svc.Search(ctx, testProfile(), q)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "o-low", first.Items[0].Opportunity.ID, "provider order is kept")
	assert.Equal(t, "o-high", first.Items[1].Opportunity.ID)
	assert.Equal(t, "o-high", first.Items[1].Score.OpportunityID)
	assert.Equal(t, "p1", first.Items[1].Score.ProfileID)
	assert.Equal(t, cache.DefaultPageSize, first.PageSize)

	second, err := svc.Search(ctx, testProfile(), q)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, now, second.CachedAt)
	assert.Equal(t, 4, obs.n, "every served item is scored")

	search.AssertExpectations(t)
}

func TestSearchSortByMatchScore(t *testing.T) {
	search := &mockSearch{}
	search.On("SearchOpportunities", mock.Anything, mock.MatchedBy(func(q cache.Query) bool {
		return q.Sort == cache.Sort{}
	})).Return(testPage(), nil).Once()
	svc := newTestService(t, Deps{Search: search})
	ctx := context.Background()

	tests := []struct {
		name      string
		direction string
		first     string
	}{
		{"descending", "desc", "o-high"},
		{"ascending", "asc", "o-low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.Search(ctx, testProfile(), cache.Query{Sort: cache.Sort{Field: SortMatchScore, Direction: tt.direction}})
			require.NoError(t, err)
			require.Len(t, page.Items, 2)
			assert.Equal(t, tt.first, page.Items[0].Opportunity.ID)
		})
	}

	// Both directions share one provider fetch.
	search.AssertExpectations(t)
}

func TestSearchFetchErrorLeavesCacheEmpty(t *testing.T) {
	search := &mockSearch{}
	search.On("SearchOpportunities", mock.Anything, mock.Anything).
		Return(model.OpportunityPage{}, errors.New("sam: status 503")).Once()
	c := cache.New[model.OpportunityPage]()
	svc := newTestService(t, Deps{Search: search, Cache: c})

	_, err := svc.Search(context.Background(), testProfile(), cache.Query{Page: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sam: status 503")
	assert.Zero(t, c.Len())
}

func TestScore(t *testing.T) {
	ctx := context.Background()
	opp := testPage().Items[1]

	t.Run("without persistence", func(t *testing.T) {
		svc := newTestService(t, Deps{})
		ms, err := svc.Score(ctx, testProfile(), opp, false)
		require.NoError(t, err)
		assert.Equal(t, "score-1", ms.ID)
		assert.Equal(t, now, ms.CreatedAt)
		assert.Positive(t, ms.OverallScore)
	})

	t.Run("persisted", func(t *testing.T) {
		st := &mockStore{}
		st.On("SaveScore", mock.Anything, mock.MatchedBy(func(ms scorer.MatchScore) bool {
			return ms.ID == "score-1" && ms.OpportunityID == "o-high"
		})).Return(nil).Once()
		svc := newTestService(t, Deps{Store: st})

		_, err := svc.Score(ctx, testProfile(), opp, true)
		require.NoError(t, err)
		st.AssertExpectations(t)
	})

	t.Run("persist failure", func(t *testing.T) {
		st := &mockStore{}
		st.On("SaveScore", mock.Anything, mock.Anything).Return(store.ErrDuplicate).Once()
		svc := newTestService(t, Deps{Store: st})

		_, err := svc.Score(ctx, testProfile(), opp, true)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("persist without store", func(t *testing.T) {
		svc := newTestService(t, Deps{})
		_, err := svc.Score(ctx, testProfile(), opp, true)
		assert.ErrorIs(t, err, ErrNoStore)
	})
}

func TestScoreProfileLoadsStoredProfile(t *testing.T) {
	p := testProfile()
	st := &mockStore{}
	st.On("GetProfile", mock.Anything, "p1").Return(&p, nil).Once()
	svc := newTestService(t, Deps{Store: st})

	ms, err := svc.ScoreProfile(context.Background(), "p1", testPage().Items[1], false)
	require.NoError(t, err)
	assert.Equal(t, "p1", ms.ProfileID)

	// The editor caches the profile for later reads.
	_, err = svc.ScoreProfile(context.Background(), "p1", testPage().Items[0], false)
	require.NoError(t, err)
	st.AssertExpectations(t)
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()
	st := &mockStore{}
	recorded := scorer.MatchScore{ID: "s1", ActualOutcome: scorer.OutcomeWon}
	st.On("RecordOutcome", mock.Anything, "s1", scorer.OutcomeWon).Return(&recorded, nil).Once()
	svc := newTestService(t, Deps{Store: st})

	got, err := svc.RecordOutcome(ctx, "s1", "won")
	require.NoError(t, err)
	assert.Equal(t, scorer.OutcomeWon, got.ActualOutcome)

	_, err = svc.RecordOutcome(ctx, "s1", "maybe")
	assert.ErrorIs(t, err, ErrInvalid)
	st.AssertExpectations(t)

	_, err = newTestService(t, Deps{}).RecordOutcome(ctx, "s1", "won")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestAccuracyPagesThroughScores(t *testing.T) {
	full := make([]scorer.MatchScore, accuracyPageSize)
	for i := range full {
		full[i] = scorer.MatchScore{ID: fmt.Sprintf("w%d", i), OverallScore: 85, ActualOutcome: scorer.OutcomeWon}
	}
	tail := []scorer.MatchScore{{ID: "l1", OverallScore: 30, ActualOutcome: scorer.OutcomeLost}}

	st := &mockStore{}
	st.On("ListScores", mock.Anything, store.ScoreFilter{ProfileID: "p1", WithOutcome: true, Limit: accuracyPageSize}).
		Return(full, nil).Once()
	st.On("ListScores", mock.Anything, store.ScoreFilter{ProfileID: "p1", WithOutcome: true, Limit: accuracyPageSize, Offset: accuracyPageSize}).
		Return(tail, nil).Once()
	svc := newTestService(t, Deps{Store: st})

	report, err := svc.Accuracy(context.Background(), store.ScoreFilter{ProfileID: "p1", Offset: 7})
	require.NoError(t, err)
	assert.Equal(t, accuracyPageSize+1, report.WithOutcome)
	assert.Equal(t, accuracyPageSize, report.Won)
	assert.Equal(t, 1, report.Lost)
	assert.InDelta(t, 1.0, report.HitRate, 0.0001)
	st.AssertExpectations(t)
}

func TestEditProfile(t *testing.T) {
	ctx := context.Background()
	q := cache.Query{Filters: map[string]any{"state": "VA"}}

	t.Run("commit invalidates cached pages", func(t *testing.T) {
		p := testProfile()
		committed := p
		committed.CompanyName = "Acme Federal LLC"
		committed.UpdatedAt = now

		st := &mockStore{}
		st.On("GetProfile", mock.Anything, "p1").Return(&p, nil).Once()
		st.On("UpdateProfileFields", mock.Anything, "p1", optimistic.Fields{"company_name": "Acme Federal LLC"}).
			Return(&committed, nil).Once()
		c := cache.New[model.OpportunityPage]()
		c.Set(q, testPage())
		svc := newTestService(t, Deps{Store: st, Cache: c})

		got, err := svc.EditProfile(ctx, "p1", optimistic.Fields{"company_name": "Acme Federal LLC"})
		require.NoError(t, err)
		assert.Equal(t, committed, got)
		assert.Zero(t, c.Len())
		assert.Empty(t, svc.PendingFields("p1"))

		view, err := svc.Profile(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, committed, view)
		st.AssertExpectations(t)
	})

	t.Run("failed write reverts every field", func(t *testing.T) {
		p := testProfile()
		st := &mockStore{}
		st.On("GetProfile", mock.Anything, "p1").Return(&p, nil).Once()
		st.On("UpdateProfileFields", mock.Anything, "p1", mock.Anything).
			Return(nil, errors.New("postgres: update profile p1: conn reset")).Once()
		c := cache.New[model.OpportunityPage]()
		c.Set(q, testPage())
		svc := newTestService(t, Deps{Store: st, Cache: c})

		_, err := svc.EditProfile(ctx, "p1", optimistic.Fields{
			"company_name": "Acme Two",
			"website":      "https://two.example",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conn reset")

		view, err := svc.Profile(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, p, view)
		assert.Empty(t, svc.PendingFields("p1"))
		assert.Equal(t, 1, c.Len(), "cache kept on failure")
	})

	t.Run("read-only field never persists", func(t *testing.T) {
		p := testProfile()
		st := &mockStore{}
		st.On("GetProfile", mock.Anything, "p1").Return(&p, nil).Once()
		svc := newTestService(t, Deps{Store: st})

		_, err := svc.EditProfile(ctx, "p1", optimistic.Fields{"id": "p2"})
		assert.ErrorIs(t, err, optimistic.ErrReadOnly)
		st.AssertNotCalled(t, "UpdateProfileFields", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown field never persists", func(t *testing.T) {
		p := testProfile()
		st := &mockStore{}
		st.On("GetProfile", mock.Anything, "p1").Return(&p, nil).Once()
		svc := newTestService(t, Deps{Store: st})

		_, err := svc.EditProfile(ctx, "p1", optimistic.Fields{"tagline": "fast"})
		assert.ErrorIs(t, err, ErrInvalid)
		st.AssertNotCalled(t, "UpdateProfileFields", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown profile", func(t *testing.T) {
		st := &mockStore{}
		st.On("GetProfile", mock.Anything, "nope").Return(nil, store.ErrNotFound).Once()
		svc := newTestService(t, Deps{Store: st})

		_, err := svc.EditProfile(ctx, "nope", optimistic.Fields{"website": "x"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSaveProfileResetsEditor(t *testing.T) {
	ctx := context.Background()
	p := testProfile()
	replaced := p
	replaced.CompanyName = "Replaced"

	st := &mockStore{}
	st.On("GetProfile", mock.Anything, "p1").Return(&p, nil).Once()
	st.On("SaveProfile", mock.Anything, replaced).Return(nil).Once()
	st.On("GetProfile", mock.Anything, "p1").Return(&replaced, nil).Once()
	svc := newTestService(t, Deps{Store: st})

	view, err := svc.Profile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Federal", view.CompanyName)

	require.NoError(t, svc.SaveProfile(ctx, replaced))
	view, err = svc.Profile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Replaced", view.CompanyName)
	st.AssertExpectations(t)
}

func TestRequestAnalysis(t *testing.T) {
	ctx := context.Background()

	t.Run("completes all artifacts", func(t *testing.T) {
		orch := analysis.New(&readyProvider{}, analysis.WithPollInterval(5*time.Millisecond))
		t.Cleanup(orch.Close)
		svc := newTestService(t, Deps{Orchestrator: orch})

		snap, err := svc.RequestAnalysis(ctx, "o1")
		require.NoError(t, err)
		assert.Len(t, snap.Artifacts, 3)

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		snap, err = svc.WaitAnalysis(waitCtx, "o1")
		require.NoError(t, err)
		assert.True(t, snap.Complete)
		for _, a := range snap.Artifacts {
			assert.Equal(t, analysis.StateCompleted, a.State, string(a.Type))
		}

		status, err := svc.AnalysisStatus("o1")
		require.NoError(t, err)
		assert.Equal(t, snap.Cycle, status.Cycle)
	})

	t.Run("trigger failure marks artifacts failed", func(t *testing.T) {
		orch := analysis.New(&readyProvider{triggerErr: errors.New("insights: status 400")})
		t.Cleanup(orch.Close)
		svc := newTestService(t, Deps{Orchestrator: orch})

		snap, err := svc.RequestAnalysis(ctx, "o2", string(analysis.TypeCompetitors))
		require.Error(t, err)
		a, ok := snap.Artifact(analysis.TypeCompetitors)
		require.True(t, ok)
		assert.Equal(t, analysis.StateFailed, a.State)
	})

	t.Run("invalid input", func(t *testing.T) {
		orch := analysis.New(&readyProvider{})
		t.Cleanup(orch.Close)
		svc := newTestService(t, Deps{Orchestrator: orch})

		_, err := svc.RequestAnalysis(ctx, "o3", "horoscope")
		assert.ErrorIs(t, err, ErrInvalid)
		_, err = svc.RequestAnalysis(ctx, "")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("not configured", func(t *testing.T) {
		svc := newTestService(t, Deps{})
		_, err := svc.RequestAnalysis(ctx, "o1")
		assert.ErrorIs(t, err, ErrNoOrchestrator)
		_, err = svc.AnalysisStatus("o1")
		assert.ErrorIs(t, err, ErrNoOrchestrator)
	})
}
