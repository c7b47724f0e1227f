package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
)

var storeNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	s.nowFunc = func() time.Time { return storeNow }
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testScore(id, profileID, oppID string, created time.Time) scorer.MatchScore {
	return scorer.MatchScore{
		ID:               id,
		ProfileID:        profileID,
		OpportunityID:    oppID,
		AlgorithmVersion: "2.1.0",
		ConfigVersion:    "2025-01",
		ConfigHash:       "abc123",
		OverallScore:     82,
		Confidence:       90,
		Rating:           "excellent",
		Categories: map[string]scorer.CategoryResult{
			"capability": {
				Score:  0.9,
				Weight: 0.4,
				Factors: []scorer.FactorResult{
					{Factor: "naics", RawScore: 1, Weight: 0.6, Explanation: "primary NAICS match"},
					{Factor: "keywords", RawScore: 0.75, Weight: 0.4, Explanation: "3 of 4 keywords"},
				},
			},
		},
		CreatedAt: created,
	}
}

func testProfile() model.Profile {
	return model.Profile{
		ID:          "p1",
		CompanyName: "Acme Federal",
		Website:     "https://acme.example",
		NAICSCodes:  []string{"541512"},
		UpdatedAt:   storeNow.Add(-time.Hour),
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndGetScore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := testScore("s1", "p1", "o1", storeNow)
		require.NoError(t, s.SaveScore(ctx, want))

		got, err := s.GetScore(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.ProfileID, got.ProfileID)
		assert.Equal(t, want.ConfigHash, got.ConfigHash)
		assert.Equal(t, 82, got.OverallScore)
		assert.Equal(t, 90, got.Confidence)
		assert.Equal(t, "excellent", got.Rating)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		assert.Empty(t, got.ActualOutcome)

		require.Contains(t, got.Categories, "capability")
		cat := got.Categories["capability"]
		assert.InDelta(t, 0.9, cat.Score, 1e-9)
		require.Len(t, cat.Factors, 2)
		assert.Equal(t, "naics", cat.Factors[0].Factor)
		assert.InDelta(t, 0.3, cat.Factors[1].Contribution(), 1e-9)
	})

	t.Run("SaveScoreTwiceFails", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow)))
		err := s.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("SaveScoreRequiresID", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.SaveScore(context.Background(), testScore("", "p1", "o1", storeNow)))
	})

	t.Run("GetScoreNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetScore(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListScores", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow.Add(-2*time.Hour))))
		require.NoError(t, s.SaveScore(ctx, testScore("s2", "p1", "o2", storeNow.Add(-time.Hour))))
		require.NoError(t, s.SaveScore(ctx, testScore("s3", "p2", "o1", storeNow)))
		_, err := s.RecordOutcome(ctx, "s1", scorer.OutcomeWon)
		require.NoError(t, err)

		tests := []struct {
			name   string
			filter ScoreFilter
			want   []string
		}{
			{"all newest first", ScoreFilter{}, []string{"s3", "s2", "s1"}},
			{"by profile", ScoreFilter{ProfileID: "p1"}, []string{"s2", "s1"}},
			{"by opportunity", ScoreFilter{OpportunityID: "o1"}, []string{"s3", "s1"}},
			{"with outcome", ScoreFilter{WithOutcome: true}, []string{"s1"}},
			{"limit", ScoreFilter{Limit: 2}, []string{"s3", "s2"}},
			{"offset", ScoreFilter{Limit: 2, Offset: 2}, []string{"s1"}},
			{"config version", ScoreFilter{ConfigVersion: "2024-12"}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				scores, err := s.ListScores(ctx, tt.filter)
				require.NoError(t, err)
				var ids []string
				for _, sc := range scores {
					ids = append(ids, sc.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})

	t.Run("RecordOutcome", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		original := testScore("s1", "p1", "o1", storeNow)
		require.NoError(t, s.SaveScore(ctx, original))

		got, err := s.RecordOutcome(ctx, "s1", scorer.OutcomeLost)
		require.NoError(t, err)
		assert.Equal(t, scorer.OutcomeLost, got.ActualOutcome)

		got, err = s.RecordOutcome(ctx, "s1", scorer.OutcomeWon)
		require.NoError(t, err)
		assert.Equal(t, scorer.OutcomeWon, got.ActualOutcome, "a later outcome corrects the earlier one")
		assert.Equal(t, original.OverallScore, got.OverallScore)
		assert.Equal(t, original.ConfigHash, got.ConfigHash)
	})

	t.Run("RecordOutcomeErrors", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow)))

		_, err := s.RecordOutcome(ctx, "missing", scorer.OutcomeWon)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.RecordOutcome(ctx, "s1", scorer.Outcome("maybe"))
		assert.Error(t, err)
	})

	t.Run("SaveScoreWithOutcome", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		sc := testScore("s1", "p1", "o1", storeNow).WithOutcome(scorer.OutcomeNoBid)
		require.NoError(t, s.SaveScore(ctx, sc))

		got, err := s.GetScore(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, scorer.OutcomeNoBid, got.ActualOutcome)
	})

	t.Run("SaveAndGetProfile", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p := testProfile()
		require.NoError(t, s.SaveProfile(ctx, p))
		got, err := s.GetProfile(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, p.CompanyName, got.CompanyName)
		assert.Equal(t, p.NAICSCodes, got.NAICSCodes)

		p.CompanyName = "Acme Federal LLC"
		require.NoError(t, s.SaveProfile(ctx, p))
		got, err = s.GetProfile(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Acme Federal LLC", got.CompanyName)

		_, err = s.GetProfile(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Error(t, s.SaveProfile(ctx, model.Profile{}))
	})

	t.Run("UpdateProfileFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.SaveProfile(ctx, testProfile()))

		got, err := s.UpdateProfileFields(ctx, "p1", optimistic.Fields{
			"website":     "https://acmefed.example",
			"naics_codes": []string{"541-519", "541512", "541512"},
		})
		require.NoError(t, err)
		assert.Equal(t, "https://acmefed.example", got.Website)
		assert.Equal(t, "Acme Federal", got.CompanyName)
		assert.Equal(t, []string{"541519", "541512"}, got.NAICSCodes)
		assert.True(t, storeNow.Equal(got.UpdatedAt))

		stored, err := s.GetProfile(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, got.Website, stored.Website)
		assert.Equal(t, got.NAICSCodes, stored.NAICSCodes)
	})

	t.Run("UpdateProfileFieldsErrors", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.SaveProfile(ctx, testProfile()))

		tests := []struct {
			name     string
			id       string
			updates  optimistic.Fields
			notFound bool
		}{
			{"unknown field", "p1", optimistic.Fields{"tagline": "fast"}, false},
			{"id change", "p1", optimistic.Fields{"id": "p2"}, false},
			{"missing profile", "p9", optimistic.Fields{"website": "x"}, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.UpdateProfileFields(ctx, tt.id, tt.updates)
				require.Error(t, err)
				if tt.notFound {
					assert.ErrorIs(t, err, ErrNotFound)
				}
			})
		}

		stored, err := s.GetProfile(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "https://acme.example", stored.Website, "failed updates leave the row untouched")
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
