package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/scorer"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return newTestSQLite(t).(*SQLiteStore)
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_OutcomeDoesNotRewriteScoreRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow)))

	var before string
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT categories FROM match_scores WHERE id = ?`, "s1").Scan(&before))

	_, err := st.RecordOutcome(ctx, "s1", scorer.OutcomeWon)
	require.NoError(t, err)

	var after string
	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT categories FROM match_scores WHERE id = ?`, "s1").Scan(&after))
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT count(*) FROM score_outcomes`).Scan(&n))
	assert.Equal(t, before, after)
	assert.Equal(t, 1, n)
}

func TestSQLite_OutcomeRecordedAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow)))

	st.nowFunc = func() time.Time { return storeNow.Add(72 * time.Hour) }
	_, err := st.RecordOutcome(ctx, "s1", scorer.OutcomeWithdrawn)
	require.NoError(t, err)

	var recorded time.Time
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT recorded_at FROM score_outcomes WHERE score_id = ?`, "s1").Scan(&recorded))
	assert.True(t, storeNow.Add(72*time.Hour).Equal(recorded))
}

func TestSQLite_ListScoresNegativeOffset(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveScore(ctx, testScore("s1", "p1", "o1", storeNow)))

	scores, err := st.ListScores(ctx, ScoreFilter{Offset: -5})
	require.NoError(t, err)
	assert.Len(t, scores, 1)
}

func TestSQLite_ProfileDefaultsUpdatedAt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := testProfile()
	p.UpdatedAt = time.Time{}
	require.NoError(t, st.SaveProfile(ctx, p))

	got, err := st.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, storeNow.Equal(got.UpdatedAt))
}

func TestSQLite_OpenBadPath(t *testing.T) {
	_, err := NewSQLite("/nonexistent/dir/test.db")
	assert.Error(t, err)
}
