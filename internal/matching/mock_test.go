package matching

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
	"github.com/sells-group/matchscore/internal/store"
)

// --- Search Mock ---

type mockSearch struct {
	mock.Mock
}

func (m *mockSearch) SearchOpportunities(ctx context.Context, q cache.Query) (model.OpportunityPage, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(model.OpportunityPage), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveScore(ctx context.Context, score scorer.MatchScore) error {
	return m.Called(ctx, score).Error(0)
}

func (m *mockStore) GetScore(ctx context.Context, id string) (*scorer.MatchScore, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scorer.MatchScore), args.Error(1)
}

func (m *mockStore) ListScores(ctx context.Context, filter store.ScoreFilter) ([]scorer.MatchScore, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]scorer.MatchScore), args.Error(1)
}

func (m *mockStore) RecordOutcome(ctx context.Context, scoreID string, outcome scorer.Outcome) (*scorer.MatchScore, error) {
	args := m.Called(ctx, scoreID, outcome)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scorer.MatchScore), args.Error(1)
}

func (m *mockStore) SaveProfile(ctx context.Context, p model.Profile) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockStore) UpdateProfileFields(ctx context.Context, id string, updates optimistic.Fields) (*model.Profile, error) {
	args := m.Called(ctx, id, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Profile), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

// --- Analysis provider stub ---

// readyProvider completes every artifact on the first poll.
type readyProvider struct {
	triggerErr error
}

func (p *readyProvider) Trigger(context.Context, string, []analysis.Type) error {
	return p.triggerErr
}

func (p *readyProvider) Poll(_ context.Context, _ string, since map[analysis.Type]time.Time) (map[analysis.Type]json.RawMessage, error) {
	out := make(map[analysis.Type]json.RawMessage, len(since))
	for t := range since {
		out[t] = json.RawMessage(`{"summary":"ready"}`)
	}
	return out, nil
}
