// Package matching composes the result cache, scorer, analysis orchestrator,
// profile editors, and store into the operations served by the CLI and API.
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
	"github.com/sells-group/matchscore/internal/store"
)

// SortMatchScore orders a search page by the computed match score instead
// of a provider field.
const SortMatchScore = "matchScore"

const (
	defaultConcurrency = 8
	accuracyPageSize   = 500
)

var (
	// ErrNoStore is returned by operations that need persistence when the
	// service was built without a store.
	ErrNoStore = eris.New("matching: store not configured")
	// ErrNoOrchestrator is returned by analysis operations when the service
	// was built without an orchestrator.
	ErrNoOrchestrator = eris.New("matching: analysis not configured")
	// ErrInvalid marks a request rejected before any side effect.
	ErrInvalid = eris.New("matching: invalid request")
)

// SearchProvider fetches one page of opportunities.
type SearchProvider interface {
	SearchOpportunities(ctx context.Context, q cache.Query) (model.OpportunityPage, error)
}

// ScoreObserver receives every computed score.
type ScoreObserver interface {
	ObserveScore(score scorer.MatchScore)
}

// Deps are the collaborators of a Service. Scorer, Cache, and Search are
// required; Store and Orchestrator enable persistence and analysis.
type Deps struct {
	Scorer       *scorer.Scorer
	Cache        *cache.Cache[model.OpportunityPage]
	Search       SearchProvider
	Store        store.Store
	Orchestrator *analysis.Orchestrator
	Observer     ScoreObserver
	// Concurrency bounds per-page scoring goroutines. Zero means 8.
	Concurrency int
}

// Service is the matching application shell.
type Service struct {
	deps Deps

	mu      sync.Mutex
	editors map[string]*optimistic.Editor[model.Profile]
}

// New validates deps and returns a Service.
func New(deps Deps) (*Service, error) {
	var missing []string
	if deps.Scorer == nil {
		missing = append(missing, "scorer")
	}
	if deps.Cache == nil {
		missing = append(missing, "cache")
	}
	if deps.Search == nil {
		missing = append(missing, "search provider")
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("matching: missing dependencies: %v", missing)
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultConcurrency
	}
	return &Service{
		deps:    deps,
		editors: make(map[string]*optimistic.Editor[model.Profile]),
	}, nil
}

// ScoredOpportunity pairs an opportunity with its match score.
type ScoredOpportunity struct {
	Opportunity model.Opportunity `json:"opportunity"`
	Score       scorer.MatchScore `json:"score"`
}

// ScoredPage is one page of search results scored against a profile.
type ScoredPage struct {
	Items     []ScoredOpportunity `json:"items"`
	Total     int                 `json:"total"`
	HasMore   bool                `json:"has_more"`
	Page      int                 `json:"page"`
	PageSize  int                 `json:"page_size"`
	Key       string              `json:"cache_key"`
	CachedAt  time.Time           `json:"cached_at"`
	FromCache bool                `json:"from_cache"`
	Stale     bool                `json:"stale"`
}

// Search returns a page of opportunities scored against profile. Pages are
// served from the result cache while valid. Sorting by matchScore reorders
// the page locally; the provider sees the query without that sort so both
// directions share one cache entry.
func (s *Service) Search(ctx context.Context, profile model.Profile, q cache.Query) (ScoredPage, error) {
	q = q.Normalize()
	pq := providerQuery(q)

	res, err := s.deps.Cache.GetOrFetch(ctx, pq, func(ctx context.Context) (model.OpportunityPage, error) {
		return s.deps.Search.SearchOpportunities(ctx, pq)
	})
	if err != nil {
		return ScoredPage{}, eris.Wrap(err, "matching: search")
	}
	if res.Stale {
		zap.L().Warn("matching: serving stale search page",
			zap.String("key", res.Key),
			zap.Time("cached_at", res.CachedAt),
			zap.Error(res.FetchErr),
		)
	}

	items, err := s.scoreAll(ctx, profile, res.Payload.Items)
	if err != nil {
		return ScoredPage{}, err
	}
	if q.Sort.Field == SortMatchScore {
		sortByScore(items, q.Sort.Direction == "asc")
	}

	return ScoredPage{
		Items:     items,
		Total:     res.Payload.Total,
		HasMore:   res.Payload.HasMore,
		Page:      q.Page,
		PageSize:  q.PageSize,
		Key:       res.Key,
		CachedAt:  res.CachedAt,
		FromCache: res.FromCache,
		Stale:     res.Stale,
	}, nil
}

func (s *Service) scoreAll(ctx context.Context, profile model.Profile, opps []model.Opportunity) ([]ScoredOpportunity, error) {
	items := make([]ScoredOpportunity, len(opps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.Concurrency)
	for i, opp := range opps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = ScoredOpportunity{Opportunity: opp, Score: s.compute(profile, opp)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "matching: score page")
	}
	return items, nil
}

func (s *Service) compute(profile model.Profile, opp model.Opportunity) scorer.MatchScore {
	score := s.deps.Scorer.Score(profile, opp)
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveScore(score)
	}
	return score
}

// Score computes the match score of profile against opp. With persist set
// the new record is saved; scores are never updated in place.
func (s *Service) Score(ctx context.Context, profile model.Profile, opp model.Opportunity, persist bool) (scorer.MatchScore, error) {
	score := s.compute(profile, opp)
	if !persist {
		return score, nil
	}
	if s.deps.Store == nil {
		return scorer.MatchScore{}, ErrNoStore
	}
	if err := s.deps.Store.SaveScore(ctx, score); err != nil {
		return scorer.MatchScore{}, eris.Wrap(err, "matching: persist score")
	}
	return score, nil
}

// ScoreProfile loads the stored profile and scores it against opp.
func (s *Service) ScoreProfile(ctx context.Context, profileID string, opp model.Opportunity, persist bool) (scorer.MatchScore, error) {
	profile, err := s.Profile(ctx, profileID)
	if err != nil {
		return scorer.MatchScore{}, err
	}
	return s.Score(ctx, profile, opp, persist)
}

// RecordOutcome attaches the actual bid outcome to a stored score.
func (s *Service) RecordOutcome(ctx context.Context, scoreID, outcome string) (*scorer.MatchScore, error) {
	if s.deps.Store == nil {
		return nil, ErrNoStore
	}
	o, err := scorer.ParseOutcome(outcome)
	if err != nil {
		return nil, invalid(err)
	}
	return s.deps.Store.RecordOutcome(ctx, scoreID, o)
}

// Accuracy reports how well stored scores predicted recorded outcomes,
// judged against the active weight configuration's thresholds.
func (s *Service) Accuracy(ctx context.Context, filter store.ScoreFilter) (scorer.AccuracyReport, error) {
	if s.deps.Store == nil {
		return scorer.AccuracyReport{}, ErrNoStore
	}
	filter.WithOutcome = true
	filter.Limit = accuracyPageSize
	filter.Offset = 0

	var all []scorer.MatchScore
	for {
		page, err := s.deps.Store.ListScores(ctx, filter)
		if err != nil {
			return scorer.AccuracyReport{}, eris.Wrap(err, "matching: list scores")
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += filter.Limit
	}
	return scorer.Accuracy(all, s.deps.Scorer.Config()), nil
}

// RequestAnalysis starts analysis of an opportunity for the named artifact
// types, or all of them when none are named.
func (s *Service) RequestAnalysis(ctx context.Context, opportunityID string, types ...string) (analysis.Snapshot, error) {
	if s.deps.Orchestrator == nil {
		return analysis.Snapshot{}, ErrNoOrchestrator
	}
	if opportunityID == "" {
		return analysis.Snapshot{}, eris.Wrap(ErrInvalid, "opportunity id is required")
	}
	parsed, err := analysis.ParseTypes(types)
	if err != nil {
		return analysis.Snapshot{}, invalid(err)
	}
	if err := s.deps.Orchestrator.Trigger(ctx, opportunityID, parsed...); err != nil {
		return s.deps.Orchestrator.Status(opportunityID), eris.Wrap(err, "matching: request analysis")
	}
	return s.deps.Orchestrator.Status(opportunityID), nil
}

// AnalysisStatus returns the current artifact snapshot for an opportunity.
func (s *Service) AnalysisStatus(opportunityID string) (analysis.Snapshot, error) {
	if s.deps.Orchestrator == nil {
		return analysis.Snapshot{}, ErrNoOrchestrator
	}
	return s.deps.Orchestrator.Status(opportunityID), nil
}

// WaitAnalysis blocks until no artifact of the opportunity is processing.
func (s *Service) WaitAnalysis(ctx context.Context, opportunityID string) (analysis.Snapshot, error) {
	if s.deps.Orchestrator == nil {
		return analysis.Snapshot{}, ErrNoOrchestrator
	}
	return s.deps.Orchestrator.Wait(ctx, opportunityID)
}

// SaveProfile stores a profile and drops any editor state held for it.
func (s *Service) SaveProfile(ctx context.Context, p model.Profile) error {
	if s.deps.Store == nil {
		return ErrNoStore
	}
	if err := s.deps.Store.SaveProfile(ctx, p); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.editors, p.ID)
	s.mu.Unlock()
	return nil
}

// Profile returns the current view of a profile, including edits that are
// still awaiting persistence.
func (s *Service) Profile(ctx context.Context, id string) (model.Profile, error) {
	ed, err := s.editor(ctx, id)
	if err != nil {
		return model.Profile{}, err
	}
	return ed.View(), nil
}

// PendingFields lists fields of a profile whose edits are in flight.
func (s *Service) PendingFields(id string) []string {
	s.mu.Lock()
	ed := s.editors[id]
	s.mu.Unlock()
	if ed == nil {
		return nil
	}
	return ed.Pending()
}

// EditProfile applies updates to the profile view immediately, persists
// them, and commits the stored record. A failed write reverts every field
// of the edit. A successful write invalidates all cached search pages.
func (s *Service) EditProfile(ctx context.Context, id string, updates optimistic.Fields) (model.Profile, error) {
	ed, err := s.editor(ctx, id)
	if err != nil {
		return model.Profile{}, err
	}
	if _, err := optimistic.MergeJSON(ed.View(), updates); err != nil {
		return model.Profile{}, invalid(err)
	}
	committed, err := ed.Submit(ctx, updates, func(ctx context.Context, _ model.Profile, updates optimistic.Fields) (model.Profile, error) {
		p, err := s.deps.Store.UpdateProfileFields(ctx, id, updates)
		if err != nil {
			return model.Profile{}, err
		}
		return *p, nil
	})
	if err != nil {
		return model.Profile{}, eris.Wrapf(err, "matching: edit profile %s", id)
	}
	dropped := s.deps.Cache.InvalidateAll()
	zap.L().Info("matching: profile updated",
		zap.String("profile_id", id),
		zap.Strings("fields", updates.Names()),
		zap.Int("cache_invalidated", dropped),
	)
	return committed, nil
}

func (s *Service) editor(ctx context.Context, id string) (*optimistic.Editor[model.Profile], error) {
	if s.deps.Store == nil {
		return nil, ErrNoStore
	}
	s.mu.Lock()
	ed, ok := s.editors[id]
	s.mu.Unlock()
	if ok {
		return ed, nil
	}

	p, err := s.deps.Store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ed, ok := s.editors[id]; ok {
		return ed, nil
	}
	ed = optimistic.NewEditor(*p, optimistic.WithReadOnly("id", "updated_at"), optimistic.WithName("profile:"+id))
	s.editors[id] = ed
	return ed, nil
}

// CacheStats exposes the result cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.deps.Cache.Stats()
}

// Weights returns the active weight configuration.
func (s *Service) Weights() scorer.WeightConfig {
	return s.deps.Scorer.Config()
}

func invalid(err error) error {
	return eris.Wrap(ErrInvalid, err.Error())
}

func providerQuery(q cache.Query) cache.Query {
	if q.Sort.Field == SortMatchScore {
		q.Sort = cache.Sort{}
	}
	return q
}

func sortByScore(items []ScoredOpportunity, asc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return items[i].Score.OverallScore < items[j].Score.OverallScore
		}
		return items[i].Score.OverallScore > items[j].Score.OverallScore
	})
}
