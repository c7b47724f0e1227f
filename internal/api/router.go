// Package api exposes the matching service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/matching"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
	"github.com/sells-group/matchscore/internal/store"
)

// Matcher is the application surface served by the router.
// *matching.Service implements it.
type Matcher interface {
	Search(ctx context.Context, profile model.Profile, q cache.Query) (matching.ScoredPage, error)
	Score(ctx context.Context, profile model.Profile, opp model.Opportunity, persist bool) (scorer.MatchScore, error)
	ScoreProfile(ctx context.Context, profileID string, opp model.Opportunity, persist bool) (scorer.MatchScore, error)
	RecordOutcome(ctx context.Context, scoreID, outcome string) (*scorer.MatchScore, error)
	Accuracy(ctx context.Context, filter store.ScoreFilter) (scorer.AccuracyReport, error)
	RequestAnalysis(ctx context.Context, opportunityID string, types ...string) (analysis.Snapshot, error)
	AnalysisStatus(opportunityID string) (analysis.Snapshot, error)
	Profile(ctx context.Context, id string) (model.Profile, error)
	PendingFields(id string) []string
	SaveProfile(ctx context.Context, p model.Profile) error
	EditProfile(ctx context.Context, id string, updates optimistic.Fields) (model.Profile, error)
	CacheStats() cache.Stats
	Weights() scorer.WeightConfig
}

// HTTPObserver records served requests, e.g. to metrics.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

// Config aggregates the router's dependencies. Only Matcher is required.
type Config struct {
	Matcher        Matcher
	AllowedOrigins []string
	Observer       HTTPObserver
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter builds the route tree.
func NewRouter(cfg Config) http.Handler {
	h := &handler{m: cfg.Matcher}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)
	if cfg.Observer != nil {
		r.Use(instrument(cfg.Observer))
	}

	r.Get("/healthz", h.health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/search", h.search)

		api.Route("/scores", func(sr chi.Router) {
			sr.Post("/", h.score)
			sr.Get("/accuracy", h.accuracy)
			sr.Post("/{scoreID}/outcome", h.recordOutcome)
		})

		api.Route("/profiles/{profileID}", func(pr chi.Router) {
			pr.Get("/", h.getProfile)
			pr.Put("/", h.putProfile)
			pr.Patch("/", h.patchProfile)
		})

		api.Route("/opportunities/{opportunityID}/analysis", func(ar chi.Router) {
			ar.Post("/", h.requestAnalysis)
			ar.Get("/", h.analysisStatus)
		})

		api.Get("/cache/stats", h.cacheStats)
		api.Get("/weights", h.weights)
	})

	return r
}

func origins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}
