package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/matchscore/internal/analysis"
	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/config"
	"github.com/sells-group/matchscore/internal/matching"
	"github.com/sells-group/matchscore/internal/metrics"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/notify"
	"github.com/sells-group/matchscore/internal/resilience"
	"github.com/sells-group/matchscore/internal/scorer"
	"github.com/sells-group/matchscore/internal/store"
	"github.com/sells-group/matchscore/pkg/insights"
	"github.com/sells-group/matchscore/pkg/sam"
)

// matchEnv holds the initialized store, clients, and the matching service
// shared by the serve/score/search/analyze/outcome commands.
type matchEnv struct {
	Store        store.Store
	Metrics      *metrics.Metrics
	Cache        *cache.Cache[model.OpportunityPage]
	Orchestrator *analysis.Orchestrator // nil when analysis.base_url is unset
	Service      *matching.Service

	redis *redis.Client
}

// Close releases resources held by the environment.
func (e *matchEnv) Close() {
	if e.Orchestrator != nil {
		e.Orchestrator.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, upstream clients, and the matching service.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*matchEnv, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	weights, err := loadWeights()
	if err != nil {
		return nil, err
	}
	sc, err := scorer.New(weights, scorer.WithAlgorithmVersion(cfg.Scoring.AlgorithmVersion))
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &matchEnv{Store: st, Metrics: metrics.New()}

	cacheOpts := []cache.Option{
		cache.WithTTL(time.Duration(cfg.Cache.TTLMinutes) * time.Minute),
		cache.WithObserver(env.Metrics.Cache("search")),
	}
	if cfg.Cache.StaleFallback {
		cacheOpts = append(cacheOpts, cache.WithStaleFallback())
	}
	env.Cache = cache.New[model.OpportunityPage](cacheOpts...)

	samClient := sam.NewClient(cfg.SAM.APIKey,
		sam.WithBaseURL(cfg.SAM.BaseURL),
		sam.WithPolicy(upstreamPolicy("sam", env.Metrics, cfg.SAM.RatePerSec)),
	)
	if cfg.SAM.APIKey == "" {
		zap.L().Warn("sam.api_key not set, opportunity search will fail")
	}

	if cfg.Analysis.BaseURL != "" {
		if err := cfg.Validate("analysis"); err != nil {
			env.Close()
			return nil, err
		}
		orch, err := initOrchestrator(ctx, env)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Orchestrator = orch
	} else {
		zap.L().Debug("analysis.base_url not set, analysis requests disabled")
	}

	svc, err := matching.New(matching.Deps{
		Scorer:       sc,
		Cache:        env.Cache,
		Search:       samClient,
		Store:        st,
		Orchestrator: env.Orchestrator,
		Observer:     env.Metrics,
		Concurrency:  cfg.Scoring.Concurrency,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Service = svc

	zap.L().Info("matching service ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("weights_version", weights.Version),
		zap.String("weights_hash", weights.Hash()),
		zap.Bool("analysis", env.Orchestrator != nil),
	)
	return env, nil
}

func initOrchestrator(ctx context.Context, env *matchEnv) (*analysis.Orchestrator, error) {
	client := insights.NewClient(cfg.Analysis.BaseURL, cfg.Analysis.APIKey,
		insights.WithPolicy(upstreamPolicy("insights", env.Metrics, 0)),
	)

	notifiers := notify.Multi{analysis.LogNotifier{}}
	if cfg.Redis.Addr != "" {
		rdb, err := notify.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		env.redis = rdb
		notifiers = append(notifiers, notify.NewRedisPublisher(rdb, cfg.Redis.Channel))
		zap.L().Info("analysis completions published to redis",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("channel", cfg.Redis.Channel),
		)
	}

	return analysis.New(client, orchestratorOptions(cfg.Analysis, notifiers, env.Metrics)...), nil
}

func orchestratorOptions(ac config.AnalysisConfig, n analysis.Notifier, obs analysis.Observer) []analysis.Option {
	opts := []analysis.Option{
		analysis.WithPollInterval(ac.PollInterval()),
		analysis.WithPollTimeout(ac.PollTimeout()),
		analysis.WithMaxAttempts(ac.MaxAttempts),
		analysis.WithNotifier(n),
		analysis.WithObserver(obs),
	}
	ttls := map[analysis.Type]int{
		analysis.TypeAIInsights:       ac.TTLHours.AIInsights,
		analysis.TypeCompetitors:      ac.TTLHours.Competitors,
		analysis.TypeSimilarContracts: ac.TTLHours.SimilarContracts,
	}
	for t, hours := range ttls {
		if hours > 0 {
			opts = append(opts, analysis.WithTTL(t, time.Duration(hours)*time.Hour))
		}
	}
	return opts
}

// upstreamPolicy builds the retry, breaker, and rate-limit policy for one
// upstream service. A non-positive rate disables the limiter.
func upstreamPolicy(name string, m *metrics.Metrics, ratePerSec float64) resilience.Policy {
	p := resilience.Policy{
		Backoff: resilience.BackoffFromConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		Breaker: resilience.NewBreaker(name,
			cfg.Circuit.FailureThreshold,
			time.Duration(cfg.Circuit.ResetTimeoutSecs)*time.Second,
			resilience.WithStateHook(m.BreakerHook()),
		),
	}
	if ratePerSec > 0 {
		p.Limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return p
}

func loadWeights() (scorer.WeightConfig, error) {
	if cfg.Scoring.WeightsPath == "" {
		return scorer.DefaultWeights(), nil
	}
	return scorer.LoadWeights(cfg.Scoring.WeightsPath)
}
