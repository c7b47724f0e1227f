// Package monitoring periodically checks prediction accuracy and cache
// health and posts webhook alerts when they degrade.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/scorer"
	"github.com/sells-group/matchscore/internal/store"
)

// collectPageSize is the page size used when walking recorded outcomes.
const collectPageSize = 500

// Snapshot is a point-in-time view of scoring quality and cache health.
type Snapshot struct {
	Accuracy scorer.AccuracyReport `json:"accuracy"`

	CacheEntries int     `json:"cache_entries"`
	CacheLookups int64   `json:"cache_lookups"`
	CacheHitRate float64 `json:"cache_hit_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ScoreLister is the store method the collector reads outcomes through.
type ScoreLister interface {
	ListScores(ctx context.Context, filter store.ScoreFilter) ([]scorer.MatchScore, error)
}

// Collector gathers snapshots from the store and the result cache.
type Collector struct {
	scores  ScoreLister
	weights scorer.WeightConfig
	stats   func() cache.Stats

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCollector creates a collector. stats may be nil when no cache is
// running in this process.
func NewCollector(scores ScoreLister, weights scorer.WeightConfig, stats func() cache.Stats) *Collector {
	return &Collector{scores: scores, weights: weights, stats: stats, nowFunc: time.Now}
}

// Collect builds a snapshot over scores created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.nowFunc().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var window []scorer.MatchScore
	for offset := 0; ; offset += collectPageSize {
		page, err := c.scores.ListScores(ctx, store.ScoreFilter{
			WithOutcome: true,
			Limit:       collectPageSize,
			Offset:      offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list scores")
		}
		done := len(page) < collectPageSize
		for _, s := range page {
			// Newest first: the first score before the cutoff ends the walk.
			if s.CreatedAt.Before(cutoff) {
				done = true
				break
			}
			window = append(window, s)
		}
		if done {
			break
		}
	}
	snap.Accuracy = scorer.Accuracy(window, c.weights)

	if c.stats != nil {
		st := c.stats()
		snap.CacheEntries = st.Entries
		snap.CacheLookups = st.Hits + st.Misses
		snap.CacheHitRate = st.HitRate
	}
	return snap, nil
}
