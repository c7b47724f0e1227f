// Package notify publishes analysis completion events to Redis subscribers.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchscore/internal/analysis"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "matchscore:analysis"

// Publisher is the subset of the go-redis client used by RedisPublisher.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Event is the JSON message published for each completion.
type Event struct {
	Type          string                            `json:"type"`
	OpportunityID string                            `json:"opportunity_id"`
	Cycle         uint64                            `json:"cycle"`
	CompletedAt   time.Time                         `json:"completed_at"`
	Artifacts     map[analysis.Type]json.RawMessage `json:"artifacts"`
}

const eventAnalysisComplete = "analysis.complete"

// RedisPublisher implements analysis.Notifier with Redis PUBLISH.
type RedisPublisher struct {
	client  Publisher
	channel string
	timeout time.Duration
}

// Option configures a RedisPublisher.
type Option func(*RedisPublisher)

// WithTimeout bounds each publish call.
func WithTimeout(d time.Duration) Option {
	return func(p *RedisPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewRedisPublisher creates a publisher on channel. An empty channel selects
// DefaultChannel.
func NewRedisPublisher(client Publisher, channel string, opts ...Option) *RedisPublisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	p := &RedisPublisher{client: client, channel: channel, timeout: 5 * time.Second}
	for _, fn := range opts {
		fn(p)
	}
	return p
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, eris.New("notify: redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "notify: ping redis %s", addr)
	}
	return rdb, nil
}

// Channel returns the channel events are published on.
func (p *RedisPublisher) Channel() string { return p.channel }

// AnalysisComplete publishes c as an Event.
func (p *RedisPublisher) AnalysisComplete(ctx context.Context, c analysis.Completion) error {
	raw, err := json.Marshal(Event{
		Type:          eventAnalysisComplete,
		OpportunityID: c.OpportunityID,
		Cycle:         c.Cycle,
		CompletedAt:   c.CompletedAt.UTC(),
		Artifacts:     c.Artifacts,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	receivers, err := p.client.Publish(ctx, p.channel, raw).Result()
	if err != nil {
		return eris.Wrapf(err, "notify: publish %s", c.OpportunityID)
	}
	zap.L().Debug("notify: published analysis completion",
		zap.String("channel", p.channel),
		zap.String("opportunity_id", c.OpportunityID),
		zap.Uint64("cycle", c.Cycle),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Multi fans a completion out to several notifiers. Every notifier is called;
// the first error is returned.
type Multi []analysis.Notifier

// AnalysisComplete calls each notifier in order.
func (m Multi) AnalysisComplete(ctx context.Context, c analysis.Completion) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.AnalysisComplete(ctx, c); err != nil && first == nil {
			first = err
		}
	}
	return first
}
