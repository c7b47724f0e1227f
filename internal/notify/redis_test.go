package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/analysis"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
	deadline bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.messages = append(f.messages, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(2, nil)
}

func completion() analysis.Completion {
	return analysis.Completion{
		OpportunityID: "opp-1",
		Cycle:         3,
		CompletedAt:   time.Date(2025, 3, 1, 9, 0, 45, 0, time.UTC),
		Artifacts: map[analysis.Type]json.RawMessage{
			analysis.TypeAIInsights:       json.RawMessage(`{"summary":"strong fit"}`),
			analysis.TypeCompetitors:      json.RawMessage(`[]`),
			analysis.TypeSimilarContracts: json.RawMessage(`[{"piid":"W91"}]`),
		},
	}
}

func TestRedisPublisher_AnalysisComplete(t *testing.T) {
	fp := &fakePublisher{}
	p := NewRedisPublisher(fp, "analysis-events")

	require.NoError(t, p.AnalysisComplete(context.Background(), completion()))

	require.Len(t, fp.messages, 1)
	assert.Equal(t, "analysis-events", fp.messages[0].channel)
	assert.True(t, fp.deadline, "publish is bounded by a timeout")

	var ev Event
	require.NoError(t, json.Unmarshal(fp.messages[0].payload, &ev))
	assert.Equal(t, "analysis.complete", ev.Type)
	assert.Equal(t, "opp-1", ev.OpportunityID)
	assert.Equal(t, uint64(3), ev.Cycle)
	assert.Len(t, ev.Artifacts, 3)
	assert.JSONEq(t, `{"summary":"strong fit"}`, string(ev.Artifacts[analysis.TypeAIInsights]))
}

func TestRedisPublisher_DefaultChannel(t *testing.T) {
	p := NewRedisPublisher(&fakePublisher{}, "  ")
	assert.Equal(t, DefaultChannel, p.Channel())
}

func TestRedisPublisher_PublishError(t *testing.T) {
	fp := &fakePublisher{err: errors.New("connection refused")}
	p := NewRedisPublisher(fp, "", WithTimeout(time.Second))

	err := p.AnalysisComplete(context.Background(), completion())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify: publish opp-1")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMulti(t *testing.T) {
	var calls []string
	record := func(name string, err error) analysis.Notifier {
		return analysis.NotifierFunc(func(context.Context, analysis.Completion) error {
			calls = append(calls, name)
			return err
		})
	}
	m := Multi{record("a", nil), nil, record("b", errors.New("b failed")), record("c", errors.New("c failed"))}

	err := m.AnalysisComplete(context.Background(), completion())
	require.Error(t, err)
	assert.Equal(t, "b failed", err.Error())
	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestDialRequiresAddr(t *testing.T) {
	_, err := Dial(context.Background(), "")
	assert.Error(t, err)
}
