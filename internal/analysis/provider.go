package analysis

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Provider is the external analysis service.
type Provider interface {
	// Trigger asks the provider to (re)compute the given artifacts.
	Trigger(ctx context.Context, opportunityID string, types []Type) error
	// Poll returns the payloads that finished after the per-type timestamps.
	// Types still in progress are absent or null.
	Poll(ctx context.Context, opportunityID string, since map[Type]time.Time) (map[Type]json.RawMessage, error)
}

// Completion is the consolidated event emitted once all artifacts of an
// opportunity are completed within a trigger cycle.
type Completion struct {
	OpportunityID string                   `json:"opportunity_id"`
	Cycle         uint64                   `json:"cycle"`
	CompletedAt   time.Time                `json:"completed_at"`
	Artifacts     map[Type]json.RawMessage `json:"artifacts"`
}

// Notifier receives completion events.
type Notifier interface {
	AnalysisComplete(ctx context.Context, c Completion) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, c Completion) error

// AnalysisComplete calls f.
func (f NotifierFunc) AnalysisComplete(ctx context.Context, c Completion) error {
	return f(ctx, c)
}

// LogNotifier writes completion events to the global logger.
type LogNotifier struct{}

// AnalysisComplete logs the event.
func (LogNotifier) AnalysisComplete(_ context.Context, c Completion) error {
	zap.L().Info("analysis: complete",
		zap.String("opportunity_id", c.OpportunityID),
		zap.Uint64("cycle", c.Cycle),
		zap.Time("completed_at", c.CompletedAt),
		zap.Int("artifacts", len(c.Artifacts)),
	)
	return nil
}

// Observer receives every artifact state transition.
type Observer interface {
	ObserveTransition(opportunityID string, t Type, from, to State)
}

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
