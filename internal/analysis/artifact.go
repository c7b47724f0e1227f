// Package analysis tracks the three independently completing analysis
// artifacts of an opportunity and polls the analysis provider until each is
// completed or its polling budget runs out.
package analysis

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Type names an analysis artifact.
type Type string

// Artifact types produced by the analysis provider.
const (
	TypeAIInsights       Type = "aiInsights"
	TypeCompetitors      Type = "competitors"
	TypeSimilarContracts Type = "similarContracts"
)

// Default freshness windows per artifact type.
const (
	DefaultAIInsightsTTL       = 24 * time.Hour
	DefaultCompetitorsTTL      = 6 * time.Hour
	DefaultSimilarContractsTTL = 6 * time.Hour
)

// AllTypes returns every artifact type in display order.
func AllTypes() []Type {
	return []Type{TypeAIInsights, TypeCompetitors, TypeSimilarContracts}
}

// Valid reports whether t is a known artifact type.
func (t Type) Valid() bool {
	switch t {
	case TypeAIInsights, TypeCompetitors, TypeSimilarContracts:
		return true
	}
	return false
}

// ParseTypes validates artifact type names. An empty list selects all types.
func ParseTypes(names []string) ([]Type, error) {
	if len(names) == 0 {
		return AllTypes(), nil
	}
	seen := make(map[Type]bool, len(names))
	var out []Type
	for _, n := range names {
		t := Type(n)
		if !t.Valid() {
			return nil, eris.Errorf("analysis: unknown artifact type %q", n)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// DefaultTTLs returns the freshness window for each artifact type.
func DefaultTTLs() map[Type]time.Duration {
	return map[Type]time.Duration{
		TypeAIInsights:       DefaultAIInsightsTTL,
		TypeCompetitors:      DefaultCompetitorsTTL,
		TypeSimilarContracts: DefaultSimilarContractsTTL,
	}
}

// State is the lifecycle position of an artifact.
type State string

// Artifact states.
const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no poll task is waiting on the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind separates a rejected request from a poll budget that ran out
// while the provider may still be working.
type FailureKind string

// Failure kinds.
const (
	FailureRequest   FailureKind = "request"
	FailureExhausted FailureKind = "exhausted"
)

// Artifact is one of Pending, Processing, Completed or Failed. Status and
// payload travel together so neither can be observed without the other.
type Artifact interface {
	State() State
	artifact()
}

// Pending is an artifact that has never been requested.
type Pending struct{}

// Processing is an artifact requested in Cycle and not yet delivered.
type Processing struct {
	Cycle     uint64
	StartedAt time.Time
}

// Completed holds a delivered payload and when it was received.
type Completed struct {
	Cycle    uint64
	Data     json.RawMessage
	CachedAt time.Time
}

// Failed is a terminal failure for the attempt made in Cycle. A later
// trigger starts a new attempt.
type Failed struct {
	Cycle    uint64
	Kind     FailureKind
	Reason   string
	FailedAt time.Time
}

func (Pending) State() State    { return StatePending }
func (Processing) State() State { return StateProcessing }
func (Completed) State() State  { return StateCompleted }
func (Failed) State() State     { return StateFailed }

func (Pending) artifact()    {}
func (Processing) artifact() {}
func (Completed) artifact()  {}
func (Failed) artifact()     {}

// ArtifactStatus is the externally visible view of an artifact. Stale is
// derived at read time and never changes State.
type ArtifactStatus struct {
	Type        Type            `json:"type"`
	State       State           `json:"state"`
	Cycle       uint64          `json:"cycle,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CachedAt    *time.Time      `json:"cached_at,omitempty"`
	Stale       bool            `json:"stale"`
	Data        json.RawMessage `json:"data,omitempty"`
	FailureKind FailureKind     `json:"failure_kind,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// Snapshot is the status of every artifact of one opportunity.
type Snapshot struct {
	OpportunityID string           `json:"opportunity_id"`
	Cycle         uint64           `json:"cycle"`
	Artifacts     []ArtifactStatus `json:"artifacts"`
	Complete      bool             `json:"complete"`
	Polling       bool             `json:"polling"`
}

// Artifact returns the status for one type from the snapshot.
func (s Snapshot) Artifact(t Type) (ArtifactStatus, bool) {
	for _, a := range s.Artifacts {
		if a.Type == t {
			return a, true
		}
	}
	return ArtifactStatus{}, false
}

func statusOf(t Type, a Artifact, now time.Time, ttl time.Duration) ArtifactStatus {
	st := ArtifactStatus{Type: t, State: a.State()}
	switch v := a.(type) {
	case Processing:
		st.Cycle = v.Cycle
		startedAt := v.StartedAt
		st.StartedAt = &startedAt
	case Completed:
		st.Cycle = v.Cycle
		cachedAt := v.CachedAt
		st.CachedAt = &cachedAt
		st.Data = v.Data
		st.Stale = now.Sub(v.CachedAt) >= ttl
	case Failed:
		st.Cycle = v.Cycle
		st.FailureKind = v.Kind
		st.Reason = v.Reason
	}
	return st
}
