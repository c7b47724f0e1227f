// Package store persists match scores, bid outcomes, and business profiles.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
)

var (
	// ErrNotFound is returned when a score or profile does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicate is returned when a score id is saved twice.
	ErrDuplicate = eris.New("store: already exists")
)

// ScoreFilter specifies criteria for listing scores.
type ScoreFilter struct {
	ProfileID     string `json:"profile_id,omitempty"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	ConfigVersion string `json:"config_version,omitempty"`
	// WithOutcome limits the list to scores that have a recorded outcome.
	WithOutcome bool `json:"with_outcome,omitempty"`
	Limit       int  `json:"limit,omitempty"`
	Offset      int  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the matching service.
type Store interface {
	// Scores are insert-only; a duplicate id is an error.
	SaveScore(ctx context.Context, score scorer.MatchScore) error
	GetScore(ctx context.Context, id string) (*scorer.MatchScore, error)
	ListScores(ctx context.Context, filter ScoreFilter) ([]scorer.MatchScore, error)

	// RecordOutcome attaches (or corrects) the actual outcome of a score
	// without touching the score row.
	RecordOutcome(ctx context.Context, scoreID string, outcome scorer.Outcome) (*scorer.MatchScore, error)

	// Profiles
	SaveProfile(ctx context.Context, p model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	UpdateProfileFields(ctx context.Context, id string, updates optimistic.Fields) (*model.Profile, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// scoreRow mirrors the match_scores table plus the joined outcome.
type scoreRow struct {
	ID               string
	ProfileID        string
	OpportunityID    string
	AlgorithmVersion string
	ConfigVersion    string
	ConfigHash       string
	OverallScore     int
	Confidence       int
	Rating           string
	Categories       []byte
	CreatedAt        time.Time
	Outcome          *string
}

func rowFromScore(s scorer.MatchScore) (scoreRow, error) {
	if s.ID == "" {
		return scoreRow{}, eris.New("store: score id is required")
	}
	cats, err := json.Marshal(s.Categories)
	if err != nil {
		return scoreRow{}, eris.Wrap(err, "store: marshal categories")
	}
	return scoreRow{
		ID:               s.ID,
		ProfileID:        s.ProfileID,
		OpportunityID:    s.OpportunityID,
		AlgorithmVersion: s.AlgorithmVersion,
		ConfigVersion:    s.ConfigVersion,
		ConfigHash:       s.ConfigHash,
		OverallScore:     s.OverallScore,
		Confidence:       s.Confidence,
		Rating:           s.Rating,
		Categories:       cats,
		CreatedAt:        s.CreatedAt.UTC(),
	}, nil
}

func (r scoreRow) score() (scorer.MatchScore, error) {
	s := scorer.MatchScore{
		ID:               r.ID,
		ProfileID:        r.ProfileID,
		OpportunityID:    r.OpportunityID,
		AlgorithmVersion: r.AlgorithmVersion,
		ConfigVersion:    r.ConfigVersion,
		ConfigHash:       r.ConfigHash,
		OverallScore:     r.OverallScore,
		Confidence:       r.Confidence,
		Rating:           r.Rating,
		CreatedAt:        r.CreatedAt.UTC(),
	}
	if len(r.Categories) > 0 {
		if err := json.Unmarshal(r.Categories, &s.Categories); err != nil {
			return scorer.MatchScore{}, eris.Wrapf(err, "store: unmarshal categories of %s", r.ID)
		}
	}
	if r.Outcome != nil {
		s.ActualOutcome = scorer.Outcome(*r.Outcome)
	}
	return s, nil
}

// mergeProfile applies field updates to a stored profile and stamps it.
func mergeProfile(current model.Profile, id string, updates optimistic.Fields, now time.Time) (model.Profile, error) {
	if v, ok := updates["id"]; ok && v != id {
		return model.Profile{}, eris.Errorf("store: profile id cannot change (%s)", id)
	}
	merged, err := optimistic.MergeJSON(current, updates)
	if err != nil {
		return model.Profile{}, eris.Wrapf(err, "store: update profile %s", id)
	}
	merged.ID = id
	merged.NAICSCodes = model.NormalizeNAICS(merged.NAICSCodes)
	merged.UpdatedAt = now.UTC()
	return merged, nil
}
