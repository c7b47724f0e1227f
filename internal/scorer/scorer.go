package scorer

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchscore/internal/model"
)

// AlgorithmVersion identifies the factor rules in this package. Bump it
// whenever a rule changes so historical scores stay auditable.
const AlgorithmVersion = "2.1.0"

// Scorer stamps identity and time onto Compute results.
type Scorer struct {
	cfg     WeightConfig
	rules   Rules
	version string
	now     func() time.Time
	newID   func() string
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithRules replaces the rule set.
func WithRules(r Rules) Option {
	return func(s *Scorer) { s.rules = r }
}

// WithClock sets the time source used for CreatedAt and deadline scoring.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// WithIDFunc sets the score ID generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Scorer) { s.newID = fn }
}

// WithAlgorithmVersion overrides the recorded algorithm version.
func WithAlgorithmVersion(v string) Option {
	return func(s *Scorer) {
		if v != "" {
			s.version = v
		}
	}
}

// New creates a Scorer. The configuration is copied and validated once here
// and never renormalized.
func New(cfg WeightConfig, opts ...Option) (*Scorer, error) {
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "scorer: new")
	}
	s := &Scorer{
		cfg:     cfg,
		rules:   DefaultRules(nil),
		version: AlgorithmVersion,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns a copy of the weight configuration in use.
func (s *Scorer) Config() WeightConfig { return s.cfg.Clone() }

// Score computes a new MatchScore record.
func (s *Scorer) Score(p model.Profile, o model.Opportunity) MatchScore {
	now := s.now().UTC()
	ms := Compute(p, o, s.cfg, s.rules, now)
	ms.ID = s.newID()
	ms.AlgorithmVersion = s.version
	ms.CreatedAt = now

	zap.L().Debug("scorer: scored opportunity",
		zap.String("profile_id", p.ID),
		zap.String("opportunity_id", o.ID),
		zap.Int("score", ms.OverallScore),
		zap.Int("confidence", ms.Confidence),
		zap.String("config_version", ms.ConfigVersion),
	)
	return ms
}
