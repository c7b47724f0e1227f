package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS match_scores (
	id                TEXT PRIMARY KEY,
	profile_id        TEXT NOT NULL,
	opportunity_id    TEXT NOT NULL,
	algorithm_version TEXT NOT NULL,
	config_version    TEXT NOT NULL,
	config_hash       TEXT NOT NULL,
	overall_score     INTEGER NOT NULL CHECK (overall_score BETWEEN 0 AND 100),
	confidence        INTEGER NOT NULL CHECK (confidence BETWEEN 0 AND 100),
	rating            TEXT NOT NULL,
	categories        JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS score_outcomes (
	score_id    TEXT PRIMARY KEY REFERENCES match_scores(id),
	outcome     TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_match_scores_profile ON match_scores(profile_id);
CREATE INDEX IF NOT EXISTS idx_match_scores_opportunity ON match_scores(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_match_scores_created_at ON match_scores(created_at DESC);
`

const postgresScoreSelect = `SELECT s.id, s.profile_id, s.opportunity_id, s.algorithm_version, s.config_version,
	s.config_hash, s.overall_score, s.confidence, s.rating, s.categories, s.created_at, o.outcome
FROM match_scores s LEFT JOIN score_outcomes o ON o.score_id = s.id`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveScore(ctx context.Context, score scorer.MatchScore) error {
	r, err := rowFromScore(score)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO match_scores (id, profile_id, opportunity_id, algorithm_version, config_version,
			config_hash, overall_score, confidence, rating, categories, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.ProfileID, r.OpportunityID, r.AlgorithmVersion, r.ConfigVersion,
		r.ConfigHash, r.OverallScore, r.Confidence, r.Rating, r.Categories, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: score %s", r.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: insert score %s", r.ID)
	}
	if score.ActualOutcome != "" {
		if _, err := s.RecordOutcome(ctx, r.ID, score.ActualOutcome); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) GetScore(ctx context.Context, id string) (*scorer.MatchScore, error) {
	score, err := scanPostgresScore(s.pool.QueryRow(ctx, postgresScoreSelect+` WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: score %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get score %s", id)
	}
	return &score, nil
}

func (s *PostgresStore) ListScores(ctx context.Context, filter ScoreFilter) ([]scorer.MatchScore, error) {
	query := postgresScoreSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProfileID != "" {
		query += fmt.Sprintf(` AND s.profile_id = $%d`, argIdx)
		args = append(args, filter.ProfileID)
		argIdx++
	}
	if filter.OpportunityID != "" {
		query += fmt.Sprintf(` AND s.opportunity_id = $%d`, argIdx)
		args = append(args, filter.OpportunityID)
		argIdx++
	}
	if filter.ConfigVersion != "" {
		query += fmt.Sprintf(` AND s.config_version = $%d`, argIdx)
		args = append(args, filter.ConfigVersion)
		argIdx++
	}
	if filter.WithOutcome {
		query += ` AND o.outcome IS NOT NULL`
	}
	query += ` ORDER BY s.created_at DESC, s.id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scores")
	}
	defer rows.Close()

	var scores []scorer.MatchScore
	for rows.Next() {
		score, err := scanPostgresScore(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		scores = append(scores, score)
	}
	return scores, eris.Wrap(rows.Err(), "postgres: iterate scores")
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, scoreID string, outcome scorer.Outcome) (*scorer.MatchScore, error) {
	if _, err := scorer.ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO score_outcomes (score_id, outcome, recorded_at)
		SELECT id, $2, $3 FROM match_scores WHERE id = $1
		ON CONFLICT (score_id) DO UPDATE SET outcome = EXCLUDED.outcome, recorded_at = EXCLUDED.recorded_at`,
		scoreID, string(outcome), s.nowFunc().UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record outcome %s", scoreID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: score %s", scoreID)
	}
	return s.GetScore(ctx, scoreID)
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p model.Profile) error {
	if p.ID == "" {
		return eris.New("postgres: profile id is required")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.nowFunc().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (id, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p.ID, data, p.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save profile %s", p.ID)
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return getPostgresProfile(s.pool.QueryRow(ctx, `SELECT data FROM profiles WHERE id = $1`, id), id)
}

// UpdateProfileFields locks the profile row, merges updates, and returns the
// committed record.
func (s *PostgresStore) UpdateProfileFields(ctx context.Context, id string, updates optimistic.Fields) (*model.Profile, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := getPostgresProfile(tx.QueryRow(ctx, `SELECT data FROM profiles WHERE id = $1 FOR UPDATE`, id), id)
	if err != nil {
		return nil, err
	}
	merged, err := mergeProfile(*current, id, updates, s.nowFunc())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal profile")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE profiles SET data = $1, updated_at = $2 WHERE id = $3`,
		data, merged.UpdatedAt, id,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: update profile %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit")
	}
	return &merged, nil
}

func getPostgresProfile(row pgx.Row, id string) (*model.Profile, error) {
	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: profile %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile %s", id)
	}
	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal profile %s", id)
	}
	return &p, nil
}

func scanPostgresScore(row pgx.Row) (scorer.MatchScore, error) {
	var r scoreRow
	err := row.Scan(&r.ID, &r.ProfileID, &r.OpportunityID, &r.AlgorithmVersion, &r.ConfigVersion,
		&r.ConfigHash, &r.OverallScore, &r.Confidence, &r.Rating, &r.Categories, &r.CreatedAt, &r.Outcome)
	if err != nil {
		return scorer.MatchScore{}, err
	}
	return r.score()
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
