package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/scorer"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS match_scores (
	id                TEXT PRIMARY KEY,
	profile_id        TEXT NOT NULL,
	opportunity_id    TEXT NOT NULL,
	algorithm_version TEXT NOT NULL,
	config_version    TEXT NOT NULL,
	config_hash       TEXT NOT NULL,
	overall_score     INTEGER NOT NULL,
	confidence        INTEGER NOT NULL,
	rating            TEXT NOT NULL,
	categories        TEXT NOT NULL,
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS score_outcomes (
	score_id    TEXT PRIMARY KEY REFERENCES match_scores(id),
	outcome     TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_match_scores_profile ON match_scores(profile_id);
CREATE INDEX IF NOT EXISTS idx_match_scores_opportunity ON match_scores(opportunity_id);
CREATE INDEX IF NOT EXISTS idx_match_scores_created_at ON match_scores(created_at);
`

const sqliteScoreSelect = `SELECT s.id, s.profile_id, s.opportunity_id, s.algorithm_version, s.config_version,
	s.config_hash, s.overall_score, s.confidence, s.rating, s.categories, s.created_at, o.outcome
FROM match_scores s LEFT JOIN score_outcomes o ON o.score_id = s.id`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveScore(ctx context.Context, score scorer.MatchScore) error {
	r, err := rowFromScore(score)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_scores (id, profile_id, opportunity_id, algorithm_version, config_version,
			config_hash, overall_score, confidence, rating, categories, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProfileID, r.OpportunityID, r.AlgorithmVersion, r.ConfigVersion,
		r.ConfigHash, r.OverallScore, r.Confidence, r.Rating, string(r.Categories), r.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return eris.Wrapf(ErrDuplicate, "sqlite: score %s", r.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert score %s", r.ID)
	}
	if score.ActualOutcome != "" {
		if _, err := s.RecordOutcome(ctx, r.ID, score.ActualOutcome); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetScore(ctx context.Context, id string) (*scorer.MatchScore, error) {
	row := s.db.QueryRowContext(ctx, sqliteScoreSelect+` WHERE s.id = ?`, id)
	score, err := scanSQLiteScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: score %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

func (s *SQLiteStore) ListScores(ctx context.Context, filter ScoreFilter) ([]scorer.MatchScore, error) {
	var where []string
	var args []any
	if filter.ProfileID != "" {
		where = append(where, "s.profile_id = ?")
		args = append(args, filter.ProfileID)
	}
	if filter.OpportunityID != "" {
		where = append(where, "s.opportunity_id = ?")
		args = append(args, filter.OpportunityID)
	}
	if filter.ConfigVersion != "" {
		where = append(where, "s.config_version = ?")
		args = append(args, filter.ConfigVersion)
	}
	if filter.WithOutcome {
		where = append(where, "o.outcome IS NOT NULL")
	}

	query := sqliteScoreSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY s.created_at DESC, s.id LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scores")
	}
	defer rows.Close() //nolint:errcheck

	var scores []scorer.MatchScore
	for rows.Next() {
		score, err := scanSQLiteScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: iterate scores")
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, scoreID string, outcome scorer.Outcome) (*scorer.MatchScore, error) {
	if _, err := scorer.ParseOutcome(string(outcome)); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO score_outcomes (score_id, outcome, recorded_at)
		SELECT id, ?, ? FROM match_scores WHERE id = ?
		ON CONFLICT(score_id) DO UPDATE SET outcome = excluded.outcome, recorded_at = excluded.recorded_at`,
		string(outcome), s.nowFunc().UTC(), scoreID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record outcome %s", scoreID)
	}
	if err := checkRowsAffected(res, "score", scoreID); err != nil {
		return nil, err
	}
	return s.GetScore(ctx, scoreID)
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p model.Profile) error {
	if p.ID == "" {
		return eris.New("sqlite: profile id is required")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.nowFunc().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		p.ID, string(data), p.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save profile %s", p.ID)
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	return getSQLiteProfile(ctx, s.db, id)
}

// UpdateProfileFields merges updates into the stored profile inside one
// transaction and returns the committed record.
func (s *SQLiteStore) UpdateProfileFields(ctx context.Context, id string, updates optimistic.Fields) (*model.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := getSQLiteProfile(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	merged, err := mergeProfile(*current, id, updates, s.nowFunc())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal profile")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE profiles SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), merged.UpdatedAt, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update profile %s", id)
	}
	if err := checkRowsAffected(res, "profile", id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit")
	}
	return &merged, nil
}

// helpers

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLiteProfile(ctx context.Context, q queryRower, id string) (*model.Profile, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM profiles WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: profile %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %s", id)
	}
	var p model.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal profile %s", id)
	}
	return &p, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteScore(row scannable) (scorer.MatchScore, error) {
	var r scoreRow
	var categories string
	var outcome sql.NullString
	err := row.Scan(&r.ID, &r.ProfileID, &r.OpportunityID, &r.AlgorithmVersion, &r.ConfigVersion,
		&r.ConfigHash, &r.OverallScore, &r.Confidence, &r.Rating, &categories, &r.CreatedAt, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return scorer.MatchScore{}, err
	}
	if err != nil {
		return scorer.MatchScore{}, eris.Wrap(err, "sqlite: scan score")
	}
	r.Categories = []byte(categories)
	if outcome.Valid {
		r.Outcome = &outcome.String
	}
	return r.score()
}
