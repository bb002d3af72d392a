package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(connStr string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	repo := &PostgresRepository{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *PostgresRepository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flags (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value BOOLEAN NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		theme TEXT NOT NULL,
		sound BOOLEAN NOT NULL,
		vibrate BOOLEAN NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tour_runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tour TEXT NOT NULL,
		outcome TEXT NOT NULL,
		autoplay BOOLEAN NOT NULL,
		steps_total INTEGER NOT NULL,
		steps_viewed INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL,
		steps_json JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_user_id ON tour_runs(user_id);
	CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON tour_runs(completed_at);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *PostgresRepository) GetFlag(ctx context.Context, userID, name string) (bool, error) {
	var value bool
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM flags WHERE user_id = $1 AND name = $2`,
		userID, name,
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return value, err
}

func (r *PostgresRepository) SetFlag(ctx context.Context, userID, name string, value bool) error {
	query := `
		INSERT INTO flags (user_id, name, value, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, userID, name, value, time.Now())
	return err
}

func (r *PostgresRepository) ClearFlag(ctx context.Context, userID, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM flags WHERE user_id = $1 AND name = $2`, userID, name)
	return err
}

func (r *PostgresRepository) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var prefs Preferences
	err := r.db.QueryRowContext(ctx,
		`SELECT theme, sound, vibrate FROM preferences WHERE user_id = $1`,
		userID,
	).Scan(&prefs.Theme, &prefs.Sound, &prefs.Vibrate)

	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (r *PostgresRepository) SavePreferences(ctx context.Context, userID string, prefs *Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO preferences (user_id, theme, sound, vibrate, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			theme = EXCLUDED.theme,
			sound = EXCLUDED.sound,
			vibrate = EXCLUDED.vibrate,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, userID, prefs.Theme, prefs.Sound, prefs.Vibrate, time.Now())
	return err
}

func (r *PostgresRepository) SaveRun(ctx context.Context, record *RunRecord) error {
	stepsJSON, err := json.Marshal(record.Steps)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tour_runs (id, user_id, tour, outcome, autoplay, steps_total, steps_viewed, started_at, completed_at, steps_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx,
		query,
		record.ID,
		record.UserID,
		record.Tour,
		record.Outcome,
		record.Autoplay,
		record.StepsTotal,
		record.StepsViewed,
		record.StartedAt,
		record.CompletedAt,
		string(stepsJSON),
	)

	return err
}

func (r *PostgresRepository) GetRunsByUser(ctx context.Context, userID string) ([]RunRecord, error) {
	query := `
		SELECT id, user_id, tour, outcome, autoplay, steps_total, steps_viewed, started_at, completed_at, steps_json
		FROM tour_runs
		WHERE user_id = $1
		ORDER BY completed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (r *PostgresRepository) GetRecentRuns(ctx context.Context, userID string, since time.Time) ([]RunRecord, error) {
	query := `
		SELECT id, user_id, tour, outcome, autoplay, steps_total, steps_viewed, started_at, completed_at, steps_json
		FROM tour_runs
		WHERE user_id = $1 AND completed_at >= $2
		ORDER BY completed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRuns(rows)
}

func (r *PostgresRepository) GetRunStats(ctx context.Context, userID string) (*RunStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN outcome = 'finished' THEN 1 ELSE 0 END) as finished,
			SUM(CASE WHEN outcome = 'cancelled' THEN 1 ELSE 0 END) as cancelled,
			AVG(steps_viewed) as avg_viewed
		FROM tour_runs
		WHERE user_id = $1
	`

	return scanStats(r.db.QueryRowContext(ctx, query, userID))
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
