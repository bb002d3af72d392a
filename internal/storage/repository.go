package storage

import (
	"context"
	"fmt"
	"time"
)

type Repository interface {
	GetFlag(ctx context.Context, userID, name string) (bool, error)

	SetFlag(ctx context.Context, userID, name string, value bool) error

	ClearFlag(ctx context.Context, userID, name string) error

	GetPreferences(ctx context.Context, userID string) (*Preferences, error)

	SavePreferences(ctx context.Context, userID string, prefs *Preferences) error

	SaveRun(ctx context.Context, record *RunRecord) error

	GetRunsByUser(ctx context.Context, userID string) ([]RunRecord, error)

	GetRecentRuns(ctx context.Context, userID string, since time.Time) ([]RunRecord, error)

	GetRunStats(ctx context.Context, userID string) (*RunStats, error)

	Close() error
}

type RunStats struct {
	TotalRuns          int     `json:"totalRuns"`
	FinishedCount      int     `json:"finishedCount"`
	CancelledCount     int     `json:"cancelledCount"`
	AverageStepsViewed float64 `json:"averageStepsViewed"`
	CompletionRate     float64 `json:"completionRate"`
}

// Open picks a repository by driver name.
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return NewSQLiteRepository(dsn)
	case "postgres", "postgresql":
		return NewPostgresRepository(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}
