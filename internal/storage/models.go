package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/hperssn/tourguide/internal/domain"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

var ErrInvalidTheme = errors.New("invalid theme")

// Preferences are the page toggles. Sound also decides whether tours are
// narrated.
type Preferences struct {
	Theme   Theme `json:"theme"`
	Sound   bool  `json:"sound"`
	Vibrate bool  `json:"vibrate"`
}

func DefaultPreferences() *Preferences {
	return &Preferences{
		Theme:   ThemeLight,
		Sound:   true,
		Vibrate: true,
	}
}

func (p *Preferences) Validate() error {
	switch p.Theme {
	case ThemeLight, ThemeDark:
		return nil
	default:
		return ErrInvalidTheme
	}
}

type RunRecord struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Tour        string         `json:"tour"`
	Outcome     domain.Outcome `json:"outcome"`
	Autoplay    bool           `json:"autoplay"`
	StepsTotal  int            `json:"stepsTotal"`
	StepsViewed int            `json:"stepsViewed"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Steps       []StepRecord   `json:"steps"`
}

type StepRecord struct {
	Index   int    `json:"index"`
	PanelID string `json:"panelId"`
	Viewed  bool   `json:"viewed"`
}

// FromTourSession converts an ended domain.TourSession to a RunRecord
func FromTourSession(s domain.TourSession, userID string) *RunRecord {
	steps := make([]StepRecord, len(s.Steps))
	for i, step := range s.Steps {
		steps[i] = StepRecord{
			Index:   i,
			PanelID: step.PanelID,
			Viewed:  i <= s.CurrentIdx,
		}
	}

	completedAt := s.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	return &RunRecord{
		ID:          s.ID,
		UserID:      userID,
		Tour:        s.Tour,
		Outcome:     s.Outcome,
		Autoplay:    s.Autoplay,
		StepsTotal:  len(s.Steps),
		StepsViewed: s.StepsViewed(),
		StartedAt:   s.StartedAt,
		CompletedAt: completedAt,
		Steps:       steps,
	}
}

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	var records []RunRecord

	for rows.Next() {
		var record RunRecord
		var stepsJSON string

		err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.Tour,
			&record.Outcome,
			&record.Autoplay,
			&record.StepsTotal,
			&record.StepsViewed,
			&record.StartedAt,
			&record.CompletedAt,
			&stepsJSON,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(stepsJSON), &record.Steps); err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func scanStats(row *sql.Row) (*RunStats, error) {
	var stats RunStats
	var finished, cancelled sql.NullInt64
	var avgViewed sql.NullFloat64

	err := row.Scan(
		&stats.TotalRuns,
		&finished,
		&cancelled,
		&avgViewed,
	)
	if err != nil {
		return nil, err
	}

	stats.FinishedCount = int(finished.Int64)
	stats.CancelledCount = int(cancelled.Int64)
	if avgViewed.Valid {
		stats.AverageStepsViewed = avgViewed.Float64
	}
	if stats.TotalRuns > 0 {
		stats.CompletionRate = float64(stats.FinishedCount) / float64(stats.TotalRuns) * 100
	}

	return &stats, nil
}
