package domain

import (
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeFinished  Outcome = "finished"
	OutcomeCancelled Outcome = "cancelled"
)

// TourSession is one run of a tour. CurrentIdx only moves forward and
// Completed flips exactly once.
type TourSession struct {
	ID          string     `json:"id"`
	Tour        string     `json:"tour"`
	Steps       []TourStep `json:"steps"`
	CurrentIdx  int        `json:"currentIndex"`
	Autoplay    bool       `json:"autoplay"`
	StartedAt   time.Time  `json:"startedAt"`
	Completed   bool       `json:"completed"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
}

func NewTourSession(id string, tour *Tour, autoplay bool, now time.Time) (*TourSession, error) {
	if len(tour.Steps) == 0 {
		return nil, ErrNoSteps
	}
	if id == "" {
		id = uuid.New().String()
	}

	return &TourSession{
		ID:         id,
		Tour:       tour.Name,
		Steps:      tour.Steps,
		CurrentIdx: 0,
		Autoplay:   autoplay,
		StartedAt:  now,
	}, nil
}

func (s *TourSession) Current() TourStep {
	return s.Steps[s.CurrentIdx]
}

func (s *TourSession) IsLast() bool {
	return s.CurrentIdx == len(s.Steps)-1
}

// Next moves to the following step. It reports false, and leaves the
// index alone, when the session is on its last step or already over.
func (s *TourSession) Next() bool {
	if s.Completed || s.IsLast() {
		return false
	}
	s.CurrentIdx++
	return true
}

// Finish ends the session. Only the first call has any effect.
func (s *TourSession) Finish(outcome Outcome, at time.Time) bool {
	if s.Completed {
		return false
	}
	s.Completed = true
	s.Outcome = outcome
	s.CompletedAt = at
	return true
}

// StepsViewed counts the steps that were presented, the current one
// included.
func (s *TourSession) StepsViewed() int {
	return s.CurrentIdx + 1
}
