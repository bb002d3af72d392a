package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTour  = errors.New("invalid tour")
	ErrUnknownPanel = errors.New("unknown panel")
	ErrNoSteps      = errors.New("tour has no steps")
)

type TourStep struct {
	PanelID     string `json:"panelId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Tour is the immutable definition a player walks through. Panels lists
// every panel the host page can show; steps and the home panel must
// reference one of them.
type Tour struct {
	Name      string     `json:"name"`
	FlagName  string     `json:"flag"`
	HomePanel string     `json:"home"`
	Panels    []string   `json:"panels"`
	Steps     []TourStep `json:"steps"`
}

const DefaultFlagName = "tour_done"

// NewTour copies the definition and validates it. An empty step list is
// a valid tour that never starts.
func NewTour(name, flag, home string, panels []string, steps []TourStep) (*Tour, error) {
	t := &Tour{
		Name:      name,
		FlagName:  flag,
		HomePanel: home,
		Panels:    append([]string(nil), panels...),
		Steps:     append([]TourStep(nil), steps...),
	}
	if t.FlagName == "" {
		t.FlagName = DefaultFlagName
	}
	if t.HomePanel == "" && len(t.Steps) > 0 {
		t.HomePanel = t.Steps[0].PanelID
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tour) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTour)
	}

	known := make(map[string]struct{}, len(t.Panels))
	for _, p := range t.Panels {
		if p == "" {
			return fmt.Errorf("%w: tour %q declares an empty panel id", ErrInvalidTour, t.Name)
		}
		known[p] = struct{}{}
	}

	for i, s := range t.Steps {
		if _, ok := known[s.PanelID]; !ok {
			return fmt.Errorf("%w: tour %q step %d references %q", ErrUnknownPanel, t.Name, i, s.PanelID)
		}
	}

	if t.HomePanel != "" {
		if _, ok := known[t.HomePanel]; !ok {
			return fmt.Errorf("%w: tour %q home panel %q", ErrUnknownPanel, t.Name, t.HomePanel)
		}
	}

	return nil
}
