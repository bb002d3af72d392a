package runner

import (
	"context"

	"github.com/hperssn/tourguide/internal/narration"
)

// Panels switches the visible panel of the host page. Exactly one panel
// is visible afterwards and showing the current panel again is a no-op.
type Panels interface {
	ShowPanel(panelID string)
}

// Captions owns the tour overlay text.
type Captions interface {
	ShowCaption(title, description string)
	HideCaption()
}

// ActionControl is the page's primary action button.
type ActionControl interface {
	SetActionLabel(label string)
}

// Narrator speaks step descriptions. After Cancel returns, no completion
// registered through OnEnd fires for an utterance started before it.
type Narrator interface {
	Speak(text string) (narration.Utterance, error)
	Cancel()
	OnEnd(u narration.Utterance, fn func())
}

type FlagStore interface {
	GetFlag(ctx context.Context, name string) (bool, error)
	SetFlag(ctx context.Context, name string, value bool) error
}
