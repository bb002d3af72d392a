package runner

import (
	"sync"

	"github.com/hperssn/tourguide/internal/domain"
	"github.com/hperssn/tourguide/internal/narration"
)

type EventType string

const (
	EventPanel         EventType = "panel"
	EventCaption       EventType = "caption"
	EventCaptionHidden EventType = "caption_hidden"
	EventActionLabel   EventType = "action_label"
	EventSpeak         EventType = "speak"
	EventSpeechCancel  EventType = "speech_cancel"
	EventFinished      EventType = "finished"
)

// Event is what the page renders. Only the fields of its type are set.
type Event struct {
	Type        EventType           `json:"type"`
	Panel       string              `json:"panel,omitempty"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Label       string              `json:"label,omitempty"`
	Utterance   narration.Utterance `json:"utterance,omitempty"`
	Text        string              `json:"text,omitempty"`
	Outcome     domain.Outcome      `json:"outcome,omitempty"`
}

// EventView is the server side of the page. It implements Panels,
// Captions, ActionControl and narration.Listener by queuing events. A
// subscriber that falls behind loses its oldest events instead of
// stalling the player, so the latest speak event is always delivered.
type EventView struct {
	mu     sync.Mutex
	events chan Event
	panel  string
	closed bool
}

func NewEventView(buffer int) *EventView {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventView{events: make(chan Event, buffer)}
}

func (v *EventView) Events() <-chan Event {
	return v.events
}

// Panel returns the panel last shown.
func (v *EventView) Panel() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.panel
}

func (v *EventView) ShowPanel(panelID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.panel == panelID {
		return
	}
	v.panel = panelID
	v.emitLocked(Event{Type: EventPanel, Panel: panelID})
}

func (v *EventView) ShowCaption(title, description string) {
	v.emit(Event{Type: EventCaption, Title: title, Description: description})
}

func (v *EventView) HideCaption() {
	v.emit(Event{Type: EventCaptionHidden})
}

func (v *EventView) SetActionLabel(label string) {
	v.emit(Event{Type: EventActionLabel, Label: label})
}

func (v *EventView) Started(u narration.Utterance, text string) {
	v.emit(Event{Type: EventSpeak, Utterance: u, Text: text})
}

func (v *EventView) Cancelled() {
	v.emit(Event{Type: EventSpeechCancel})
}

func (v *EventView) Finished(outcome domain.Outcome) {
	v.emit(Event{Type: EventFinished, Outcome: outcome})
}

// Close ends the stream. Later calls are dropped.
func (v *EventView) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.closed {
		v.closed = true
		close(v.events)
	}
}

func (v *EventView) emit(e Event) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emitLocked(e)
}

func (v *EventView) emitLocked(e Event) {
	if v.closed {
		return
	}
	for {
		select {
		case v.events <- e:
			return
		default:
		}

		select {
		case <-v.events:
		default:
		}
	}
}
