// Package narration schedules and tracks spoken step descriptions.
//
// The server never produces audio. A narrator hands each utterance to a
// Listener (the page speaks it) and decides when it is over: Timed
// estimates the speaking time on a clock, Remote waits for the page to
// report the end, Unavailable refuses to speak at all.
package narration

import (
	"errors"
	"sync"
)

type Utterance uint64

var (
	ErrUnavailable      = errors.New("narration unavailable")
	ErrUnknownUtterance = errors.New("unknown utterance")
)

type Listener interface {
	Started(u Utterance, text string)
	Cancelled()
}

type nopListener struct{}

func (nopListener) Started(Utterance, string) {}
func (nopListener) Cancelled()                {}

type pending struct {
	ended bool
	onEnd func()
	stop  func() bool
}

// tracker holds the live utterances of one narrator. An utterance leaves
// the table when its completion is delivered or when it is cancelled, so
// nothing cancelled can complete later.
type tracker struct {
	mu   sync.Mutex
	next Utterance
	live map[Utterance]*pending
}

func newTracker() *tracker {
	return &tracker{live: make(map[Utterance]*pending)}
}

func (t *tracker) open() Utterance {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	t.live[t.next] = &pending{}
	return t.next
}

func (t *tracker) setStop(u Utterance, stop func() bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.live[u]; ok {
		p.stop = stop
	}
}

// end marks u finished and runs its callback on the calling goroutine.
func (t *tracker) end(u Utterance) error {
	t.mu.Lock()
	p, ok := t.live[u]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownUtterance
	}

	fn := p.onEnd
	if fn == nil {
		p.ended = true
		t.mu.Unlock()
		return nil
	}
	delete(t.live, u)
	t.mu.Unlock()

	fn()
	return nil
}

// onEnd registers fn for u. If u already ended, fn runs on its own
// goroutine so callers may hold their locks.
func (t *tracker) onEnd(u Utterance, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.live[u]
	if !ok {
		return
	}
	if p.ended {
		delete(t.live, u)
		go fn()
		return
	}
	p.onEnd = fn
}

// cancelAll drops every live utterance and reports whether one was
// still being spoken.
func (t *tracker) cancelAll() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	speaking := false
	for u, p := range t.live {
		if !p.ended {
			speaking = true
		}
		if p.stop != nil {
			p.stop()
		}
		delete(t.live, u)
	}
	return speaking
}

func (t *tracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Unavailable is the narrator of a page without speech support.
type Unavailable struct{}

func (Unavailable) Speak(string) (Utterance, error) { return 0, ErrUnavailable }
func (Unavailable) Cancel()                         {}
func (Unavailable) OnEnd(Utterance, func())         {}
