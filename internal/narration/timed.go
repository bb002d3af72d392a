package narration

import (
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultWordsPerMinute = 160
	DefaultMinDuration    = time.Second
)

// Timed ends each utterance after the time a speaker would need to read
// it aloud.
type Timed struct {
	*tracker

	clock    clockwork.Clock
	wpm      int
	min      time.Duration
	listener Listener
}

func NewTimed(clock clockwork.Clock, wordsPerMinute int, minDuration time.Duration, l Listener) *Timed {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	if l == nil {
		l = nopListener{}
	}

	return &Timed{
		tracker:  newTracker(),
		clock:    clock,
		wpm:      wordsPerMinute,
		min:      minDuration,
		listener: l,
	}
}

// Duration estimates how long text takes to speak.
func (n *Timed) Duration(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(float64(words) / float64(n.wpm) * float64(time.Minute))
	if d < n.min {
		return n.min
	}
	return d
}

func (n *Timed) Speak(text string) (Utterance, error) {
	u := n.open()
	timer := n.clock.AfterFunc(n.Duration(text), func() { _ = n.end(u) })
	n.setStop(u, timer.Stop)

	n.listener.Started(u, text)
	return u, nil
}

func (n *Timed) Cancel() {
	if n.cancelAll() {
		n.listener.Cancelled()
	}
}

func (n *Timed) OnEnd(u Utterance, fn func()) {
	n.onEnd(u, fn)
}
