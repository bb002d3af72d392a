package runner_test

import (
	"context"
	"sync"

	"github.com/hperssn/tourguide/internal/narration"
)

type fakeUI struct {
	mu       sync.Mutex
	visible  string
	panels   []string
	captions []string
	hidden   int
	labels   []string
}

func (u *fakeUI) ShowPanel(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.visible == id {
		return
	}
	u.visible = id
	u.panels = append(u.panels, id)
}

func (u *fakeUI) ShowCaption(title, _ string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.captions = append(u.captions, title)
}

func (u *fakeUI) HideCaption() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hidden++
}

func (u *fakeUI) SetActionLabel(label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.labels = append(u.labels, label)
}

func (u *fakeUI) Visible() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.visible
}

func (u *fakeUI) Panels() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.panels...)
}

func (u *fakeUI) LastLabel() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.labels) == 0 {
		return ""
	}
	return u.labels[len(u.labels)-1]
}

func (u *fakeUI) Hidden() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hidden
}

// fakeNarrator completes utterances only when the test says so. With
// leaky set it keeps callbacks across Cancel, like a narrator that loses
// the race between cancellation and completion.
type fakeNarrator struct {
	mu        sync.Mutex
	leaky     bool
	fail      error
	next      narration.Utterance
	ops       []string
	callbacks map[narration.Utterance]func()
}

func newFakeNarrator() *fakeNarrator {
	return &fakeNarrator{callbacks: make(map[narration.Utterance]func())}
}

func (n *fakeNarrator) Speak(text string) (narration.Utterance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fail != nil {
		n.ops = append(n.ops, "fail:"+text)
		return 0, n.fail
	}
	n.next++
	n.ops = append(n.ops, "speak:"+text)
	return n.next, nil
}

func (n *fakeNarrator) Cancel() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.ops = append(n.ops, "cancel")
	if !n.leaky {
		n.callbacks = make(map[narration.Utterance]func())
	}
}

func (n *fakeNarrator) OnEnd(u narration.Utterance, fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks[u] = fn
}

// finish delivers u's completion on the calling goroutine.
func (n *fakeNarrator) finish(u narration.Utterance) bool {
	n.mu.Lock()
	fn, ok := n.callbacks[u]
	delete(n.callbacks, u)
	n.mu.Unlock()

	if ok {
		fn()
	}
	return ok
}

func (n *fakeNarrator) Ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ops...)
}

type memFlags struct {
	mu     sync.Mutex
	values map[string]bool
	writes int
}

func newMemFlags() *memFlags {
	return &memFlags{values: make(map[string]bool)}
}

func (f *memFlags) GetFlag(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[name], nil
}

func (f *memFlags) SetFlag(_ context.Context, name string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
	f.writes++
	return nil
}

func (f *memFlags) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
