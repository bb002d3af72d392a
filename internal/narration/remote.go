package narration

// Remote leaves speaking to the page, which reports back through End
// when its utterance finishes.
type Remote struct {
	*tracker

	listener Listener
}

func NewRemote(l Listener) *Remote {
	if l == nil {
		l = nopListener{}
	}
	return &Remote{tracker: newTracker(), listener: l}
}

func (n *Remote) Speak(text string) (Utterance, error) {
	u := n.open()
	n.listener.Started(u, text)
	return u, nil
}

func (n *Remote) Cancel() {
	if n.cancelAll() {
		n.listener.Cancelled()
	}
}

func (n *Remote) OnEnd(u Utterance, fn func()) {
	n.onEnd(u, fn)
}

// End is the page's completion report. Reports for cancelled or unknown
// utterances return ErrUnknownUtterance.
func (n *Remote) End(u Utterance) error {
	return n.end(u)
}
