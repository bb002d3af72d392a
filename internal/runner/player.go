package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hperssn/tourguide/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateActive
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultAutoplayPause = time.Second
	DefaultFallbackDelay = 4 * time.Second
	DefaultNextLabel     = "Next"
	DefaultFinishLabel   = "Finish"

	flagWriteTimeout = 5 * time.Second
)

var errMissingCollaborator = errors.New("missing collaborator")

// Options tune a player. Zero values take the defaults; a negative
// FallbackDelay disables the autoplay fallback.
type Options struct {
	AutoplayPause time.Duration
	FallbackDelay time.Duration
	NextLabel     string
	FinishLabel   string
}

func (o Options) withDefaults() Options {
	if o.AutoplayPause <= 0 {
		o.AutoplayPause = DefaultAutoplayPause
	}
	if o.FallbackDelay == 0 {
		o.FallbackDelay = DefaultFallbackDelay
	}
	if o.NextLabel == "" {
		o.NextLabel = DefaultNextLabel
	}
	if o.FinishLabel == "" {
		o.FinishLabel = DefaultFinishLabel
	}
	return o
}

// Deps are the player's collaborators. Narrator and Flags may be nil:
// without a narrator steps are silent, without flags nothing persists.
type Deps struct {
	Panels   Panels
	Captions Captions
	Control  ActionControl
	Narrator Narrator
	Flags    FlagStore
	Clock    clockwork.Clock
	Logger   *zap.Logger

	// OnFinish receives a copy of every session that ends, after the
	// player has released its lock.
	OnFinish func(domain.TourSession)
}

// Player walks one tour. All methods are safe for concurrent use; every
// operation runs under the player's lock, so applying a step is atomic
// with respect to narration completions and timers.
type Player struct {
	mu sync.Mutex

	tour *domain.Tour
	deps Deps
	opts Options

	state   State
	session *domain.TourSession

	// gen is bumped whenever the current step stops being current.
	// Callbacks capture it and drop themselves on mismatch.
	gen   uint64
	timer clockwork.Timer
}

func NewPlayer(tour *domain.Tour, deps Deps, opts Options) (*Player, error) {
	if tour == nil {
		return nil, fmt.Errorf("%w: nil tour", domain.ErrInvalidTour)
	}
	if err := tour.Validate(); err != nil {
		return nil, err
	}
	if deps.Panels == nil || deps.Captions == nil || deps.Control == nil {
		return nil, errMissingCollaborator
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Player{
		tour:  tour,
		deps:  deps,
		opts:  opts.withDefaults(),
		state: StateIdle,
	}, nil
}

func (p *Player) Tour() *domain.Tour {
	return p.tour
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns a copy of the current or last session.
func (p *Player) Session() (domain.TourSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return domain.TourSession{}, false
	}
	return *p.session, true
}

// Start begins a fresh session at the first step, replacing any session
// in progress. It reports false when the tour has no steps.
func (p *Player) Start(autoplay bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, err := domain.NewTourSession("", p.tour, autoplay, p.deps.Clock.Now())
	if err != nil {
		p.deps.Logger.Debug("tour not started", zap.String("tour", p.tour.Name), zap.Error(err))
		return false
	}

	if p.state == StateActive {
		p.deps.Logger.Debug("restarting active tour",
			zap.String("tour", p.tour.Name),
			zap.String("previous", p.session.ID),
			zap.Int("previousIndex", p.session.CurrentIdx),
		)
	}

	p.session = sess
	p.state = StateActive
	p.applyStepLocked()

	p.deps.Logger.Info("tour started",
		zap.String("tour", p.tour.Name),
		zap.String("session", sess.ID),
		zap.Bool("autoplay", autoplay),
	)
	return true
}

// StartIfUnseen starts the tour unless the persisted completion flag is
// set. It is the first-visit path.
func (p *Player) StartIfUnseen(ctx context.Context, autoplay bool) (bool, error) {
	if p.deps.Flags != nil {
		seen, err := p.deps.Flags.GetFlag(ctx, p.tour.FlagName)
		if err != nil {
			return false, fmt.Errorf("read %s: %w", p.tour.FlagName, err)
		}
		if seen {
			return false, nil
		}
	}
	return p.Start(autoplay), nil
}

// Advance presents the next step, or completes the session when on the
// last one. It does nothing unless a session is active.
func (p *Player) Advance() {
	p.mu.Lock()
	done := p.advanceLocked()
	p.mu.Unlock()

	p.finished(done)
}

// Cancel ends an active session without visiting the remaining steps.
func (p *Player) Cancel() {
	p.mu.Lock()
	var done *domain.TourSession
	if p.state == StateActive {
		done = p.finishLocked(domain.OutcomeCancelled)
	}
	p.mu.Unlock()

	p.finished(done)
}

// SetNarrator replaces the narrator unless a session is active, so a
// running session keeps the narrator it started with. It reports whether
// the narrator was replaced.
func (p *Player) SetNarrator(n Narrator) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateActive {
		return false
	}
	if p.deps.Narrator != nil {
		p.deps.Narrator.Cancel()
	}
	p.deps.Narrator = n
	return true
}

// Stop releases timers and narration without ending the session. Used on
// eviction and shutdown.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.stopTimerLocked()
	if p.deps.Narrator != nil {
		p.deps.Narrator.Cancel()
	}
}

func (p *Player) advanceLocked() *domain.TourSession {
	if p.state != StateActive {
		return nil
	}
	if p.session.Next() {
		p.applyStepLocked()
		return nil
	}
	return p.finishLocked(domain.OutcomeFinished)
}

func (p *Player) applyStepLocked() {
	p.gen++
	gen := p.gen
	p.stopTimerLocked()

	step := p.session.Current()
	p.deps.Panels.ShowPanel(step.PanelID)
	p.deps.Captions.ShowCaption(step.Title, step.Description)
	p.narrateLocked(gen, step)

	label := p.opts.NextLabel
	if p.session.IsLast() {
		label = p.opts.FinishLabel
	}
	p.deps.Control.SetActionLabel(label)
}

func (p *Player) narrateLocked(gen uint64, step domain.TourStep) {
	n := p.deps.Narrator
	if n == nil {
		p.armFallbackLocked(gen)
		return
	}

	n.Cancel()
	u, err := n.Speak(step.Description)
	if err != nil {
		p.deps.Logger.Warn("narration failed",
			zap.String("tour", p.tour.Name),
			zap.Int("step", p.session.CurrentIdx),
			zap.Error(err),
		)
		p.armFallbackLocked(gen)
		return
	}

	if p.session.Autoplay {
		n.OnEnd(u, func() { p.speechEnded(gen) })
	}
}

// armFallbackLocked keeps an autoplay session moving when there is no
// narration to wait for.
func (p *Player) armFallbackLocked(gen uint64) {
	if !p.session.Autoplay || p.opts.FallbackDelay < 0 {
		return
	}
	p.timer = p.deps.Clock.AfterFunc(p.opts.FallbackDelay, func() { p.timerFired(gen) })
}

func (p *Player) speechEnded(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || p.state != StateActive {
		p.deps.Logger.Debug("stale narration completion ignored", zap.String("tour", p.tour.Name))
		return
	}

	p.stopTimerLocked()
	p.timer = p.deps.Clock.AfterFunc(p.opts.AutoplayPause, func() { p.timerFired(gen) })
}

func (p *Player) timerFired(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.state != StateActive {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	done := p.advanceLocked()
	p.mu.Unlock()

	p.finished(done)
}

func (p *Player) finishLocked(outcome domain.Outcome) *domain.TourSession {
	p.gen++
	p.stopTimerLocked()
	if p.deps.Narrator != nil {
		p.deps.Narrator.Cancel()
	}

	if !p.session.Finish(outcome, p.deps.Clock.Now()) {
		return nil
	}
	p.state = StateCompleted

	p.deps.Captions.HideCaption()
	if p.tour.HomePanel != "" {
		p.deps.Panels.ShowPanel(p.tour.HomePanel)
	}

	p.deps.Logger.Info("tour ended",
		zap.String("tour", p.tour.Name),
		zap.String("session", p.session.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("stepsViewed", p.session.StepsViewed()),
	)

	done := *p.session
	return &done
}

// finished runs the completion side effects outside the lock.
func (p *Player) finished(s *domain.TourSession) {
	if s == nil {
		return
	}

	if p.deps.Flags != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flagWriteTimeout)
		err := p.deps.Flags.SetFlag(ctx, p.tour.FlagName, true)
		cancel()
		if err != nil {
			p.deps.Logger.Error("failed to persist tour flag",
				zap.String("tour", p.tour.Name),
				zap.String("flag", p.tour.FlagName),
				zap.Error(err),
			)
		}
	}

	if p.deps.OnFinish != nil {
		p.deps.OnFinish(*s)
	}
}

func (p *Player) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
