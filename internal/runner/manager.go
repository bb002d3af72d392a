package runner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hperssn/tourguide/internal/domain"
	"github.com/hperssn/tourguide/internal/narration"
	"github.com/hperssn/tourguide/internal/storage"
)

var (
	ErrTourNotFound   = errors.New("tour not found")
	ErrPlayerNotFound = errors.New("no tour session for user")
)

type NarrationMode string

const (
	NarrationTimed  NarrationMode = "timed"
	NarrationClient NarrationMode = "client"
	NarrationOff    NarrationMode = "off"
)

const (
	DefaultSessionTTL = time.Hour
	cleanupInterval   = 5 * time.Minute
	saveRunTimeout    = 5 * time.Second
)

// Store is the slice of storage.Repository the manager needs.
type Store interface {
	GetFlag(ctx context.Context, userID, name string) (bool, error)
	SetFlag(ctx context.Context, userID, name string, value bool) error
	ClearFlag(ctx context.Context, userID, name string) error
	GetPreferences(ctx context.Context, userID string) (*storage.Preferences, error)
	SaveRun(ctx context.Context, record *storage.RunRecord) error
}

type ManagerOptions struct {
	Player         Options
	Narration      NarrationMode
	WordsPerMinute int
	MinUtterance   time.Duration
	SessionTTL     time.Duration
	EventBuffer    int
}

// Status is the externally visible state of one user's tour.
type Status struct {
	Tour    string              `json:"tour"`
	State   State               `json:"state"`
	Panel   string              `json:"panel,omitempty"`
	Session *domain.TourSession `json:"session,omitempty"`
}

type playerKey struct {
	userID string
	tour   string
}

type entry struct {
	player   *Player
	view     *EventView
	remote   *narration.Remote
	lastUsed time.Time
}

// TourManager owns one player per user and tour. At most one session
// exists per key; starting again restarts it.
type TourManager struct {
	mu      sync.Mutex
	tours   map[string]*domain.Tour
	players map[playerKey]*entry

	store  Store
	clock  clockwork.Clock
	logger *zap.Logger
	opts   ManagerOptions
}

func NewTourManager(tours []*domain.Tour, store Store, clock clockwork.Clock, logger *zap.Logger, opts ManagerOptions) *TourManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Narration == "" {
		opts.Narration = NarrationTimed
	}

	byName := make(map[string]*domain.Tour, len(tours))
	for _, t := range tours {
		byName[t.Name] = t
	}

	return &TourManager{
		tours:   byName,
		players: make(map[playerKey]*entry),
		store:   store,
		clock:   clock,
		logger:  logger,
		opts:    opts,
	}
}

// Tours lists the configured tours by name.
func (m *TourManager) Tours() []*domain.Tour {
	tours := make([]*domain.Tour, 0, len(m.tours))
	for _, t := range m.tours {
		tours = append(tours, t)
	}
	sort.Slice(tours, func(i, j int) bool { return tours[i].Name < tours[j].Name })
	return tours
}

// Run evicts idle players until ctx is done, then stops all of them.
func (m *TourManager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.cleanupOldPlayers()
		case <-ctx.Done():
			m.stopAll()
			return nil
		}
	}
}

// cleanupOldPlayers evicts every player untouched for SessionTTL. An
// abandoned active session is stopped without ending it, so its flag
// stays unset and the tour starts again on the next visit.
func (m *TourManager) cleanupOldPlayers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-m.opts.SessionTTL)

	for key, e := range m.players {
		if !e.lastUsed.Before(cutoff) {
			continue
		}
		state := e.player.State()
		e.player.Stop()
		e.view.Close()
		delete(m.players, key)
		m.logger.Debug("evicted idle player",
			zap.String("user", key.userID),
			zap.String("tour", key.tour),
			zap.Stringer("state", state),
		)
	}
}

func (m *TourManager) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.players {
		e.player.Stop()
		e.view.Close()
		delete(m.players, key)
	}
}

// Events returns the event stream of a user's tour, creating the player
// so a page can subscribe before the tour starts.
func (m *TourManager) Events(ctx context.Context, userID, tour string) (<-chan Event, error) {
	e, err := m.entry(ctx, userID, tour)
	if err != nil {
		return nil, err
	}
	return e.view.Events(), nil
}

func (m *TourManager) Start(ctx context.Context, userID, tour string, autoplay bool) (Status, error) {
	e, err := m.entry(ctx, userID, tour)
	if err != nil {
		return Status{}, err
	}

	e.player.Start(autoplay)
	return m.status(e), nil
}

// Visit is the first-visit hook: the tour starts only if the user has
// never finished it.
func (m *TourManager) Visit(ctx context.Context, userID, tour string, autoplay bool) (bool, Status, error) {
	e, err := m.entry(ctx, userID, tour)
	if err != nil {
		return false, Status{}, err
	}

	started, err := e.player.StartIfUnseen(ctx, autoplay)
	if err != nil {
		return false, Status{}, err
	}
	return started, m.status(e), nil
}

// Advance and Cancel on a user without a player are no-ops, like on an
// idle player.
func (m *TourManager) Advance(userID, tour string) (Status, error) {
	e, err := m.existing(userID, tour)
	if errors.Is(err, ErrPlayerNotFound) {
		return Status{Tour: tour, State: StateIdle}, nil
	}
	if err != nil {
		return Status{}, err
	}

	e.player.Advance()
	return m.status(e), nil
}

func (m *TourManager) Cancel(userID, tour string) (Status, error) {
	e, err := m.existing(userID, tour)
	if errors.Is(err, ErrPlayerNotFound) {
		return Status{Tour: tour, State: StateIdle}, nil
	}
	if err != nil {
		return Status{}, err
	}

	e.player.Cancel()
	return m.status(e), nil
}

func (m *TourManager) Status(userID, tour string) (Status, error) {
	if _, ok := m.tours[tour]; !ok {
		return Status{}, ErrTourNotFound
	}

	e, err := m.existing(userID, tour)
	if errors.Is(err, ErrPlayerNotFound) {
		return Status{Tour: tour, State: StateIdle}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return m.status(e), nil
}

// SpeechEnded relays the page's narration completion report.
func (m *TourManager) SpeechEnded(userID, tour string, u narration.Utterance) error {
	e, err := m.existing(userID, tour)
	if err != nil {
		return err
	}

	m.mu.Lock()
	remote := e.remote
	m.mu.Unlock()

	if remote == nil {
		return narration.ErrUnknownUtterance
	}
	return remote.End(u)
}

// ResetSeen clears the completion flag so the tour auto-starts again.
func (m *TourManager) ResetSeen(ctx context.Context, userID, tour string) error {
	t, ok := m.tours[tour]
	if !ok {
		return ErrTourNotFound
	}
	if m.store == nil {
		return nil
	}
	return m.store.ClearFlag(ctx, userID, t.FlagName)
}

func (m *TourManager) status(e *entry) Status {
	st := Status{
		Tour:  e.player.Tour().Name,
		State: e.player.State(),
		Panel: e.view.Panel(),
	}
	if s, ok := e.player.Session(); ok {
		st.Session = &s
	}
	return st
}

func (m *TourManager) existing(userID, tour string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tours[tour]; !ok {
		return nil, ErrTourNotFound
	}
	e, ok := m.players[playerKey{userID, tour}]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	e.lastUsed = m.clock.Now()
	return e, nil
}

// entry returns the user's player, creating it on first use. The
// narrator follows the user's sound preference each time.
func (m *TourManager) entry(ctx context.Context, userID, tour string) (*entry, error) {
	t, ok := m.tours[tour]
	if !ok {
		return nil, ErrTourNotFound
	}

	sound := true
	if m.store != nil {
		prefs, err := m.store.GetPreferences(ctx, userID)
		if err != nil {
			m.logger.Warn("failed to read preferences", zap.String("user", userID), zap.Error(err))
		} else {
			sound = prefs.Sound
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := playerKey{userID, tour}
	e, ok := m.players[key]
	if !ok {
		var err error
		e, err = m.newEntry(key, t)
		if err != nil {
			return nil, err
		}
		m.players[key] = e
	}
	e.lastUsed = m.clock.Now()

	if n := m.narrator(e.view, sound); e.player.SetNarrator(n) {
		e.remote, _ = n.(*narration.Remote)
	}
	return e, nil
}

func (m *TourManager) newEntry(key playerKey, t *domain.Tour) (*entry, error) {
	view := NewEventView(m.opts.EventBuffer)
	logger := m.logger.With(zap.String("user", key.userID))

	deps := Deps{
		Panels:   view,
		Captions: view,
		Control:  view,
		Clock:    m.clock,
		Logger:   logger,
		OnFinish: func(s domain.TourSession) {
			view.Finished(s.Outcome)
			m.saveRun(key.userID, s)
		},
	}
	if m.store != nil {
		deps.Flags = userFlags{store: m.store, userID: key.userID}
	}

	p, err := NewPlayer(t, deps, m.opts.Player)
	if err != nil {
		return nil, err
	}
	return &entry{player: p, view: view}, nil
}

func (m *TourManager) narrator(view *EventView, sound bool) Narrator {
	if !sound {
		return nil
	}

	switch m.opts.Narration {
	case NarrationOff:
		return narration.Unavailable{}
	case NarrationClient:
		return narration.NewRemote(view)
	default:
		return narration.NewTimed(m.clock, m.opts.WordsPerMinute, m.opts.MinUtterance, view)
	}
}

func (m *TourManager) saveRun(userID string, s domain.TourSession) {
	if m.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveRunTimeout)
	defer cancel()

	if err := m.store.SaveRun(ctx, storage.FromTourSession(s, userID)); err != nil {
		m.logger.Error("failed to save tour run",
			zap.String("user", userID),
			zap.String("session", s.ID),
			zap.Error(err),
		)
	}
}

// userFlags binds a Store to one user for the player.
type userFlags struct {
	store  Store
	userID string
}

func (f userFlags) GetFlag(ctx context.Context, name string) (bool, error) {
	return f.store.GetFlag(ctx, f.userID, name)
}

func (f userFlags) SetFlag(ctx context.Context, name string, value bool) error {
	return f.store.SetFlag(ctx, f.userID, name, value)
}
