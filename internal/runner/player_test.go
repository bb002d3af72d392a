package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hperssn/tourguide/internal/domain"
	"github.com/hperssn/tourguide/internal/narration"
	"github.com/hperssn/tourguide/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = time.Second

func abcTour(t *testing.T) *domain.Tour {
	t.Helper()

	tour, err := domain.NewTour("abc", "abc_done", "home", []string{"home", "A", "B", "C"}, []domain.TourStep{
		{PanelID: "A", Title: "Step A", Description: "first"},
		{PanelID: "B", Title: "Step B", Description: "second"},
		{PanelID: "C", Title: "Step C", Description: "third"},
	})
	require.NoError(t, err)
	return tour
}

type harness struct {
	player   *runner.Player
	ui       *fakeUI
	narrator *fakeNarrator
	flags    *memFlags
	clock    *clockwork.FakeClock

	mu       sync.Mutex
	finished []domain.TourSession
}

func newHarness(t *testing.T, tour *domain.Tour, withNarrator bool) *harness {
	t.Helper()

	h := &harness{
		ui:    &fakeUI{},
		flags: newMemFlags(),
		clock: clockwork.NewFakeClock(),
	}
	deps := runner.Deps{
		Panels:   h.ui,
		Captions: h.ui,
		Control:  h.ui,
		Flags:    h.flags,
		Clock:    h.clock,
		OnFinish: func(s domain.TourSession) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.finished = append(h.finished, s)
		},
	}
	if withNarrator {
		h.narrator = newFakeNarrator()
		deps.Narrator = h.narrator
	}

	p, err := runner.NewPlayer(tour, deps, runner.Options{})
	require.NoError(t, err)
	h.player = p
	return h
}

func (h *harness) Finished() []domain.TourSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.TourSession(nil), h.finished...)
}

func (h *harness) index(t *testing.T) int {
	t.Helper()
	s, ok := h.player.Session()
	require.True(t, ok, "expected a session")
	return s.CurrentIdx
}

func TestPlayerManualWalkReturnsHome(t *testing.T) {
	h := newHarness(t, abcTour(t), false)

	require.True(t, h.player.Start(false))
	assert.Equal(t, runner.StateActive, h.player.State())
	assert.Equal(t, "A", h.ui.Visible())
	assert.Equal(t, runner.DefaultNextLabel, h.ui.LastLabel())

	h.player.Advance()
	assert.Equal(t, "B", h.ui.Visible())

	h.player.Advance()
	assert.Equal(t, "C", h.ui.Visible())
	assert.Equal(t, runner.DefaultFinishLabel, h.ui.LastLabel())

	h.player.Advance()
	assert.Equal(t, runner.StateCompleted, h.player.State())
	assert.Equal(t, "home", h.ui.Visible())
	assert.Equal(t, 1, h.ui.Hidden())
	assert.Equal(t, []string{"A", "B", "C", "home"}, h.ui.Panels())

	seen, _ := h.flags.GetFlag(context.Background(), "abc_done")
	assert.True(t, seen)

	finished := h.Finished()
	require.Len(t, finished, 1)
	assert.Equal(t, domain.OutcomeFinished, finished[0].Outcome)
	assert.True(t, finished[0].Completed)
}

func TestPlayerAdvanceCountReachesCompletion(t *testing.T) {
	for n := 1; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d steps", n), func(t *testing.T) {
			panels := []string{"home"}
			steps := make([]domain.TourStep, n)
			for i := range steps {
				id := fmt.Sprintf("p%d", i)
				panels = append(panels, id)
				steps[i] = domain.TourStep{PanelID: id, Title: id}
			}
			tour, err := domain.NewTour("n", "", "home", panels, steps)
			require.NoError(t, err)

			h := newHarness(t, tour, false)
			h.player.Start(false)

			last := h.index(t)
			for i := 0; i < n-1; i++ {
				h.player.Advance()
				idx := h.index(t)
				require.Greater(t, idx, last, "index must only move forward")
				last = idx
			}

			assert.Equal(t, n-1, last)
			assert.Equal(t, runner.StateActive, h.player.State())

			h.player.Advance()
			assert.Equal(t, runner.StateCompleted, h.player.State())
			assert.Equal(t, n-1, h.index(t))
		})
	}
}

func TestPlayerCancelFromAnyIndex(t *testing.T) {
	for idx := 0; idx < 3; idx++ {
		t.Run(fmt.Sprintf("index %d", idx), func(t *testing.T) {
			h := newHarness(t, abcTour(t), true)
			h.player.Start(false)
			for i := 0; i < idx; i++ {
				h.player.Advance()
			}

			h.player.Cancel()

			assert.Equal(t, runner.StateCompleted, h.player.State())
			assert.Equal(t, "home", h.ui.Visible())
			assert.Equal(t, idx, h.index(t))
			assert.Equal(t, 1, h.flags.Writes())

			finished := h.Finished()
			require.Len(t, finished, 1)
			assert.Equal(t, domain.OutcomeCancelled, finished[0].Outcome)
			assert.Equal(t, "cancel", h.narrator.Ops()[len(h.narrator.Ops())-1])
		})
	}
}

func TestPlayerNoopOutsideActive(t *testing.T) {
	h := newHarness(t, abcTour(t), false)

	h.player.Advance()
	h.player.Cancel()
	assert.Equal(t, runner.StateIdle, h.player.State())
	assert.Empty(t, h.ui.Panels())
	assert.Zero(t, h.flags.Writes())

	h.player.Start(false)
	h.player.Cancel()
	require.Equal(t, runner.StateCompleted, h.player.State())

	h.player.Advance()
	h.player.Cancel()
	assert.Equal(t, runner.StateCompleted, h.player.State())
	assert.Equal(t, 1, h.flags.Writes(), "completion writes the flag once")
	assert.Len(t, h.Finished(), 1)
}

func TestPlayerEmptyTourNeverStarts(t *testing.T) {
	tour, err := domain.NewTour("empty", "", "", []string{"A"}, nil)
	require.NoError(t, err)
	h := newHarness(t, tour, true)

	assert.False(t, h.player.Start(true))
	assert.Equal(t, runner.StateIdle, h.player.State())
	_, ok := h.player.Session()
	assert.False(t, ok)
	assert.Empty(t, h.narrator.Ops())
}

func TestPlayerRestartResetsSession(t *testing.T) {
	h := newHarness(t, abcTour(t), true)

	h.player.Start(false)
	first, _ := h.player.Session()
	h.player.Advance()
	h.player.Advance()
	require.Equal(t, 2, h.index(t))

	h.player.Start(false)
	second, _ := h.player.Session()

	assert.Equal(t, 0, second.CurrentIdx)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "A", h.ui.Visible())
	assert.Equal(t, runner.StateActive, h.player.State())
	assert.Zero(t, h.flags.Writes(), "a restart is not a completion")
}

func TestPlayerAutoplayAdvancesAfterNarration(t *testing.T) {
	h := newHarness(t, abcTour(t), true)

	h.player.Start(true)
	require.Equal(t, "A", h.ui.Visible())

	require.True(t, h.narrator.finish(1), "step 0 narration should be awaited")

	h.clock.Advance(runner.DefaultAutoplayPause - time.Millisecond)
	assert.Never(t, func() bool { return h.ui.Visible() != "A" }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return h.ui.Visible() == "B" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, h.index(t))
}

func TestPlayerCancelsNarrationBeforeEachStep(t *testing.T) {
	h := newHarness(t, abcTour(t), true)

	h.player.Start(true)
	h.player.Advance()

	assert.Equal(t, []string{"cancel", "speak:first", "cancel", "speak:second"}, h.narrator.Ops())
}

func TestPlayerIgnoresStaleNarration(t *testing.T) {
	h := newHarness(t, abcTour(t), true)
	h.narrator.leaky = true

	h.player.Start(true)
	h.player.Advance()
	require.Equal(t, "B", h.ui.Visible())

	// Utterance 1 belonged to step A and must not move step B.
	require.True(t, h.narrator.finish(1))
	h.clock.Advance(runner.DefaultAutoplayPause)
	assert.Never(t, func() bool { return h.ui.Visible() != "B" }, 50*time.Millisecond, 5*time.Millisecond)

	require.True(t, h.narrator.finish(2))
	h.clock.Advance(runner.DefaultAutoplayPause)
	require.Eventually(t, func() bool { return h.ui.Visible() == "C" }, waitFor, 5*time.Millisecond)
}

func TestPlayerIgnoresNarrationFromPreviousSession(t *testing.T) {
	h := newHarness(t, abcTour(t), true)
	h.narrator.leaky = true

	h.player.Start(true)
	h.player.Advance()
	h.player.Start(true)
	require.Equal(t, 0, h.index(t))

	require.True(t, h.narrator.finish(2))
	h.clock.Advance(runner.DefaultAutoplayPause)
	assert.Never(t, func() bool { return h.ui.Visible() != "A" }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPlayerCancelDuringAutoplayPause(t *testing.T) {
	h := newHarness(t, abcTour(t), true)

	h.player.Start(true)
	require.True(t, h.narrator.finish(1))
	h.player.Cancel()

	h.clock.Advance(runner.DefaultAutoplayPause)
	assert.Never(t, func() bool { return h.ui.Visible() != "home" }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, h.index(t))
	assert.Len(t, h.Finished(), 1)
}

func TestPlayerManualModeDoesNotAutoAdvance(t *testing.T) {
	h := newHarness(t, abcTour(t), true)

	h.player.Start(false)
	assert.False(t, h.narrator.finish(1), "manual mode does not wait on narration")

	h.clock.Advance(time.Minute)
	assert.Never(t, func() bool { return h.ui.Visible() != "A" }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPlayerAutoplayFallsBackWithoutNarration(t *testing.T) {
	tests := []struct {
		name     string
		narrator bool
	}{
		{name: "narration fails", narrator: true},
		{name: "no narrator", narrator: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, abcTour(t), tt.narrator)
			if tt.narrator {
				h.narrator.fail = narration.ErrUnavailable
			}

			h.player.Start(true)
			require.Equal(t, "A", h.ui.Visible())

			h.clock.Advance(runner.DefaultFallbackDelay)
			require.Eventually(t, func() bool { return h.ui.Visible() == "B" }, waitFor, 5*time.Millisecond)

			// Manual advance stays available.
			h.player.Advance()
			assert.Equal(t, "C", h.ui.Visible())
		})
	}
}

func TestPlayerStartIfUnseen(t *testing.T) {
	h := newHarness(t, abcTour(t), false)
	ctx := context.Background()

	started, err := h.player.StartIfUnseen(ctx, false)
	require.NoError(t, err)
	require.True(t, started)

	h.player.Cancel()

	started, err = h.player.StartIfUnseen(ctx, false)
	require.NoError(t, err)
	assert.False(t, started, "a finished tour does not auto-start again")
	assert.Equal(t, runner.StateCompleted, h.player.State())
}

func TestNewPlayerRejectsBadConfiguration(t *testing.T) {
	ui := &fakeUI{}
	deps := runner.Deps{Panels: ui, Captions: ui, Control: ui}

	bad := &domain.Tour{
		Name:   "bad",
		Panels: []string{"A"},
		Steps:  []domain.TourStep{{PanelID: "missing"}},
	}
	_, err := runner.NewPlayer(bad, deps, runner.Options{})
	assert.True(t, errors.Is(err, domain.ErrUnknownPanel), "got %v", err)

	_, err = runner.NewPlayer(abcTour(t), runner.Deps{}, runner.Options{})
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", runner.StateIdle.String())
	assert.Equal(t, "active", runner.StateActive.String())
	assert.Equal(t, "completed", runner.StateCompleted.String())
	assert.Equal(t, "unknown", runner.State(42).String())
}
