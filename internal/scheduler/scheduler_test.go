package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/repository"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 8, 1, 15, 0, 0, 0, time.UTC)

type fakeCloser struct {
	mu     sync.Mutex
	closed []string
	err    error
	panics bool
}

func (c *fakeCloser) CloseRound(_ context.Context, auctionID string, round int) error {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, fmt.Sprintf("%s:%d", auctionID, round))
	return c.err
}

func (c *fakeCloser) Closed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closed...)
}

type fixture struct {
	durable *repository.MemoryRepo
	runtime *repository.MemoryRuntimeRepo
	closer  *fakeCloser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		durable: repository.NewMemoryRepo(),
		runtime: repository.NewMemoryRuntimeRepo(),
		closer:  &fakeCloser{},
	}
}

// addRound creates an auction with an open round whose deadline is now
func (f *fixture) addRound(t *testing.T, auctionID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.durable.CreateAuction(ctx, model.Auction{
		AuctionID: auctionID, CollectionID: "c1", RoundDuration: time.Minute, ItemsPerRound: 1,
		CurrentRoundNumber: 1, TotalRounds: 1, Status: model.StatusActive, CreatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, f.durable.CreateRound(ctx, model.Round{
		AuctionID: auctionID, RoundNumber: 1, ItemIDs: []string{"i1"}, Status: model.StatusActive, StartedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, f.runtime.SaveRoundState(ctx, auctionID, model.RoundState{
		Round: 1, Status: model.StatusActive, Deadline: now, Phase: model.PhaseOpen,
	}))
	require.NoError(t, f.runtime.ScheduleRound(ctx, model.TimerEntry{AuctionID: auctionID, Round: 1, Deadline: now}))
}

func (f *fixture) scheduler() *Scheduler {
	return New(f.runtime, f.durable, f.closer, Options{
		Interval: 10 * time.Millisecond,
		Now:      func() time.Time { return now },
	})
}

func (f *fixture) pending(t *testing.T) int {
	t.Helper()
	due, err := f.runtime.DueRounds(context.Background(), now.Add(time.Hour), 0)
	require.NoError(t, err)
	return len(due)
}

func TestScheduler_Poll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(t *testing.T, f *fixture)
		closed      []string
		keepPending bool
	}{
		{
			name:   "closes_due_round",
			closed: []string{"a1:1"},
		},
		{
			name: "missing_round_state",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.runtime.DeleteRoundState(context.Background(), "a1"))
			},
		},
		{
			name: "round_already_closing",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.runtime.TransitionPhase(context.Background(), "a1", 1, model.PhaseOpen, model.PhaseClosing))
			},
		},
		{
			name: "state_moved_to_next_round",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.runtime.SaveRoundState(context.Background(), "a1", model.RoundState{
					Round: 2, Status: model.StatusActive, Deadline: now.Add(time.Minute), Phase: model.PhaseOpen,
				}))
			},
		},
		{
			name: "durable_round_missing",
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.runtime.ScheduleRound(context.Background(), model.TimerEntry{AuctionID: "ghost", Round: 1, Deadline: now}))
				require.NoError(t, f.runtime.SaveRoundState(context.Background(), "ghost", model.RoundState{
					Round: 1, Status: model.StatusActive, Deadline: now, Phase: model.PhaseOpen,
				}))
				require.NoError(t, f.runtime.UnscheduleRound(context.Background(), "a1", 1))
			},
		},
		{
			name: "close_failure_keeps_entry",
			setup: func(t *testing.T, f *fixture) {
				f.closer.err = biddingerrors.ErrStoreUnavailable
			},
			closed:      []string{"a1:1"},
			keepPending: true,
		},
		{
			name: "closed_elsewhere",
			setup: func(t *testing.T, f *fixture) {
				f.closer.err = fmt.Errorf("close: %w", biddingerrors.ErrRoundAlreadyClosing)
			},
			closed: []string{"a1:1"},
		},
		{
			name: "panic_drops_entry",
			setup: func(t *testing.T, f *fixture) {
				f.closer.panics = true
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.addRound(t, "a1")
			if tc.setup != nil {
				tc.setup(t, f)
			}

			seen, err := f.scheduler().Poll(context.Background())

			require.NoError(t, err)
			require.Equal(t, 1, seen)
			require.Equal(t, tc.closed, f.closer.Closed())
			if tc.keepPending {
				require.Equal(t, 1, f.pending(t))
			} else {
				require.Equal(t, 0, f.pending(t))
			}
		})
	}
}

func TestScheduler_Poll_SkipsFutureDeadlines(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addRound(t, "a1")
	require.NoError(t, f.runtime.ScheduleRound(context.Background(), model.TimerEntry{AuctionID: "a1", Round: 1, Deadline: now.Add(time.Second)}))

	seen, err := f.scheduler().Poll(context.Background())

	require.NoError(t, err)
	require.Zero(t, seen)
	require.Empty(t, f.closer.Closed())
	require.Equal(t, 1, f.pending(t))
}

func TestScheduler_Poll_ManyAuctions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.addRound(t, fmt.Sprintf("a%02d", i))
	}

	seen, err := f.scheduler().Poll(context.Background())

	require.NoError(t, err)
	require.Equal(t, 25, seen)
	require.Len(t, f.closer.Closed(), 25)
	require.Zero(t, f.pending(t))
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addRound(t, "a1")
	s := f.scheduler()

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(f.closer.Closed()) == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	// restartable
	f.addRound(t, "a2")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Eventually(t, func() bool { return len(f.closer.Closed()) == 2 }, time.Second, 5*time.Millisecond)
}
