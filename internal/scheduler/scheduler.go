package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/repository"
	"auction-rounds/utils"

	"golang.org/x/sync/errgroup"
)

// Closer starts the closure of an expired round
type Closer interface {
	CloseRound(ctx context.Context, auctionID string, round int) error
}

// Options tunes the poll loop
type Options struct {
	Interval     time.Duration
	BatchSize    int
	Parallelism  int
	EntryTimeout time.Duration
	Now          func() time.Time
}

// Scheduler is the process-wide round timer. It polls one global deadline
// index for every auction instead of keeping per-auction timers.
type Scheduler struct {
	runtime repository.RuntimeStateRepo
	rounds  repository.RoundStore
	closer  Closer
	opts    Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped Scheduler
func New(runtime repository.RuntimeStateRepo, rounds repository.RoundStore, closer Closer, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{runtime: runtime, rounds: rounds, closer: closer, opts: opts}
}

// Start runs the poll loop until Stop is called or ctx ends
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	utils.Info("scheduler: started", map[string]any{"interval": s.opts.Interval.String()})
	return nil
}

// Stop ends the poll loop and waits for the running poll. The scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	utils.Info("scheduler: stopped", nil)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				utils.Warn("scheduler: poll failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Poll processes every due timer entry once and returns how many it saw
func (s *Scheduler) Poll(ctx context.Context) (int, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.opts.EntryTimeout)
	due, err := s.runtime.DueRounds(listCtx, s.opts.Now(), s.opts.BatchSize)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("scheduler: failed to list due rounds: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for _, entry := range due {
		entry := entry
		g.Go(func() error {
			s.process(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

// process handles one due entry. It never returns an error: the entry is
// either removed or kept for the next poll.
func (s *Scheduler) process(ctx context.Context, entry model.TimerEntry) {
	fields := map[string]any{"auction_id": entry.AuctionID, "round": entry.Round}
	defer func() {
		if r := recover(); r != nil {
			fields["panic"] = fmt.Sprint(r)
			utils.Critical("scheduler: panic while closing round, entry dropped", fields)
			s.remove(ctx, entry)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.EntryTimeout)
	defer cancel()

	keep, reason := s.closeEntry(ctx, entry)
	fields["reason"] = reason
	if keep {
		utils.Warn("scheduler: round not closed, retrying next poll", fields)
		return
	}
	utils.Debug("scheduler: timer entry done", fields)
	s.remove(ctx, entry)
}

// closeEntry reports whether the entry must stay in the index, and why
func (s *Scheduler) closeEntry(ctx context.Context, entry model.TimerEntry) (bool, string) {
	state, err := s.runtime.GetRoundState(ctx, entry.AuctionID)
	if errors.Is(err, biddingerrors.ErrRoundStateNotFound) {
		return false, "no round state"
	}
	if err != nil {
		return true, err.Error()
	}
	if state.Round != entry.Round {
		return false, fmt.Sprintf("auction is on round %d", state.Round)
	}
	if state.Phase != model.PhaseOpen {
		return false, fmt.Sprintf("round already %s", state.Phase)
	}

	if _, err := s.rounds.GetRound(ctx, entry.AuctionID, entry.Round); err != nil {
		if errors.Is(err, biddingerrors.ErrRoundNotFound) {
			return false, "round record missing"
		}
		return true, err.Error()
	}

	err = s.closer.CloseRound(ctx, entry.AuctionID, entry.Round)
	switch {
	case err == nil:
		return false, "closed"
	case errors.Is(err, biddingerrors.ErrRoundAlreadyClosing):
		return false, "closed elsewhere"
	default:
		return true, err.Error()
	}
}

func (s *Scheduler) remove(ctx context.Context, entry model.TimerEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.EntryTimeout)
	defer cancel()
	if err := s.runtime.UnscheduleRound(ctx, entry.AuctionID, entry.Round); err != nil {
		utils.Warn("scheduler: failed to remove timer entry", map[string]any{
			"auction_id": entry.AuctionID,
			"round":      entry.Round,
			"error":      err.Error(),
		})
	}
}
