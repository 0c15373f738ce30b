package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/ranking"
	"auction-rounds/internal/repository"
	"auction-rounds/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ActionKind is what recovery must do for one auction
type ActionKind int

const (
	StartFirstRound ActionKind = iota
	ResumeRound
	SettleExpired
)

func (k ActionKind) String() string {
	switch k {
	case StartFirstRound:
		return "start_first_round"
	case ResumeRound:
		return "resume_round"
	case SettleExpired:
		return "settle_expired"
	default:
		return "unknown"
	}
}

// Action is the recovery decision for one active auction
type Action struct {
	Kind     ActionKind
	Round    int
	Deadline time.Time
}

// Plan decides how to rebuild an auction from its durable records alone.
// latest is nil when the auction never got a round.
func Plan(auction model.Auction, latest *model.Round, now time.Time) Action {
	if latest == nil {
		return Action{Kind: StartFirstRound, Round: 1}
	}
	deadline := latest.Deadline(auction.RoundDuration)
	if latest.Status == model.StatusFinished || !deadline.After(now) {
		return Action{Kind: SettleExpired, Round: latest.RoundNumber, Deadline: deadline}
	}
	return Action{Kind: ResumeRound, Round: latest.RoundNumber, Deadline: deadline}
}

// Settler closes and settles an expired round synchronously, and takes back
// closed rounds whose settlement has to wait
type Settler interface {
	CloseAndSettle(ctx context.Context, auctionID string, round int) error
	QueueSettlement(ctx context.Context, auctionID string, round int) error
}

// Rounds opens first rounds and advances settled ones
type Rounds interface {
	OpenFirstRound(ctx context.Context, auction model.Auction) error
	AdvanceRound(ctx context.Context, auctionID string, fromRound int) error
}

// Freezer re-reserves the funds of bids found in the runtime store
type Freezer interface {
	Freeze(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error
}

// Coordinator rebuilds runtime state for every active auction on start-up
type Coordinator struct {
	durable     repository.DurableRepo
	runtime     repository.RuntimeStateRepo
	settler     Settler
	rounds      Rounds
	wallet      Freezer
	now         func() time.Time
	parallelism int
}

// NewCoordinator creates a Coordinator; now defaults to time.Now
func NewCoordinator(durable repository.DurableRepo, runtime repository.RuntimeStateRepo, settler Settler, rounds Rounds, wallet Freezer, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		durable:     durable,
		runtime:     runtime,
		settler:     settler,
		rounds:      rounds,
		wallet:      wallet,
		now:         now,
		parallelism: 4,
	}
}

// Recover walks every durably active auction. A failing auction is logged
// and reported in the returned error without stopping the others.
func (c *Coordinator) Recover(ctx context.Context) error {
	auctions, err := c.durable.ListActiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("recovery: failed to list active auctions: %w", err)
	}

	errs := make([]error, len(auctions))
	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for i, auction := range auctions {
		i, auction := i, auction
		g.Go(func() error {
			if err := c.recoverAuction(ctx, auction); err != nil {
				utils.Error("recovery: auction not recovered", map[string]any{
					"auction_id": auction.AuctionID,
					"error":      err.Error(),
				})
				errs[i] = fmt.Errorf("auction %s: %w", auction.AuctionID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	utils.Info("recovery: finished", map[string]any{"auctions": len(auctions)})
	return errors.Join(errs...)
}

func (c *Coordinator) recoverAuction(ctx context.Context, auction model.Auction) error {
	var latest *model.Round
	round, err := c.durable.GetLatestRound(ctx, auction.AuctionID)
	switch {
	case err == nil:
		latest = &round
	case !errors.Is(err, biddingerrors.ErrRoundNotFound):
		return fmt.Errorf("load latest round: %w", err)
	}

	action := Plan(auction, latest, c.now())
	utils.Info("recovery: recovering auction", map[string]any{
		"auction_id": auction.AuctionID,
		"action":     action.Kind.String(),
		"round":      action.Round,
	})

	switch action.Kind {
	case StartFirstRound:
		return c.rounds.OpenFirstRound(ctx, auction)
	case ResumeRound:
		return c.resume(ctx, auction, action)
	default:
		return c.settleExpired(ctx, auction, action)
	}
}

// resume restores an open round and re-reserves the bids it still holds
func (c *Coordinator) resume(ctx context.Context, auction model.Auction, action Action) error {
	if err := c.restoreState(ctx, auction, action, model.PhaseOpen); err != nil {
		return err
	}
	entry := model.TimerEntry{AuctionID: auction.AuctionID, Round: action.Round, Deadline: action.Deadline}
	if err := c.runtime.ScheduleRound(ctx, entry); err != nil {
		return fmt.Errorf("schedule round %d: %w", action.Round, err)
	}

	bids, err := c.runtime.GetBids(ctx, auction.AuctionID, action.Round)
	if err != nil {
		return fmt.Errorf("load bids of round %d: %w", action.Round, err)
	}
	for _, bid := range ranking.LatestPerUser(bids) {
		if _, err := c.runtime.AcquireBidLock(ctx, auction.AuctionID, bid.UserID); err != nil {
			return fmt.Errorf("restore bid lock of %s: %w", bid.UserID, err)
		}
		if err := c.wallet.Freeze(ctx, bid.UserID, auction.AuctionID, bid.Amount); err != nil {
			if biddingerrors.KindOf(err) != biddingerrors.KindConflict {
				return fmt.Errorf("restore freeze of %s: %w", bid.UserID, err)
			}
			utils.Warn("recovery: bid no longer covered by balance", map[string]any{
				"auction_id": auction.AuctionID,
				"user_id":    bid.UserID,
				"amount":     bid.Amount.String(),
			})
		}
	}
	return nil
}

// settleExpired settles a round whose deadline passed while the process was
// down, or finishes the advance of a round that was already settled
func (c *Coordinator) settleExpired(ctx context.Context, auction model.Auction, action Action) error {
	settled, err := c.runtime.IsSettled(ctx, auction.AuctionID, action.Round)
	if err != nil {
		return fmt.Errorf("read settled flag of round %d: %w", action.Round, err)
	}
	if err := c.runtime.UnscheduleRound(ctx, auction.AuctionID, action.Round); err != nil {
		return fmt.Errorf("unschedule round %d: %w", action.Round, err)
	}

	if !settled {
		if err := c.restoreState(ctx, auction, action, model.PhaseOpen); err != nil {
			return err
		}
		err := c.settler.CloseAndSettle(ctx, auction.AuctionID, action.Round)
		if err == nil || !biddingerrors.IsRetryable(err) {
			return err
		}
		return c.retryLater(ctx, auction.AuctionID, action, err)
	}

	if err := c.restoreState(ctx, auction, action, model.PhaseSettled); err != nil {
		return err
	}
	if err := c.runtime.DeleteBids(ctx, auction.AuctionID, action.Round); err != nil {
		return fmt.Errorf("delete settled bids of round %d: %w", action.Round, err)
	}
	return c.rounds.AdvanceRound(ctx, auction.AuctionID, action.Round)
}

// retryLater hands a round that failed to settle back to the component that
// retries it. A closed round goes to the settlement queue, e.g. behind the
// claim of a settler that died before the restart. A round that could not
// close gets its timer entry back.
func (c *Coordinator) retryLater(ctx context.Context, auctionID string, action Action, settleErr error) error {
	state, err := c.runtime.GetRoundState(ctx, auctionID)
	if err != nil {
		return errors.Join(settleErr, fmt.Errorf("read phase of round %d: %w", action.Round, err))
	}
	if state.Round != action.Round {
		return settleErr
	}

	switch state.Phase {
	case model.PhaseClosing:
		err = c.settler.QueueSettlement(ctx, auctionID, action.Round)
	case model.PhaseOpen:
		err = c.runtime.ScheduleRound(ctx, model.TimerEntry{AuctionID: auctionID, Round: action.Round, Deadline: action.Deadline})
	default:
		return settleErr
	}
	if err != nil {
		return errors.Join(settleErr, err)
	}
	utils.Warn("recovery: settlement deferred", map[string]any{
		"auction_id": auctionID,
		"round":      action.Round,
		"phase":      string(state.Phase),
		"error":      settleErr.Error(),
	})
	return nil
}

func (c *Coordinator) restoreState(ctx context.Context, auction model.Auction, action Action, phase model.RoundPhase) error {
	if auction.CurrentRoundNumber != action.Round {
		if err := c.durable.SetCurrentRound(ctx, auction.AuctionID, action.Round); err != nil {
			return fmt.Errorf("set current round %d: %w", action.Round, err)
		}
	}
	state := model.RoundState{
		Round:    action.Round,
		Status:   model.StatusActive,
		Deadline: action.Deadline,
		Phase:    phase,
	}
	if err := c.runtime.SaveRoundState(ctx, auction.AuctionID, state); err != nil {
		return fmt.Errorf("restore round state: %w", err)
	}
	return nil
}
