package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/notify"
	"auction-rounds/internal/ranking"
	"auction-rounds/internal/repository"
	"auction-rounds/utils"

	"github.com/shopspring/decimal"
)

// Wallet moves the funds of a settled round
type Wallet interface {
	Deduct(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error
	Unfreeze(ctx context.Context, userID, auctionID string) (decimal.Decimal, error)
}

// Advancer opens the round that follows a settled one
type Advancer interface {
	AdvanceRound(ctx context.Context, auctionID string, fromRound int) error
}

// Options tunes the engine
type Options struct {
	ClaimTTL     time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
	Queue        QueueOptions
}

// Engine closes rounds and settles them exactly once
type Engine struct {
	durable  repository.DurableRepo
	runtime  repository.RuntimeStateRepo
	wallet   Wallet
	advancer Advancer
	notifier notify.Notifier
	queue    *Queue
	opts     Options
}

// NewEngine creates an Engine with its own settlement queue
func NewEngine(durable repository.DurableRepo, runtime repository.RuntimeStateRepo, wallet Wallet, advancer Advancer, notifier notify.Notifier, opts Options) *Engine {
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 30 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Engine{
		durable:  durable,
		runtime:  runtime,
		wallet:   wallet,
		advancer: advancer,
		notifier: notifier,
		opts:     opts,
	}
	e.queue = NewQueue(e.SettleRound, opts.Queue)
	return e
}

// Start runs the settlement workers
func (e *Engine) Start(ctx context.Context) {
	e.queue.Start(ctx)
}

// Stop waits for running settlements and refuses new ones
func (e *Engine) Stop() {
	e.queue.Stop()
}

// CloseRound stops bidding on the round, records it as finished and queues
// its settlement. A round that is no longer open yields ErrRoundAlreadyClosing.
func (e *Engine) CloseRound(ctx context.Context, auctionID string, round int) error {
	if err := e.close(ctx, auctionID, round); err != nil {
		return err
	}
	return e.QueueSettlement(ctx, auctionID, round)
}

// QueueSettlement hands an already closed round to the settlement workers
func (e *Engine) QueueSettlement(ctx context.Context, auctionID string, round int) error {
	if err := e.queue.Enqueue(ctx, Task{AuctionID: auctionID, Round: round}); err != nil {
		return fmt.Errorf("settlement: failed to queue %s round %d: %w", auctionID, round, err)
	}
	return nil
}

// CloseAndSettle closes the round if it is still open and settles it before returning
func (e *Engine) CloseAndSettle(ctx context.Context, auctionID string, round int) error {
	err := e.close(ctx, auctionID, round)
	if err != nil && !errors.Is(err, biddingerrors.ErrRoundAlreadyClosing) {
		return err
	}
	return e.SettleRound(ctx, auctionID, round)
}

func (e *Engine) close(ctx context.Context, auctionID string, round int) error {
	err := e.runtime.TransitionPhase(ctx, auctionID, round, model.PhaseOpen, model.PhaseClosing)
	if errors.Is(err, biddingerrors.ErrPhaseConflict) {
		return fmt.Errorf("settlement: %w - %s round %d: %w", biddingerrors.ErrRoundAlreadyClosing, auctionID, round, err)
	}
	if err != nil {
		return fmt.Errorf("settlement: failed to close %s round %d: %w", auctionID, round, err)
	}

	now := e.opts.Now()
	if err := e.durable.FinishRound(ctx, auctionID, round, now); err != nil {
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
		defer cancel()
		if rbErr := e.runtime.TransitionPhase(rollbackCtx, auctionID, round, model.PhaseClosing, model.PhaseOpen); rbErr != nil {
			utils.Error("settlement: failed to reopen round after close failure", map[string]any{
				"auction_id": auctionID,
				"round":      round,
				"error":      rbErr.Error(),
			})
		}
		return fmt.Errorf("settlement: failed to finish %s round %d: %w", auctionID, round, err)
	}

	utils.Info("settlement: round closed", map[string]any{"auction_id": auctionID, "round": round})
	e.notifier.Notify(ctx, model.RoundClosedEvent(auctionID, round, now))
	return nil
}

// SettleRound ranks the round's bids, charges winners, allocates items and
// releases losers. The settled flag makes repeated or concurrent calls no-ops.
func (e *Engine) SettleRound(ctx context.Context, auctionID string, round int) error {
	settled, err := e.runtime.IsSettled(ctx, auctionID, round)
	if err != nil {
		return fmt.Errorf("settlement: failed to read settled flag of %s round %d: %w", auctionID, round, err)
	}
	if settled {
		return nil
	}

	owner := utils.GenerateID()
	claimed, err := e.runtime.ClaimSettlement(ctx, auctionID, round, owner, e.opts.ClaimTTL)
	if err != nil {
		return fmt.Errorf("settlement: failed to claim %s round %d: %w", auctionID, round, err)
	}
	if !claimed {
		return fmt.Errorf("settlement: %w - %s round %d", biddingerrors.ErrSettlementInProgress, auctionID, round)
	}
	defer e.releaseClaim(ctx, auctionID, round, owner)

	// a settler whose claim expired may have finished meanwhile
	if settled, err = e.runtime.IsSettled(ctx, auctionID, round); err != nil {
		return fmt.Errorf("settlement: failed to read settled flag of %s round %d: %w", auctionID, round, err)
	}
	if settled {
		return nil
	}

	winners, err := e.moveFunds(ctx, auctionID, round)
	if err != nil {
		return err
	}

	first, err := e.runtime.MarkSettled(ctx, auctionID, round)
	if err != nil {
		return fmt.Errorf("settlement: failed to mark %s round %d settled: %w", auctionID, round, err)
	}
	if !first {
		return nil
	}

	e.afterSettled(ctx, auctionID, round, winners)
	return nil
}

// moveFunds settles the money and items of a round. Every step is idempotent,
// so a retry after a partial run converges on the same result.
func (e *Engine) moveFunds(ctx context.Context, auctionID string, round int) ([]model.Winner, error) {
	auction, err := e.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("settlement: failed to load auction %s: %w", auctionID, err)
	}
	record, err := e.durable.GetRound(ctx, auctionID, round)
	if err != nil {
		return nil, fmt.Errorf("settlement: failed to load %s round %d: %w", auctionID, round, err)
	}
	bids, err := e.runtime.GetBids(ctx, auctionID, round)
	if err != nil {
		return nil, fmt.Errorf("settlement: failed to load bids of %s round %d: %w", auctionID, round, err)
	}

	result := ranking.Partition(bids, len(record.ItemIDs))
	items, err := e.newItemCursor(ctx, auction, record)
	if err != nil {
		return nil, err
	}

	winners := make([]model.Winner, 0, len(result.Winners))
	for _, bid := range result.Winners {
		if err := e.wallet.Deduct(ctx, bid.UserID, auctionID, bid.Amount); err != nil {
			if biddingerrors.KindOf(err) != biddingerrors.KindConflict {
				return nil, fmt.Errorf("settlement: failed to charge %s in %s round %d: %w", bid.UserID, auctionID, round, err)
			}
			utils.Error("settlement: winner could not be charged, item stays unsold", map[string]any{
				"auction_id": auctionID,
				"round":      round,
				"user_id":    bid.UserID,
				"amount":     bid.Amount.String(),
				"error":      err.Error(),
			})
			if _, err := e.wallet.Unfreeze(ctx, bid.UserID, auctionID); err != nil {
				return nil, fmt.Errorf("settlement: failed to release %s in %s: %w", bid.UserID, auctionID, err)
			}
			continue
		}

		itemID, err := e.allocate(ctx, items, auctionID, bid)
		if err != nil {
			return nil, err
		}
		if itemID == "" {
			utils.Critical("settlement: winner charged but no item left to allocate", map[string]any{
				"auction_id": auctionID,
				"round":      round,
				"user_id":    bid.UserID,
			})
			continue
		}
		winners = append(winners, model.Winner{UserID: bid.UserID, Amount: bid.Amount, ItemID: itemID})
	}

	for _, bid := range result.Losers {
		if _, err := e.wallet.Unfreeze(ctx, bid.UserID, auctionID); err != nil {
			return nil, fmt.Errorf("settlement: failed to release %s in %s: %w", bid.UserID, auctionID, err)
		}
	}
	return winners, nil
}

// afterSettled runs the steps that follow the settled flag. The round is
// committed at this point, so failures are anomalies rather than errors.
func (e *Engine) afterSettled(ctx context.Context, auctionID string, round int, winners []model.Winner) {
	fields := map[string]any{"auction_id": auctionID, "round": round}

	if err := e.runtime.TransitionPhase(ctx, auctionID, round, model.PhaseClosing, model.PhaseSettled); err != nil {
		utils.Warn("settlement: could not mark round state settled", withError(fields, err))
	}

	utils.Info("settlement: round settled", map[string]any{"auction_id": auctionID, "round": round, "winners": len(winners)})
	e.notifier.Notify(ctx, model.RoundSettledEvent(auctionID, round, winners, e.opts.Now()))

	if err := e.runtime.DeleteBids(ctx, auctionID, round); err != nil {
		utils.Warn("settlement: failed to delete settled bids", withError(fields, err))
	}
	if err := e.runtime.TransitionPhase(ctx, auctionID, round, model.PhaseSettled, model.PhaseAdvancing); err != nil {
		utils.Warn("settlement: could not mark round state advancing", withError(fields, err))
	}

	if err := e.advancer.AdvanceRound(ctx, auctionID, round); err != nil {
		anomaly := fmt.Errorf("%w: advance after settlement: %w", biddingerrors.ErrConsistencyAnomaly, err)
		utils.Critical("settlement: round settled but the next round could not be opened", withError(fields, anomaly))
	}
}

func (e *Engine) releaseClaim(ctx context.Context, auctionID string, round int, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
	defer cancel()
	if err := e.runtime.ReleaseSettlementClaim(ctx, auctionID, round, owner); err != nil {
		utils.Warn("settlement: failed to release claim", map[string]any{
			"auction_id": auctionID,
			"round":      round,
			"error":      err.Error(),
		})
	}
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}

// allocate gives the winner the next free item. An item taken meanwhile by
// another auction over the same collection is skipped. Returns "" when the
// round ran out of items.
func (e *Engine) allocate(ctx context.Context, items *itemCursor, auctionID string, bid model.Bid) (string, error) {
	for {
		itemID, ok := items.next(bid.UserID)
		if !ok {
			return "", nil
		}
		err := e.durable.AllocateItem(ctx, model.Ownership{
			ItemID:        itemID,
			OwnerID:       bid.UserID,
			AuctionID:     auctionID,
			AcquiredPrice: bid.Amount,
			AcquiredAt:    e.opts.Now(),
		})
		switch {
		case err == nil:
			return itemID, nil
		case errors.Is(err, biddingerrors.ErrItemAlreadyOwned):
			utils.Warn("settlement: item sold elsewhere, trying next", map[string]any{
				"auction_id": auctionID,
				"item_id":    itemID,
				"user_id":    bid.UserID,
			})
			items.drop(bid.UserID)
		default:
			return "", fmt.Errorf("settlement: failed to allocate %s to %s: %w", itemID, bid.UserID, err)
		}
	}
}

// itemCursor hands out the round's items in order. Items already allocated
// by an earlier run of this settlement go back to the same winner.
type itemCursor struct {
	free []string
	won  map[string]string // key: userID -> itemID
}

func (e *Engine) newItemCursor(ctx context.Context, auction model.Auction, round model.Round) (*itemCursor, error) {
	owned, err := e.durable.ListOwnerships(ctx, auction.CollectionID)
	if err != nil {
		return nil, fmt.Errorf("settlement: failed to load ownerships of %s: %w", auction.CollectionID, err)
	}
	owners := make(map[string]model.Ownership, len(owned))
	for _, o := range owned {
		owners[o.ItemID] = o
	}

	cursor := &itemCursor{won: make(map[string]string)}
	for _, itemID := range round.ItemIDs {
		o, taken := owners[itemID]
		if !taken {
			cursor.free = append(cursor.free, itemID)
			continue
		}
		if o.AuctionID == auction.AuctionID {
			cursor.won[o.OwnerID] = itemID
		}
	}
	return cursor, nil
}

func (c *itemCursor) next(userID string) (string, bool) {
	if itemID, ok := c.won[userID]; ok {
		return itemID, true
	}
	if len(c.free) == 0 {
		return "", false
	}
	itemID := c.free[0]
	c.free = c.free[1:]
	return itemID, true
}

// drop forgets a remembered item of the user so next moves on to a free one
func (c *itemCursor) drop(userID string) {
	delete(c.won, userID)
}
