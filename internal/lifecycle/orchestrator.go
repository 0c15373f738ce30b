package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/notify"
	"auction-rounds/internal/repository"
	"auction-rounds/utils"

	"github.com/shopspring/decimal"
)

// Releaser force-releases reservations when an auction ends
type Releaser interface {
	Unfreeze(ctx context.Context, userID, auctionID string) (decimal.Decimal, error)
}

// Orchestrator creates auctions and moves them from round to round until
// every item of the collection is owned
type Orchestrator struct {
	durable  repository.DurableRepo
	runtime  repository.RuntimeStateRepo
	wallet   Releaser
	notifier notify.Notifier
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator; now defaults to time.Now
func NewOrchestrator(durable repository.DurableRepo, runtime repository.RuntimeStateRepo, wallet Releaser, notifier notify.Notifier, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		durable:  durable,
		runtime:  runtime,
		wallet:   wallet,
		notifier: notifier,
		now:      now,
	}
}

// CreateAuction plans an auction over the unowned items of a collection and opens round 1
func (o *Orchestrator) CreateAuction(ctx context.Context, collectionID string, roundDuration time.Duration, itemsPerRound int) (model.Auction, error) {
	if collectionID == "" {
		return model.Auction{}, fmt.Errorf("lifecycle: %w - empty collection ID", biddingerrors.ErrInvalidAuction)
	}
	if roundDuration <= 0 || itemsPerRound <= 0 {
		return model.Auction{}, fmt.Errorf("lifecycle: %w - round duration and items per round must be positive", biddingerrors.ErrInvalidAuction)
	}

	unowned, err := o.unownedItems(ctx, collectionID)
	if err != nil {
		return model.Auction{}, err
	}
	if len(unowned) == 0 {
		return model.Auction{}, fmt.Errorf("lifecycle: %w - collection %s", biddingerrors.ErrEmptyCollection, collectionID)
	}

	auction := model.Auction{
		AuctionID:     utils.GenerateID(),
		CollectionID:  collectionID,
		RoundDuration: roundDuration,
		ItemsPerRound: itemsPerRound,
		TotalRounds:   (len(unowned) + itemsPerRound - 1) / itemsPerRound,
		Status:        model.StatusActive,
		CreatedAt:     o.now().UTC(),
	}
	if err := o.durable.CreateAuction(ctx, auction); err != nil {
		return model.Auction{}, fmt.Errorf("lifecycle: failed to create auction: %w", err)
	}

	utils.Info("lifecycle: auction created", map[string]any{
		"auction_id":    auction.AuctionID,
		"collection_id": collectionID,
		"items":         len(unowned),
		"total_rounds":  auction.TotalRounds,
	})

	if err := o.OpenFirstRound(ctx, auction); err != nil {
		return model.Auction{}, err
	}
	auction.CurrentRoundNumber = 1
	return auction, nil
}

// OpenFirstRound starts round 1 with up to items-per-round unowned items
func (o *Orchestrator) OpenFirstRound(ctx context.Context, auction model.Auction) error {
	unowned, err := o.unownedItems(ctx, auction.CollectionID)
	if err != nil {
		return err
	}
	if len(unowned) == 0 {
		return o.FinishAuction(ctx, auction.AuctionID)
	}
	if len(unowned) > auction.ItemsPerRound {
		unowned = unowned[:auction.ItemsPerRound]
	}
	itemIDs := make([]string, 0, len(unowned))
	for _, item := range unowned {
		itemIDs = append(itemIDs, item.ItemID)
	}
	_, err = o.StartRound(ctx, auction, 1, itemIDs)
	return err
}

// StartRound persists the round (reusing an existing record), makes it the
// current round and opens it for bids until started_at + round duration
func (o *Orchestrator) StartRound(ctx context.Context, auction model.Auction, number int, itemIDs []string) (model.Round, error) {
	round, err := o.durable.GetRound(ctx, auction.AuctionID, number)
	switch {
	case errors.Is(err, biddingerrors.ErrRoundNotFound):
		round = model.Round{
			AuctionID:   auction.AuctionID,
			RoundNumber: number,
			ItemIDs:     itemIDs,
			Status:      model.StatusActive,
			StartedAt:   o.now().UTC(),
		}
		if err := o.durable.CreateRound(ctx, round); err != nil {
			return model.Round{}, fmt.Errorf("lifecycle: failed to create %s round %d: %w", auction.AuctionID, number, err)
		}
	case err != nil:
		return model.Round{}, fmt.Errorf("lifecycle: failed to load %s round %d: %w", auction.AuctionID, number, err)
	}

	if err := o.durable.SetCurrentRound(ctx, auction.AuctionID, number); err != nil {
		return model.Round{}, fmt.Errorf("lifecycle: failed to set current round of %s: %w", auction.AuctionID, err)
	}

	deadline := round.Deadline(auction.RoundDuration)
	state := model.RoundState{
		Round:    number,
		Status:   model.StatusActive,
		Deadline: deadline,
		Phase:    model.PhaseOpen,
	}
	if err := o.runtime.SaveRoundState(ctx, auction.AuctionID, state); err != nil {
		return model.Round{}, fmt.Errorf("lifecycle: failed to save round state of %s: %w", auction.AuctionID, err)
	}
	entry := model.TimerEntry{AuctionID: auction.AuctionID, Round: number, Deadline: deadline}
	if err := o.runtime.ScheduleRound(ctx, entry); err != nil {
		return model.Round{}, fmt.Errorf("lifecycle: failed to schedule %s round %d: %w", auction.AuctionID, number, err)
	}

	utils.Info("lifecycle: round started", map[string]any{
		"auction_id": auction.AuctionID,
		"round":      number,
		"items":      len(round.ItemIDs),
		"deadline":   deadline.Format(time.RFC3339),
	})
	o.notifier.Notify(ctx, model.RoundStartedEvent(auction.AuctionID, number, deadline, o.now()))
	return round, nil
}

// AdvanceRound opens the round after fromRound, or finishes the auction when
// no unowned item is left. It is a no-op if the auction already moved on.
func (o *Orchestrator) AdvanceRound(ctx context.Context, auctionID string, fromRound int) error {
	auction, err := o.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to load auction %s: %w", auctionID, err)
	}
	if auction.Status != model.StatusActive || auction.CurrentRoundNumber > fromRound {
		utils.Debug("lifecycle: advance skipped", map[string]any{
			"auction_id":    auctionID,
			"from_round":    fromRound,
			"current_round": auction.CurrentRoundNumber,
			"status":        string(auction.Status),
		})
		return nil
	}

	unowned, err := o.unownedItems(ctx, auction.CollectionID)
	if err != nil {
		return err
	}
	if len(unowned) == 0 {
		return o.FinishAuction(ctx, auctionID)
	}

	rounds, err := o.durable.ListRounds(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to list rounds of %s: %w", auctionID, err)
	}
	next := nextRoundItems(rounds, fromRound, unowned, auction.ItemsPerRound)

	number := fromRound + 1
	if number > auction.TotalRounds {
		utils.Info("lifecycle: opening over-round, unsold items remain", map[string]any{
			"auction_id":   auctionID,
			"round":        number,
			"total_rounds": auction.TotalRounds,
			"unsold":       len(unowned),
		})
	}

	if err := o.runtime.UnscheduleRound(ctx, auctionID, fromRound); err != nil {
		return fmt.Errorf("lifecycle: failed to unschedule %s round %d: %w", auctionID, fromRound, err)
	}
	_, err = o.StartRound(ctx, auction, number, next)
	return err
}

// nextRoundItems carries the unsold items of fromRound, then items left
// unsold by older rounds, then up to perRound items never offered before
func nextRoundItems(rounds []model.Round, fromRound int, unowned []model.Item, perRound int) []string {
	unsold := make(map[string]bool, len(unowned))
	for _, item := range unowned {
		unsold[item.ItemID] = true
	}

	offered := make(map[string]bool)
	var carried, leftover []string
	for _, round := range rounds {
		for _, itemID := range round.ItemIDs {
			offered[itemID] = true
		}
	}
	for _, round := range rounds {
		if round.RoundNumber != fromRound {
			continue
		}
		for _, itemID := range round.ItemIDs {
			if unsold[itemID] {
				carried = append(carried, itemID)
			}
		}
	}

	picked := make(map[string]bool, len(carried))
	for _, itemID := range carried {
		picked[itemID] = true
	}
	for _, round := range rounds {
		for _, itemID := range round.ItemIDs {
			if unsold[itemID] && !picked[itemID] {
				leftover = append(leftover, itemID)
				picked[itemID] = true
			}
		}
	}

	next := append(carried, leftover...)
	fresh := 0
	for _, item := range unowned {
		if fresh == perRound {
			break
		}
		if !offered[item.ItemID] {
			next = append(next, item.ItemID)
			fresh++
		}
	}
	return next
}

// FinishAuction releases whatever funds the auction's bidders still have
// frozen, drops its runtime state and then closes it for good. The durable
// status flips last, so a failed run leaves the auction active and the next
// advance or recovery repeats the cleanup.
func (o *Orchestrator) FinishAuction(ctx context.Context, auctionID string) error {
	auction, err := o.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to load auction %s: %w", auctionID, err)
	}

	bidders, err := o.runtime.BidLockMembers(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("lifecycle: failed to list bidders of %s: %w", auctionID, err)
	}
	var errs []error
	for _, userID := range bidders {
		if _, err := o.wallet.Unfreeze(ctx, userID, auctionID); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", userID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("lifecycle: failed to release frozen funds of %s: %w", auctionID, err)
	}

	if err := o.runtime.UnscheduleAuction(ctx, auctionID, auction.CurrentRoundNumber); err != nil {
		return fmt.Errorf("lifecycle: failed to unschedule %s: %w", auctionID, err)
	}
	if err := o.runtime.ClearBidLock(ctx, auctionID); err != nil {
		return fmt.Errorf("lifecycle: failed to clear bid lock of %s: %w", auctionID, err)
	}
	if err := o.runtime.DeleteRoundState(ctx, auctionID); err != nil {
		return fmt.Errorf("lifecycle: failed to delete round state of %s: %w", auctionID, err)
	}

	if err := o.durable.FinishAuction(ctx, auctionID); err != nil {
		return fmt.Errorf("lifecycle: failed to finish auction %s: %w", auctionID, err)
	}

	utils.Info("lifecycle: auction finished", map[string]any{"auction_id": auctionID, "bidders": len(bidders)})
	o.notifier.Notify(ctx, model.AuctionFinishedEvent(auctionID, o.now()))
	return nil
}

// unownedItems returns the collection's items nobody owns yet, in catalog order
func (o *Orchestrator) unownedItems(ctx context.Context, collectionID string) ([]model.Item, error) {
	items, err := o.durable.ListCollectionItems(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: failed to list items of %s: %w", collectionID, err)
	}
	owned, err := o.durable.ListOwnerships(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: failed to list owners of %s: %w", collectionID, err)
	}

	taken := make(map[string]bool, len(owned))
	for _, ownership := range owned {
		taken[ownership.ItemID] = true
	}
	unowned := make([]model.Item, 0, len(items))
	for _, item := range items {
		if !taken[item.ItemID] {
			unowned = append(unowned, item)
		}
	}
	return unowned, nil
}
