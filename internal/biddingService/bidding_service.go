package bidding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/notify"
	"auction-rounds/internal/repository"
	"auction-rounds/utils"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=bidding_service.go -destination=mock_wallet.go -package=bidding

// Wallet is the fund reservation contract admission relies on
type Wallet interface {
	Freeze(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error
	Unfreeze(ctx context.Context, userID, auctionID string) (decimal.Decimal, error)
	AvailableBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

const (
	DefaultAntiSnipeWindow = 10 * time.Second
	DefaultStoreTimeout    = 2 * time.Second
)

// Options tunes admission timing
type Options struct {
	AntiSnipeWindow time.Duration
	StoreTimeout    time.Duration
	Now             func() time.Time
}

// BiddingService admits sealed bids, one per user per auction
type BiddingService struct {
	durable  repository.DurableRepo
	runtime  repository.RuntimeStateRepo
	wallet   Wallet
	notifier notify.Notifier
	opts     Options
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(durable repository.DurableRepo, runtime repository.RuntimeStateRepo, wallet Wallet, notifier notify.Notifier, opts Options) *BiddingService {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.AntiSnipeWindow < 0 {
		opts.AntiSnipeWindow = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &BiddingService{
		durable:  durable,
		runtime:  runtime,
		wallet:   wallet,
		notifier: notifier,
		opts:     opts,
	}
}

// PlaceBid validates and records a user's single bid in the auction's current round.
// A failure after the bid lock was taken leaves no lock, freeze or bid behind.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (model.Bid, error) {
	if err := validateBid(auctionID, userID, amount); err != nil {
		return model.Bid{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	state, err := s.admissionState(ctx, auctionID)
	if err != nil {
		return model.Bid{}, err
	}

	acquired, err := s.runtime.AcquireBidLock(ctx, auctionID, userID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to lock bid of %s in %s: %w", userID, auctionID, err)
	}
	if !acquired {
		return model.Bid{}, fmt.Errorf("service: %w - user %s already bid in auction %s", biddingerrors.ErrDuplicateBid, userID, auctionID)
	}

	if err := s.wallet.Freeze(ctx, userID, auctionID, amount); err != nil {
		// an ambiguous store failure may still have written the freeze
		s.rollback(ctx, auctionID, userID, !errors.Is(err, biddingerrors.ErrInsufficientBalance))
		return model.Bid{}, fmt.Errorf("service: failed to freeze funds of %s: %w", userID, err)
	}

	now := s.opts.Now()
	bid := model.Bid{
		BidID:     utils.GenerateID(),
		AuctionID: auctionID,
		Round:     state.Round,
		UserID:    userID,
		Amount:    amount,
		PlacedAt:  time.UnixMilli(now.UnixMilli()).UTC(),
	}

	// the round may have closed since admissionState; the write rechecks it
	if err := s.runtime.AddOpenBid(ctx, bid); err != nil {
		s.rollback(ctx, auctionID, userID, true)
		return model.Bid{}, fmt.Errorf("service: failed to record bid of %s in %s: %w", userID, auctionID, err)
	}

	s.notifier.Notify(ctx, model.BidPlacedEvent(bid))
	return bid, nil
}

// validateBid checks input validity
func validateBid(auctionID, userID string, amount decimal.Decimal) error {
	if auctionID == "" || userID == "" {
		return fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidBid)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	return nil
}

// admissionState checks the auction and its round accept bids right now
func (s *BiddingService) admissionState(ctx context.Context, auctionID string) (model.RoundState, error) {
	auction, err := s.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return model.RoundState{}, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err)
	}
	if auction.Status != model.StatusActive {
		return model.RoundState{}, fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auctionID, auction.Status)
	}

	state, err := s.runtime.GetRoundState(ctx, auctionID)
	if errors.Is(err, biddingerrors.ErrRoundStateNotFound) {
		return model.RoundState{}, fmt.Errorf("service: %w - auction %s has no open round", biddingerrors.ErrRoundNotOpen, auctionID)
	}
	if err != nil {
		return model.RoundState{}, fmt.Errorf("service: failed to load round state of %s: %w", auctionID, err)
	}
	if state.Status != model.StatusActive {
		return model.RoundState{}, fmt.Errorf("service: %w - auction %s is %s", biddingerrors.ErrAuctionNotActive, auctionID, state.Status)
	}
	if state.Settling() {
		return model.RoundState{}, fmt.Errorf("service: %w - round %d is %s", biddingerrors.ErrRoundClosing, state.Round, state.Phase)
	}

	remaining := state.Deadline.Sub(s.opts.Now())
	if remaining <= 0 {
		return model.RoundState{}, fmt.Errorf("service: %w - round %d deadline passed", biddingerrors.ErrRoundClosing, state.Round)
	}
	if remaining < s.opts.AntiSnipeWindow {
		seconds := int(math.Ceil(remaining.Seconds()))
		return model.RoundState{}, fmt.Errorf("service: %w - %d seconds remaining in round %d", biddingerrors.ErrAntiSnipeWindow, seconds, state.Round)
	}
	return state, nil
}

// rollback releases the bid lock and, when asked, any freeze written for the bid.
// It runs on a fresh deadline so a timed out admission can still clean up.
func (s *BiddingService) rollback(ctx context.Context, auctionID, userID string, unfreeze bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()

	if unfreeze {
		if _, err := s.wallet.Unfreeze(ctx, userID, auctionID); err != nil {
			utils.Error("service: failed to roll back freeze", map[string]any{
				"auction_id": auctionID,
				"user_id":    userID,
				"error":      err.Error(),
			})
		}
	}
	if err := s.runtime.ReleaseBidLock(ctx, auctionID, userID); err != nil {
		utils.Error("service: failed to roll back bid lock", map[string]any{
			"auction_id": auctionID,
			"user_id":    userID,
			"error":      err.Error(),
		})
	}
}

// GetAuction returns the durable auction record
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	auction, err := s.durable.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// GetRoundState returns the runtime state of the auction's current round
func (s *BiddingService) GetRoundState(ctx context.Context, auctionID string) (model.RoundState, error) {
	if auctionID == "" {
		return model.RoundState{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	state, err := s.runtime.GetRoundState(ctx, auctionID)
	if err != nil {
		return model.RoundState{}, fmt.Errorf("service: failed to get round state of %s: %w", auctionID, err)
	}
	return state, nil
}

// AvailableBalance returns the user's balance minus funds frozen in every auction
func (s *BiddingService) AvailableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}
	return s.wallet.AvailableBalance(ctx, userID)
}

// Deposit credits the user's wallet and returns the new balance
func (s *BiddingService) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("service: %w - non-positive deposit", biddingerrors.ErrInvalidBid)
	}
	return s.wallet.Deposit(ctx, userID, amount)
}

// GetItemsByUser returns every item the user acquired
func (s *BiddingService) GetItemsByUser(ctx context.Context, userID string) ([]model.Ownership, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	owned, err := s.durable.ListOwnershipsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get items for user %s: %w", userID, err)
	}
	return owned, nil
}
