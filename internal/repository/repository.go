package repository

import (
	"context"
	"time"

	model "auction-rounds/internal/models"

	"github.com/shopspring/decimal"
)

// AuctionStore persists auction records
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListActiveAuctions(ctx context.Context) ([]model.Auction, error)
	SetCurrentRound(ctx context.Context, auctionID string, round int) error
	FinishAuction(ctx context.Context, auctionID string) error
}

// RoundStore persists round records
type RoundStore interface {
	CreateRound(ctx context.Context, round model.Round) error
	GetRound(ctx context.Context, auctionID string, number int) (model.Round, error)
	GetLatestRound(ctx context.Context, auctionID string) (model.Round, error)
	ListRounds(ctx context.Context, auctionID string) ([]model.Round, error)
	FinishRound(ctx context.Context, auctionID string, number int, endedAt time.Time) error
}

// CatalogStore persists items and who owns them
type CatalogStore interface {
	AddItems(ctx context.Context, items ...model.Item) error
	ListCollectionItems(ctx context.Context, collectionID string) ([]model.Item, error)
	// AllocateItem is idempotent for the same owner and fails with ErrItemAlreadyOwned otherwise
	AllocateItem(ctx context.Context, ownership model.Ownership) error
	ListOwnerships(ctx context.Context, collectionID string) ([]model.Ownership, error)
	ListOwnershipsByUser(ctx context.Context, userID string) ([]model.Ownership, error)
}

// WalletStore persists user balances
type WalletStore interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	// Charge deducts amount once per (user, auction); repeated charges are no-ops
	Charge(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error
}

// DurableRepo is the eventually-durable store of record
type DurableRepo interface {
	AuctionStore
	RoundStore
	CatalogStore
	WalletStore
}

// RoundStateStore holds the per-auction runtime round state
type RoundStateStore interface {
	SaveRoundState(ctx context.Context, auctionID string, state model.RoundState) error
	GetRoundState(ctx context.Context, auctionID string) (model.RoundState, error)
	// TransitionPhase moves the phase of the given round atomically, failing with
	// ErrPhaseConflict when the stored round or phase does not match
	TransitionPhase(ctx context.Context, auctionID string, round int, from, to model.RoundPhase) error
	DeleteRoundState(ctx context.Context, auctionID string) error
}

// BidLedger holds sealed bids per round and the per-auction bid lock
type BidLedger interface {
	AcquireBidLock(ctx context.Context, auctionID, userID string) (bool, error)
	ReleaseBidLock(ctx context.Context, auctionID, userID string) error
	BidLockMembers(ctx context.Context, auctionID string) ([]string, error)
	ClearBidLock(ctx context.Context, auctionID string) error
	// AddOpenBid records the bid only while bid.Round is the auction's current
	// round and still open, checked and written in one atomic step. It fails
	// with ErrRoundNotOpen without round state and ErrRoundClosing otherwise.
	AddOpenBid(ctx context.Context, bid model.Bid) error
	GetBids(ctx context.Context, auctionID string, round int) ([]model.Bid, error)
	DeleteBids(ctx context.Context, auctionID string, round int) error
}

// FrozenStore holds funds reserved per (user, auction)
type FrozenStore interface {
	// FreezeWithin sets the frozen amount for (user, auction) when the user's other
	// frozen amounts plus amount stay within limit. It reports false otherwise.
	FreezeWithin(ctx context.Context, userID, auctionID string, amount, limit decimal.Decimal) (bool, error)
	ReleaseFrozen(ctx context.Context, userID, auctionID string) (decimal.Decimal, error)
	FrozenAmount(ctx context.Context, userID, auctionID string) (decimal.Decimal, error)
	TotalFrozen(ctx context.Context, userID string) (decimal.Decimal, error)
}

// SettlementMarks holds the settlement idempotency flag and the settlement lease
type SettlementMarks interface {
	MarkSettled(ctx context.Context, auctionID string, round int) (bool, error)
	IsSettled(ctx context.Context, auctionID string, round int) (bool, error)
	ClaimSettlement(ctx context.Context, auctionID string, round int, owner string, ttl time.Duration) (bool, error)
	ReleaseSettlementClaim(ctx context.Context, auctionID string, round int, owner string) error
}

// TimerIndex is the global sorted index of open round deadlines
type TimerIndex interface {
	ScheduleRound(ctx context.Context, entry model.TimerEntry) error
	DueRounds(ctx context.Context, now time.Time, limit int) ([]model.TimerEntry, error)
	UnscheduleRound(ctx context.Context, auctionID string, round int) error
	// UnscheduleAuction removes the entries of rounds 1..lastRound
	UnscheduleAuction(ctx context.Context, auctionID string, lastRound int) error
}

// RuntimeStateRepo is the fast ephemeral store; it is the only source of mutual exclusion
type RuntimeStateRepo interface {
	RoundStateStore
	BidLedger
	FrozenStore
	SettlementMarks
	TimerIndex
}
