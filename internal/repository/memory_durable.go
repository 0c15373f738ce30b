package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryRepo is a concurrency-safe in-memory implementation of DurableRepo
type MemoryRepo struct {
	mu        sync.RWMutex
	auctions  map[string]model.Auction       // key: auctionID
	rounds    map[string]map[int]model.Round // key: auctionID -> round number
	items     map[string]model.Item          // key: itemID
	itemOrder []string                       // insertion order of items
	owners    map[string]model.Ownership     // key: itemID
	balances  map[string]decimal.Decimal     // key: userID
	charges   map[string]decimal.Decimal     // key: userID|auctionID
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		rounds:   make(map[string]map[int]model.Round),
		items:    make(map[string]model.Item),
		owners:   make(map[string]model.Ownership),
		balances: make(map[string]decimal.Decimal),
		charges:  make(map[string]decimal.Decimal),
	}
}

// CreateAuction stores a new auction record
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w - already exists", auction.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns the auction record
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// ListActiveAuctions returns every auction whose status is active, oldest first
func (r *MemoryRepo) ListActiveAuctions(_ context.Context) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if a.Status == model.StatusActive {
			active = append(active, a)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].AuctionID < active[j].AuctionID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// SetCurrentRound records the round number the auction is running
func (r *MemoryRepo) SetCurrentRound(_ context.Context, auctionID string, round int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return fmt.Errorf("set current round of %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	auction.CurrentRoundNumber = round
	r.auctions[auctionID] = auction
	return nil
}

// FinishAuction marks the auction finished
func (r *MemoryRepo) FinishAuction(_ context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return fmt.Errorf("finish auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	auction.Status = model.StatusFinished
	r.auctions[auctionID] = auction
	return nil
}

// CreateRound stores a new round record
func (r *MemoryRepo) CreateRound(_ context.Context, round model.Round) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[round.AuctionID]; !ok {
		return fmt.Errorf("create round %d of %s: %w", round.RoundNumber, round.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if r.rounds[round.AuctionID] == nil {
		r.rounds[round.AuctionID] = make(map[int]model.Round)
	}
	if _, ok := r.rounds[round.AuctionID][round.RoundNumber]; ok {
		return fmt.Errorf("create round %d of %s: %w - already exists", round.RoundNumber, round.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	round.ItemIDs = append([]string(nil), round.ItemIDs...)
	r.rounds[round.AuctionID][round.RoundNumber] = round
	return nil
}

// GetRound returns one round of an auction
func (r *MemoryRepo) GetRound(_ context.Context, auctionID string, number int) (model.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	round, ok := r.rounds[auctionID][number]
	if !ok {
		return model.Round{}, fmt.Errorf("get round %d of %s: %w", number, auctionID, biddingerrors.ErrRoundNotFound)
	}
	return copyRound(round), nil
}

// GetLatestRound returns the round with the highest number
func (r *MemoryRepo) GetLatestRound(_ context.Context, auctionID string) (model.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := 0
	for n := range r.rounds[auctionID] {
		if n > latest {
			latest = n
		}
	}
	if latest == 0 {
		return model.Round{}, fmt.Errorf("get latest round of %s: %w", auctionID, biddingerrors.ErrRoundNotFound)
	}
	return copyRound(r.rounds[auctionID][latest]), nil
}

// ListRounds returns every round of an auction ordered by number
func (r *MemoryRepo) ListRounds(_ context.Context, auctionID string) ([]model.Round, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rounds := make([]model.Round, 0, len(r.rounds[auctionID]))
	for _, round := range r.rounds[auctionID] {
		rounds = append(rounds, copyRound(round))
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].RoundNumber < rounds[j].RoundNumber })
	return rounds, nil
}

// FinishRound marks a round finished; finishing twice keeps the first end time
func (r *MemoryRepo) FinishRound(_ context.Context, auctionID string, number int, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	round, ok := r.rounds[auctionID][number]
	if !ok {
		return fmt.Errorf("finish round %d of %s: %w", number, auctionID, biddingerrors.ErrRoundNotFound)
	}
	if round.Status == model.StatusFinished {
		return nil
	}
	round.Status = model.StatusFinished
	round.EndedAt = endedAt
	r.rounds[auctionID][number] = round
	return nil
}

// AddItems adds catalog items to the repository
func (r *MemoryRepo) AddItems(_ context.Context, items ...model.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		if item.ItemID == "" || item.CollectionID == "" {
			return fmt.Errorf("add item: %w - missing item or collection id", biddingerrors.ErrInvalidAuction)
		}
		if _, ok := r.items[item.ItemID]; !ok {
			r.itemOrder = append(r.itemOrder, item.ItemID)
		}
		r.items[item.ItemID] = item
	}
	return nil
}

// ListCollectionItems returns the items of a collection in insertion order
func (r *MemoryRepo) ListCollectionItems(_ context.Context, collectionID string) ([]model.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]model.Item, 0)
	for _, id := range r.itemOrder {
		if item := r.items[id]; item.CollectionID == collectionID {
			items = append(items, item)
		}
	}
	return items, nil
}

// AllocateItem records a new owner for an item
func (r *MemoryRepo) AllocateItem(_ context.Context, ownership model.Ownership) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[ownership.ItemID]; !ok {
		return fmt.Errorf("allocate item %s: %w", ownership.ItemID, biddingerrors.ErrItemNotFound)
	}
	if existing, ok := r.owners[ownership.ItemID]; ok {
		if existing.OwnerID == ownership.OwnerID {
			return nil
		}
		return fmt.Errorf("allocate item %s to %s: %w", ownership.ItemID, ownership.OwnerID, biddingerrors.ErrItemAlreadyOwned)
	}
	r.owners[ownership.ItemID] = ownership
	return nil
}

// ListOwnerships returns the owned items of a collection
func (r *MemoryRepo) ListOwnerships(_ context.Context, collectionID string) ([]model.Ownership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := make([]model.Ownership, 0)
	for _, id := range r.itemOrder {
		if r.items[id].CollectionID != collectionID {
			continue
		}
		if o, ok := r.owners[id]; ok {
			owned = append(owned, o)
		}
	}
	return owned, nil
}

// ListOwnershipsByUser returns every item a user acquired
func (r *MemoryRepo) ListOwnershipsByUser(_ context.Context, userID string) ([]model.Ownership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := make([]model.Ownership, 0)
	for _, id := range r.itemOrder {
		if o, ok := r.owners[id]; ok && o.OwnerID == userID {
			owned = append(owned, o)
		}
	}
	return owned, nil
}

// GetBalance returns the wallet balance; unknown users have a zero balance
func (r *MemoryRepo) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balances[userID], nil
}

// Deposit credits a wallet and returns the new balance
func (r *MemoryRepo) Deposit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("deposit for %s: %w - non-positive amount", userID, biddingerrors.ErrInvalidBid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.balances[userID] = r.balances[userID].Add(amount)
	return r.balances[userID], nil
}

// Charge deducts amount from the balance once per (user, auction)
func (r *MemoryRepo) Charge(_ context.Context, userID, auctionID string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := userID + "|" + auctionID
	if _, ok := r.charges[key]; ok {
		return nil
	}
	if r.balances[userID].LessThan(amount) {
		return fmt.Errorf("charge %s for %s: %w", amount, userID, biddingerrors.ErrInsufficientBalance)
	}
	r.balances[userID] = r.balances[userID].Sub(amount)
	r.charges[key] = amount
	return nil
}

func copyRound(round model.Round) model.Round {
	round.ItemIDs = append([]string(nil), round.ItemIDs...)
	return round
}
