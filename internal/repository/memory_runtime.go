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

type roundKey struct {
	auctionID string
	round     int
}

type settlementClaim struct {
	owner     string
	expiresAt time.Time
}

// MemoryRuntimeRepo is an in-process RuntimeStateRepo. Every operation runs under
// one mutex, which gives it the same single-command atomicity as Redis.
type MemoryRuntimeRepo struct {
	mu      sync.Mutex
	now     func() time.Time
	states  map[string]model.RoundState
	locks   map[string]map[string]struct{}
	bids    map[roundKey][]model.Bid
	settled map[roundKey]bool
	claims  map[roundKey]settlementClaim
	frozen  map[string]map[string]decimal.Decimal // key: userID -> auctionID -> amount
	timers  map[roundKey]time.Time
}

// NewMemoryRuntimeRepo creates an empty in-process runtime store
func NewMemoryRuntimeRepo() *MemoryRuntimeRepo {
	r := &MemoryRuntimeRepo{now: time.Now}
	r.Wipe()
	return r
}

// Wipe drops every key, as if the ephemeral store had been flushed
func (r *MemoryRuntimeRepo) Wipe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states = make(map[string]model.RoundState)
	r.locks = make(map[string]map[string]struct{})
	r.bids = make(map[roundKey][]model.Bid)
	r.settled = make(map[roundKey]bool)
	r.claims = make(map[roundKey]settlementClaim)
	r.frozen = make(map[string]map[string]decimal.Decimal)
	r.timers = make(map[roundKey]time.Time)
}

// SaveRoundState overwrites the runtime state of an auction
func (r *MemoryRuntimeRepo) SaveRoundState(_ context.Context, auctionID string, state model.RoundState) error {
	if !state.Phase.Valid() {
		return fmt.Errorf("save round state of %s: unknown phase %q", auctionID, state.Phase)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[auctionID] = state
	return nil
}

// GetRoundState returns the runtime state of an auction
func (r *MemoryRuntimeRepo) GetRoundState(_ context.Context, auctionID string) (model.RoundState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[auctionID]
	if !ok {
		return model.RoundState{}, fmt.Errorf("get round state of %s: %w", auctionID, biddingerrors.ErrRoundStateNotFound)
	}
	return state, nil
}

// TransitionPhase compares round and phase and swaps in the new phase
func (r *MemoryRuntimeRepo) TransitionPhase(_ context.Context, auctionID string, round int, from, to model.RoundPhase) error {
	if err := from.ValidateTransition(to); err != nil {
		return fmt.Errorf("transition %s round %d: %w", auctionID, round, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[auctionID]
	if !ok {
		return fmt.Errorf("transition %s round %d: %w", auctionID, round, biddingerrors.ErrRoundStateNotFound)
	}
	if state.Round != round || state.Phase != from {
		return fmt.Errorf("transition %s round %d %s->%s, found round %d %s: %w",
			auctionID, round, from, to, state.Round, state.Phase, biddingerrors.ErrPhaseConflict)
	}
	state.Phase = to
	r.states[auctionID] = state
	return nil
}

// DeleteRoundState removes the runtime state of an auction
func (r *MemoryRuntimeRepo) DeleteRoundState(_ context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, auctionID)
	return nil
}

// AcquireBidLock adds the user to the auction's bid lock, reporting false if already present
func (r *MemoryRuntimeRepo) AcquireBidLock(_ context.Context, auctionID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.locks[auctionID]
	if members == nil {
		members = make(map[string]struct{})
		r.locks[auctionID] = members
	}
	if _, ok := members[userID]; ok {
		return false, nil
	}
	members[userID] = struct{}{}
	return true, nil
}

// ReleaseBidLock removes the user from the auction's bid lock
func (r *MemoryRuntimeRepo) ReleaseBidLock(_ context.Context, auctionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks[auctionID], userID)
	return nil
}

// BidLockMembers returns the users holding the auction's bid lock, sorted
func (r *MemoryRuntimeRepo) BidLockMembers(_ context.Context, auctionID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.locks[auctionID]))
	for userID := range r.locks[auctionID] {
		members = append(members, userID)
	}
	sort.Strings(members)
	return members, nil
}

// ClearBidLock drops the auction's bid lock
func (r *MemoryRuntimeRepo) ClearBidLock(_ context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, auctionID)
	return nil
}

// AddOpenBid appends a bid to its round while that round is open
func (r *MemoryRuntimeRepo) AddOpenBid(_ context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[bid.AuctionID]
	if !ok {
		return fmt.Errorf("add bid to %s: %w", bid.AuctionID, biddingerrors.ErrRoundNotOpen)
	}
	if state.Round != bid.Round || state.Phase != model.PhaseOpen {
		return fmt.Errorf("add bid to %s round %d, found round %d %s: %w",
			bid.AuctionID, bid.Round, state.Round, state.Phase, biddingerrors.ErrRoundClosing)
	}
	key := roundKey{bid.AuctionID, bid.Round}
	r.bids[key] = append(r.bids[key], bid)
	return nil
}

// AddBid appends a bid whatever the round's phase. Fixtures use it to stage
// bids of rounds that are already closing.
func (r *MemoryRuntimeRepo) AddBid(_ context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roundKey{bid.AuctionID, bid.Round}
	r.bids[key] = append(r.bids[key], bid)
	return nil
}

// GetBids returns the bids of a round ordered by amount, lowest first
func (r *MemoryRuntimeRepo) GetBids(_ context.Context, auctionID string, round int) ([]model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bids := append([]model.Bid(nil), r.bids[roundKey{auctionID, round}]...)
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Amount.LessThan(bids[j].Amount) })
	return bids, nil
}

// DeleteBids drops the bids of a round
func (r *MemoryRuntimeRepo) DeleteBids(_ context.Context, auctionID string, round int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bids, roundKey{auctionID, round})
	return nil
}

// FreezeWithin reserves amount for (user, auction) if it fits under limit
func (r *MemoryRuntimeRepo) FreezeWithin(_ context.Context, userID, auctionID string, amount, limit decimal.Decimal) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	others := decimal.Zero
	for id, frozen := range r.frozen[userID] {
		if id != auctionID {
			others = others.Add(frozen)
		}
	}
	if others.Add(amount).GreaterThan(limit) {
		return false, nil
	}
	if r.frozen[userID] == nil {
		r.frozen[userID] = make(map[string]decimal.Decimal)
	}
	r.frozen[userID][auctionID] = amount
	return true, nil
}

// ReleaseFrozen drops the reservation for (user, auction) and returns the released amount
func (r *MemoryRuntimeRepo) ReleaseFrozen(_ context.Context, userID, auctionID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	amount := r.frozen[userID][auctionID]
	delete(r.frozen[userID], auctionID)
	if len(r.frozen[userID]) == 0 {
		delete(r.frozen, userID)
	}
	return amount, nil
}

// FrozenAmount returns the reservation for (user, auction)
func (r *MemoryRuntimeRepo) FrozenAmount(_ context.Context, userID, auctionID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen[userID][auctionID], nil
}

// TotalFrozen sums the user's reservations across all auctions
func (r *MemoryRuntimeRepo) TotalFrozen(_ context.Context, userID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := decimal.Zero
	for _, frozen := range r.frozen[userID] {
		total = total.Add(frozen)
	}
	return total, nil
}

// MarkSettled sets the settled flag, reporting true only for the first writer
func (r *MemoryRuntimeRepo) MarkSettled(_ context.Context, auctionID string, round int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roundKey{auctionID, round}
	if r.settled[key] {
		return false, nil
	}
	r.settled[key] = true
	return true, nil
}

// IsSettled reports whether the round was settled
func (r *MemoryRuntimeRepo) IsSettled(_ context.Context, auctionID string, round int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled[roundKey{auctionID, round}], nil
}

// ClaimSettlement takes the settlement lease unless someone else holds an unexpired one
func (r *MemoryRuntimeRepo) ClaimSettlement(_ context.Context, auctionID string, round int, owner string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roundKey{auctionID, round}
	now := r.now()
	if claim, ok := r.claims[key]; ok && now.Before(claim.expiresAt) {
		return false, nil
	}
	r.claims[key] = settlementClaim{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

// ReleaseSettlementClaim drops the lease if owner still holds it
func (r *MemoryRuntimeRepo) ReleaseSettlementClaim(_ context.Context, auctionID string, round int, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roundKey{auctionID, round}
	if claim, ok := r.claims[key]; ok && claim.owner == owner {
		delete(r.claims, key)
	}
	return nil
}

// ScheduleRound adds or replaces a timer entry
func (r *MemoryRuntimeRepo) ScheduleRound(_ context.Context, entry model.TimerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[roundKey{entry.AuctionID, entry.Round}] = entry.Deadline
	return nil
}

// DueRounds returns entries whose deadline is not after now, earliest first
func (r *MemoryRuntimeRepo) DueRounds(_ context.Context, now time.Time, limit int) ([]model.TimerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]model.TimerEntry, 0)
	for key, deadline := range r.timers {
		if !deadline.After(now) {
			due = append(due, model.TimerEntry{AuctionID: key.auctionID, Round: key.round, Deadline: deadline})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Deadline.Equal(due[j].Deadline) {
			return timerMember(due[i].AuctionID, due[i].Round) < timerMember(due[j].AuctionID, due[j].Round)
		}
		return due[i].Deadline.Before(due[j].Deadline)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UnscheduleRound removes a timer entry
func (r *MemoryRuntimeRepo) UnscheduleRound(_ context.Context, auctionID string, round int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.timers, roundKey{auctionID, round})
	return nil
}

// UnscheduleAuction removes the timer entries of rounds 1..lastRound
func (r *MemoryRuntimeRepo) UnscheduleAuction(_ context.Context, auctionID string, lastRound int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for round := 1; round <= lastRound; round++ {
		delete(r.timers, roundKey{auctionID, round})
	}
	return nil
}
