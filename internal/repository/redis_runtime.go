package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const maxWatchRetries = 8

// transitionScript swaps the phase only when both round and phase match.
// Returns -1 when the state hash is missing, 0 on mismatch, 1 on success.
var transitionScript = redis.NewScript(`
local round = redis.call('HGET', KEYS[1], 'round')
if not round then
  return -1
end
if round ~= ARGV[1] or redis.call('HGET', KEYS[1], 'phase') ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], 'phase', ARGV[3])
return 1
`)

// releaseClaimScript deletes the claim only if it is still held by ARGV[1]
var releaseClaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// addOpenBidScript adds the bid to KEYS[2] only while the state hash in
// KEYS[1] is on round ARGV[1] in phase ARGV[2].
// Returns -1 when the state hash is missing, 0 on mismatch, 1 on success.
var addOpenBidScript = redis.NewScript(`
local round = redis.call('HGET', KEYS[1], 'round')
if not round then
  return -1
end
if round ~= ARGV[1] or redis.call('HGET', KEYS[1], 'phase') ~= ARGV[2] then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// RedisRuntimeRepo implements RuntimeStateRepo on Redis
type RedisRuntimeRepo struct {
	client redis.UniversalClient
}

// NewRedisRuntimeRepo wraps a connected Redis client
func NewRedisRuntimeRepo(client redis.UniversalClient) *RedisRuntimeRepo {
	return &RedisRuntimeRepo{client: client}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, biddingerrors.ErrStoreUnavailable, err)
}

// SaveRoundState overwrites the runtime state hash of an auction
func (r *RedisRuntimeRepo) SaveRoundState(ctx context.Context, auctionID string, state model.RoundState) error {
	if !state.Phase.Valid() {
		return fmt.Errorf("save round state of %s: unknown phase %q", auctionID, state.Phase)
	}
	err := r.client.HSet(ctx, stateKey(auctionID), map[string]any{
		"round":    state.Round,
		"status":   string(state.Status),
		"deadline": state.Deadline.UnixMilli(),
		"phase":    string(state.Phase),
	}).Err()
	if err != nil {
		return storeErr("save round state", err)
	}
	return nil
}

// GetRoundState reads the runtime state hash of an auction
func (r *RedisRuntimeRepo) GetRoundState(ctx context.Context, auctionID string) (model.RoundState, error) {
	fields, err := r.client.HGetAll(ctx, stateKey(auctionID)).Result()
	if err != nil {
		return model.RoundState{}, storeErr("get round state", err)
	}
	if len(fields) == 0 {
		return model.RoundState{}, fmt.Errorf("get round state of %s: %w", auctionID, biddingerrors.ErrRoundStateNotFound)
	}

	round, err := strconv.Atoi(fields["round"])
	if err != nil {
		return model.RoundState{}, fmt.Errorf("get round state of %s: bad round %q: %w", auctionID, fields["round"], err)
	}
	deadline, err := strconv.ParseInt(fields["deadline"], 10, 64)
	if err != nil {
		return model.RoundState{}, fmt.Errorf("get round state of %s: bad deadline %q: %w", auctionID, fields["deadline"], err)
	}
	return model.RoundState{
		Round:    round,
		Status:   model.AuctionStatus(fields["status"]),
		Deadline: time.UnixMilli(deadline).UTC(),
		Phase:    model.RoundPhase(fields["phase"]),
	}, nil
}

// TransitionPhase runs the compare-and-set script on the state hash
func (r *RedisRuntimeRepo) TransitionPhase(ctx context.Context, auctionID string, round int, from, to model.RoundPhase) error {
	if err := from.ValidateTransition(to); err != nil {
		return fmt.Errorf("transition %s round %d: %w", auctionID, round, err)
	}
	res, err := transitionScript.Run(ctx, r.client, []string{stateKey(auctionID)},
		strconv.Itoa(round), string(from), string(to)).Int()
	if err != nil {
		return storeErr("transition phase", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("transition %s round %d: %w", auctionID, round, biddingerrors.ErrRoundStateNotFound)
	case 0:
		return fmt.Errorf("transition %s round %d %s->%s: %w", auctionID, round, from, to, biddingerrors.ErrPhaseConflict)
	}
	return nil
}

// DeleteRoundState removes the runtime state hash
func (r *RedisRuntimeRepo) DeleteRoundState(ctx context.Context, auctionID string) error {
	if err := r.client.Del(ctx, stateKey(auctionID)).Err(); err != nil {
		return storeErr("delete round state", err)
	}
	return nil
}

// AcquireBidLock is a single SADD; only the call that inserts the member wins
func (r *RedisRuntimeRepo) AcquireBidLock(ctx context.Context, auctionID, userID string) (bool, error) {
	added, err := r.client.SAdd(ctx, bidLockKey(auctionID), userID).Result()
	if err != nil {
		return false, storeErr("acquire bid lock", err)
	}
	return added == 1, nil
}

// ReleaseBidLock removes the user from the bid lock set
func (r *RedisRuntimeRepo) ReleaseBidLock(ctx context.Context, auctionID, userID string) error {
	if err := r.client.SRem(ctx, bidLockKey(auctionID), userID).Err(); err != nil {
		return storeErr("release bid lock", err)
	}
	return nil
}

// BidLockMembers returns the bid lock members, sorted
func (r *RedisRuntimeRepo) BidLockMembers(ctx context.Context, auctionID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, bidLockKey(auctionID)).Result()
	if err != nil {
		return nil, storeErr("bid lock members", err)
	}
	sort.Strings(members)
	return members, nil
}

// ClearBidLock deletes the bid lock set
func (r *RedisRuntimeRepo) ClearBidLock(ctx context.Context, auctionID string) error {
	if err := r.client.Del(ctx, bidLockKey(auctionID)).Err(); err != nil {
		return storeErr("clear bid lock", err)
	}
	return nil
}

// AddOpenBid inserts the bid into its round's sorted set, scored by amount,
// in the same script that checks the round is still open
func (r *RedisRuntimeRepo) AddOpenBid(ctx context.Context, bid model.Bid) error {
	member, err := encodeBidMember(bid)
	if err != nil {
		return err
	}
	keys := []string{stateKey(bid.AuctionID), bidsKey(bid.AuctionID, bid.Round)}
	score := strconv.FormatFloat(bid.Amount.InexactFloat64(), 'f', -1, 64)
	res, err := addOpenBidScript.Run(ctx, r.client, keys,
		strconv.Itoa(bid.Round), string(model.PhaseOpen), score, member).Int()
	if err != nil {
		return storeErr("add bid", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("add bid to %s: %w", bid.AuctionID, biddingerrors.ErrRoundNotOpen)
	case 0:
		return fmt.Errorf("add bid to %s round %d: %w", bid.AuctionID, bid.Round, biddingerrors.ErrRoundClosing)
	}
	return nil
}

// GetBids returns the round's bids ordered by score, lowest first
func (r *RedisRuntimeRepo) GetBids(ctx context.Context, auctionID string, round int) ([]model.Bid, error) {
	members, err := r.client.ZRange(ctx, bidsKey(auctionID, round), 0, -1).Result()
	if err != nil {
		return nil, storeErr("get bids", err)
	}
	bids := make([]model.Bid, 0, len(members))
	for _, member := range members {
		bid, err := decodeBidMember(auctionID, round, member)
		if err != nil {
			return nil, fmt.Errorf("get bids of %s round %d: %w", auctionID, round, err)
		}
		bids = append(bids, bid)
	}
	return bids, nil
}

// DeleteBids drops the round's sorted set
func (r *RedisRuntimeRepo) DeleteBids(ctx context.Context, auctionID string, round int) error {
	if err := r.client.Del(ctx, bidsKey(auctionID, round)).Err(); err != nil {
		return storeErr("delete bids", err)
	}
	return nil
}

// FreezeWithin checks and writes the user's frozen hash inside a WATCH transaction
func (r *RedisRuntimeRepo) FreezeWithin(ctx context.Context, userID, auctionID string, amount, limit decimal.Decimal) (bool, error) {
	key := frozenKey(userID)
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		frozen := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			values, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			others := decimal.Zero
			for id, raw := range values {
				if id == auctionID {
					continue
				}
				v, err := decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("frozen amount %q for %s: %w", raw, id, err)
				}
				others = others.Add(v)
			}
			if others.Add(amount).GreaterThan(limit) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, auctionID, amount.String())
				return nil
			})
			if err == nil {
				frozen = true
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, storeErr("freeze", err)
		}
		return frozen, nil
	}
	return false, storeErr("freeze", redis.TxFailedErr)
}

// ReleaseFrozen reads and deletes the (user, auction) field in one MULTI
func (r *RedisRuntimeRepo) ReleaseFrozen(ctx context.Context, userID, auctionID string) (decimal.Decimal, error) {
	key := frozenKey(userID)
	var get *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, key, auctionID)
		pipe.HDel(ctx, key, auctionID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return decimal.Zero, storeErr("release frozen", err)
	}
	return parseFrozen(get.Result())
}

// FrozenAmount reads the (user, auction) reservation
func (r *RedisRuntimeRepo) FrozenAmount(ctx context.Context, userID, auctionID string) (decimal.Decimal, error) {
	return parseFrozen(r.client.HGet(ctx, frozenKey(userID), auctionID).Result())
}

// TotalFrozen sums every reservation of the user
func (r *RedisRuntimeRepo) TotalFrozen(ctx context.Context, userID string) (decimal.Decimal, error) {
	values, err := r.client.HVals(ctx, frozenKey(userID)).Result()
	if err != nil {
		return decimal.Zero, storeErr("total frozen", err)
	}
	total := decimal.Zero
	for _, raw := range values {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("total frozen of %s: bad amount %q: %w", userID, raw, err)
		}
		total = total.Add(v)
	}
	return total, nil
}

func parseFrozen(raw string, err error) (decimal.Decimal, error) {
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, storeErr("frozen amount", err)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("frozen amount %q: %w", raw, err)
	}
	return amount, nil
}

// MarkSettled sets the settled flag with SETNX
func (r *RedisRuntimeRepo) MarkSettled(ctx context.Context, auctionID string, round int) (bool, error) {
	set, err := r.client.SetNX(ctx, settledKey(auctionID, round), "1", 0).Result()
	if err != nil {
		return false, storeErr("mark settled", err)
	}
	return set, nil
}

// IsSettled checks the settled flag
func (r *RedisRuntimeRepo) IsSettled(ctx context.Context, auctionID string, round int) (bool, error) {
	n, err := r.client.Exists(ctx, settledKey(auctionID, round)).Result()
	if err != nil {
		return false, storeErr("is settled", err)
	}
	return n == 1, nil
}

// ClaimSettlement takes the expiring settlement lease with SET NX PX
func (r *RedisRuntimeRepo) ClaimSettlement(ctx context.Context, auctionID string, round int, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, claimKey(auctionID, round), owner, ttl).Result()
	if err != nil {
		return false, storeErr("claim settlement", err)
	}
	return ok, nil
}

// ReleaseSettlementClaim deletes the lease if owner still holds it
func (r *RedisRuntimeRepo) ReleaseSettlementClaim(ctx context.Context, auctionID string, round int, owner string) error {
	if err := releaseClaimScript.Run(ctx, r.client, []string{claimKey(auctionID, round)}, owner).Err(); err != nil {
		return storeErr("release settlement claim", err)
	}
	return nil
}

// ScheduleRound writes the round's deadline into the global index
func (r *RedisRuntimeRepo) ScheduleRound(ctx context.Context, entry model.TimerEntry) error {
	err := r.client.ZAdd(ctx, deadlinesKey, redis.Z{
		Score:  float64(entry.Deadline.UnixMilli()),
		Member: timerMember(entry.AuctionID, entry.Round),
	}).Err()
	if err != nil {
		return storeErr("schedule round", err)
	}
	return nil
}

// DueRounds reads entries scored at or before now
func (r *RedisRuntimeRepo) DueRounds(ctx context.Context, now time.Time, limit int) ([]model.TimerEntry, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	zs, err := r.client.ZRangeByScoreWithScores(ctx, deadlinesKey, by).Result()
	if err != nil {
		return nil, storeErr("due rounds", err)
	}
	entries := make([]model.TimerEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		auctionID, round, err := parseTimerMember(member)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.TimerEntry{
			AuctionID: auctionID,
			Round:     round,
			Deadline:  time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return entries, nil
}

// UnscheduleRound removes the round from the global index
func (r *RedisRuntimeRepo) UnscheduleRound(ctx context.Context, auctionID string, round int) error {
	if err := r.client.ZRem(ctx, deadlinesKey, timerMember(auctionID, round)).Err(); err != nil {
		return storeErr("unschedule round", err)
	}
	return nil
}

// UnscheduleAuction removes the auction's known round members in one ZREM
func (r *RedisRuntimeRepo) UnscheduleAuction(ctx context.Context, auctionID string, lastRound int) error {
	if lastRound < 1 {
		return nil
	}
	members := make([]any, 0, lastRound)
	for round := 1; round <= lastRound; round++ {
		members = append(members, timerMember(auctionID, round))
	}
	if err := r.client.ZRem(ctx, deadlinesKey, members...).Err(); err != nil {
		return storeErr("unschedule auction", err)
	}
	return nil
}
