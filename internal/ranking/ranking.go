package ranking

import (
	"sort"

	model "auction-rounds/internal/models"
)

// Result is a ranked round split into winners and losers
type Result struct {
	Winners []model.Bid
	Losers  []model.Bid
}

// LatestPerUser keeps the most recent bid of every user. When two bids of a
// user carry the same timestamp the one seen last wins.
func LatestPerUser(bids []model.Bid) []model.Bid {
	latest := make(map[string]int, len(bids))
	order := make([]string, 0, len(bids))
	for i, bid := range bids {
		prev, seen := latest[bid.UserID]
		if !seen {
			order = append(order, bid.UserID)
			latest[bid.UserID] = i
			continue
		}
		if !bid.PlacedAt.Before(bids[prev].PlacedAt) {
			latest[bid.UserID] = i
		}
	}

	out := make([]model.Bid, 0, len(order))
	for _, userID := range order {
		out = append(out, bids[latest[userID]])
	}
	return out
}

// Less orders bids by amount descending, then placement time ascending.
// The user id is the last resort so the order is total.
func Less(a, b model.Bid) bool {
	if cmp := a.Amount.Cmp(b.Amount); cmp != 0 {
		return cmp > 0
	}
	if !a.PlacedAt.Equal(b.PlacedAt) {
		return a.PlacedAt.Before(b.PlacedAt)
	}
	return a.UserID < b.UserID
}

// Rank deduplicates bids per user and sorts them best first
func Rank(bids []model.Bid) []model.Bid {
	ranked := LatestPerUser(bids)
	sort.SliceStable(ranked, func(i, j int) bool { return Less(ranked[i], ranked[j]) })
	return ranked
}

// Partition ranks bids and gives the first slots entries a winning place
func Partition(bids []model.Bid, slots int) Result {
	ranked := Rank(bids)
	if slots < 0 {
		slots = 0
	}
	if slots > len(ranked) {
		slots = len(ranked)
	}
	return Result{
		Winners: ranked[:slots:slots],
		Losers:  ranked[slots:],
	}
}
