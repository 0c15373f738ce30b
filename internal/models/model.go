package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the durable lifecycle status of an auction or round
type AuctionStatus string

const (
	StatusActive   AuctionStatus = "active"
	StatusFinished AuctionStatus = "finished"
)

// Item represents a catalog item that can be auctioned
type Item struct {
	ItemID       string `json:"item_id"`
	CollectionID string `json:"collection_id"`
	Title        string `json:"title"`
}

// Auction is the durable record of a multi-round auction over one collection
type Auction struct {
	AuctionID          string        `json:"auction_id"`
	CollectionID       string        `json:"collection_id"`
	RoundDuration      time.Duration `json:"round_duration"`
	ItemsPerRound      int           `json:"items_per_round"`
	CurrentRoundNumber int           `json:"current_round_number"`
	TotalRounds        int           `json:"total_rounds"`
	Status             AuctionStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Round is the durable record of one timed bidding window
type Round struct {
	AuctionID   string        `json:"auction_id"`
	RoundNumber int           `json:"round_number"`
	ItemIDs     []string      `json:"item_ids"`
	Status      AuctionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at,omitempty"`
}

// Deadline returns the wall-clock instant the round stops accepting bids
func (r Round) Deadline(duration time.Duration) time.Time {
	return r.StartedAt.Add(duration)
}

// Ownership records which user acquired an item and at what price
type Ownership struct {
	ItemID        string          `json:"item_id"`
	OwnerID       string          `json:"owner_id"`
	AuctionID     string          `json:"auction_id"`
	AcquiredPrice decimal.Decimal `json:"acquired_price"`
	AcquiredAt    time.Time       `json:"acquired_at"`
}

// Bid represents a sealed bid placed in one round of an auction
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	Round     int             `json:"round"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	PlacedAt  time.Time       `json:"placed_at"`
}

// RoundState is the ephemeral runtime state kept for every active auction
type RoundState struct {
	Round    int           `json:"round"`
	Status   AuctionStatus `json:"status"`
	Deadline time.Time     `json:"deadline"`
	Phase    RoundPhase    `json:"phase"`
}

// Settling reports whether new bids must be refused
func (s RoundState) Settling() bool {
	return s.Phase != PhaseOpen
}

// TimerEntry is one element of the global round deadline index
type TimerEntry struct {
	AuctionID string    `json:"auction_id"`
	Round     int       `json:"round"`
	Deadline  time.Time `json:"deadline"`
}

// Winner is a ranked bid that received an item
type Winner struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	ItemID string          `json:"item_id,omitempty"`
}
