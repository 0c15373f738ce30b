package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a notification published on the bus
type EventType string

const (
	EventBidPlaced       EventType = "bid_placed"
	EventRoundStarted    EventType = "round_started"
	EventRoundClosed     EventType = "round_closed"
	EventRoundSettled    EventType = "round_settled"
	EventAuctionFinished EventType = "auction_finished"
)

// RoutingKey returns the topic routing key used on the message bus
func (t EventType) RoutingKey() string {
	switch t {
	case EventBidPlaced:
		return "bid.placed"
	case EventRoundStarted:
		return "round.started"
	case EventRoundClosed:
		return "round.closed"
	case EventRoundSettled:
		return "round.settled"
	case EventAuctionFinished:
		return "auction.finished"
	default:
		return "auction.unknown"
	}
}

// Event is a best-effort notification about an auction
type Event struct {
	Type        EventType        `json:"type"`
	AuctionID   string           `json:"auction_id"`
	RoundNumber int              `json:"round_number,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Deadline    *time.Time       `json:"deadline,omitempty"`
	Winners     []Winner         `json:"winners,omitempty"`
	Timestamp   time.Time        `json:"ts"`
}

func BidPlacedEvent(bid Bid) Event {
	amount := bid.Amount
	return Event{
		Type:        EventBidPlaced,
		AuctionID:   bid.AuctionID,
		RoundNumber: bid.Round,
		UserID:      bid.UserID,
		Amount:      &amount,
		Timestamp:   bid.PlacedAt,
	}
}

func RoundStartedEvent(auctionID string, round int, deadline, now time.Time) Event {
	return Event{
		Type:        EventRoundStarted,
		AuctionID:   auctionID,
		RoundNumber: round,
		Deadline:    &deadline,
		Timestamp:   now,
	}
}

func RoundClosedEvent(auctionID string, round int, now time.Time) Event {
	return Event{Type: EventRoundClosed, AuctionID: auctionID, RoundNumber: round, Timestamp: now}
}

func RoundSettledEvent(auctionID string, round int, winners []Winner, now time.Time) Event {
	if winners == nil {
		winners = []Winner{}
	}
	return Event{
		Type:        EventRoundSettled,
		AuctionID:   auctionID,
		RoundNumber: round,
		Winners:     winners,
		Timestamp:   now,
	}
}

func AuctionFinishedEvent(auctionID string, now time.Time) Event {
	return Event{Type: EventAuctionFinished, AuctionID: auctionID, Timestamp: now}
}
