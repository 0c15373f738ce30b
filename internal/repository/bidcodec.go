package repository

import (
	"fmt"
	"time"

	model "auction-rounds/internal/models"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
)

// bidMember is the sorted-set member of a bid. The score only carries the
// amount, so the member keeps what ranking needs to break ties.
type bidMember struct {
	BidID    string `cbor:"1,keyasint"`
	UserID   string `cbor:"2,keyasint"`
	PlacedAt int64  `cbor:"3,keyasint"` // unix ms
	Amount   string `cbor:"4,keyasint"`
}

func encodeBidMember(bid model.Bid) (string, error) {
	raw, err := cbor.Marshal(bidMember{
		BidID:    bid.BidID,
		UserID:   bid.UserID,
		PlacedAt: bid.PlacedAt.UnixMilli(),
		Amount:   bid.Amount.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encode bid %s: %w", bid.BidID, err)
	}
	return string(raw), nil
}

func decodeBidMember(auctionID string, round int, member string) (model.Bid, error) {
	var m bidMember
	if err := cbor.Unmarshal([]byte(member), &m); err != nil {
		return model.Bid{}, fmt.Errorf("decode bid member: %w", err)
	}
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return model.Bid{}, fmt.Errorf("decode bid %s amount %q: %w", m.BidID, m.Amount, err)
	}
	return model.Bid{
		BidID:     m.BidID,
		AuctionID: auctionID,
		Round:     round,
		UserID:    m.UserID,
		Amount:    amount,
		PlacedAt:  time.UnixMilli(m.PlacedAt).UTC(),
	}, nil
}
