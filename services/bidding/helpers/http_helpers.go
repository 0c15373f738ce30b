package helpers

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// ParseAmount reads a positive decimal amount from a request field
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", raw, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount %q must be positive", raw)
	}
	return amount, nil
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrRoundNotFound), errors.Is(err, biddingerrors.ErrRoundStateNotFound):
		return http.StatusNotFound, "round not found"
	case errors.Is(err, biddingerrors.ErrItemNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, biddingerrors.ErrEmptyCollection):
		return http.StatusBadRequest, "collection has no unsold items"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction parameters"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction is not active"
	case errors.Is(err, biddingerrors.ErrDuplicateBid):
		return http.StatusConflict, "user already bid in this auction"
	case errors.Is(err, biddingerrors.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient balance"
	case errors.Is(err, biddingerrors.ErrAntiSnipeWindow):
		return http.StatusConflict, "round closes too soon to accept bids"
	case errors.Is(err, biddingerrors.ErrRoundClosing), errors.Is(err, biddingerrors.ErrRoundNotOpen):
		return http.StatusConflict, "round is not open for bidding"
	case errors.Is(err, biddingerrors.ErrRoundAlreadyClosing):
		return http.StatusConflict, "round is already closing"
	}

	switch biddingerrors.KindOf(err) {
	case biddingerrors.KindValidation:
		return http.StatusBadRequest, "invalid request"
	case biddingerrors.KindConflict:
		return http.StatusConflict, "request conflicts with auction state"
	case biddingerrors.KindTransient:
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.BidID,
		AuctionID: bid.AuctionID,
		Round:     bid.Round,
		UserID:    bid.UserID,
		Amount:    bid.Amount.String(),
		PlacedAt:  formatTime(bid.PlacedAt),
	}
}

// NewAuctionResponse renders the auction; state is nil once the auction has no runtime state
func NewAuctionResponse(auction model.Auction, state *model.RoundState, now time.Time) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:     auction.AuctionID,
		CollectionID:  auction.CollectionID,
		RoundDuration: auction.RoundDuration.String(),
		ItemsPerRound: auction.ItemsPerRound,
		CurrentRound:  auction.CurrentRoundNumber,
		TotalRounds:   auction.TotalRounds,
		Status:        string(auction.Status),
		CreatedAt:     formatTime(auction.CreatedAt),
	}
	if state != nil {
		remaining := math.Ceil(state.Deadline.Sub(now).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		resp.Round = &RoundStateResponse{
			Round:            state.Round,
			Phase:            string(state.Phase),
			Deadline:         formatTime(state.Deadline),
			SecondsRemaining: int64(remaining),
		}
	}
	return resp
}

func NewOwnershipResponses(owned []model.Ownership) []OwnershipResponse {
	resp := make([]OwnershipResponse, 0, len(owned))
	for _, o := range owned {
		resp = append(resp, OwnershipResponse{
			ItemID:     o.ItemID,
			AuctionID:  o.AuctionID,
			Price:      o.AcquiredPrice.String(),
			AcquiredAt: formatTime(o.AcquiredAt),
		})
	}
	return resp
}
