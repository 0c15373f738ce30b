package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/services/bidding/helpers"
	"auction-rounds/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type BiddingServiceInterface interface {
	PlaceBid(ctx context.Context, auctionID, userID string, amount decimal.Decimal) (model.Bid, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetRoundState(ctx context.Context, auctionID string) (model.RoundState, error)
	AvailableBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	GetItemsByUser(ctx context.Context, userID string) ([]model.Ownership, error)
}

// AuctionManager creates auctions and opens their first round
type AuctionManager interface {
	CreateAuction(ctx context.Context, collectionID string, roundDuration time.Duration, itemsPerRound int) (model.Auction, error)
}

// RoundCloser closes a round ahead of its deadline
type RoundCloser interface {
	CloseRound(ctx context.Context, auctionID string, round int) error
}

// Defaults fill the auction parameters a create request leaves out
type Defaults struct {
	RoundDuration time.Duration
	ItemsPerRound int
	Now           func() time.Time
}

type BiddingHandler struct {
	service  BiddingServiceInterface
	auctions AuctionManager
	closer   RoundCloser
	defaults Defaults
}

func NewBiddingHandler(service BiddingServiceInterface, auctions AuctionManager, closer RoundCloser, defaults Defaults) *BiddingHandler {
	if defaults.Now == nil {
		defaults.Now = time.Now
	}
	return &BiddingHandler{service: service, auctions: auctions, closer: closer, defaults: defaults}
}

func respondError(c *gin.Context, handlerName, logMsg string, err error, fields map[string]any) {
	status, message := helpers.MapErrorToHTTP(err)
	utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)

	fields["handler"] = handlerName
	fields["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		utils.Error(handlerName+": "+logMsg, fields)
		return
	}
	utils.Warn(handlerName+": "+logMsg, fields)
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	duration := h.defaults.RoundDuration
	if req.RoundDuration != "" {
		parsed, err := time.ParseDuration(req.RoundDuration)
		if err != nil || parsed <= 0 {
			helpers.HandleBindError(c, "CreateAuctionHandler", fmt.Errorf("round_duration %q is not a positive duration", req.RoundDuration))
			return
		}
		duration = parsed
	}
	perRound := h.defaults.ItemsPerRound
	if req.ItemsPerRound > 0 {
		perRound = req.ItemsPerRound
	}

	auction, err := h.auctions.CreateAuction(c.Request.Context(), req.CollectionID, duration, perRound)
	if err != nil {
		respondError(c, "CreateAuctionHandler", "failed to create auction", err, map[string]any{
			"collection_id": req.CollectionID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewAuctionResponse(auction, nil, h.defaults.Now()), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id":    auction.AuctionID,
		"collection_id": auction.CollectionID,
		"total_rounds":  auction.TotalRounds,
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	ctx := c.Request.Context()

	auction, err := h.service.GetAuction(ctx, auctionID)
	if err != nil {
		respondError(c, "GetAuctionHandler", "error retrieving auction", err, map[string]any{"auction_id": auctionID})
		return
	}

	var state *model.RoundState
	current, err := h.service.GetRoundState(ctx, auctionID)
	switch {
	case err == nil:
		state = &current
	case !errors.Is(err, biddingerrors.ErrRoundStateNotFound):
		respondError(c, "GetAuctionHandler", "error retrieving round state", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction, state, h.defaults.Now()), "auction retrieved successfully")
	helpers.LogSuccess("GetAuctionHandler", "auction retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"round":      auction.CurrentRoundNumber,
	})
}

// RecordBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) RecordBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}
	amount, err := helpers.ParseAmount(req.Amount)
	if err != nil {
		helpers.HandleBindError(c, "RecordBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, req.UserID, amount)
	if err != nil {
		respondError(c, "RecordBidHandler", "failed to record bid", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    req.UserID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("RecordBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": auctionID,
		"round":      bid.Round,
		"user_id":    req.UserID,
		"amount":     bid.Amount.String(),
	})
}

// CloseRoundHandler handles POST /auctions/:auction_id/rounds/:round/close
func (h *BiddingHandler) CloseRoundHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil || round <= 0 {
		helpers.HandleBindError(c, "CloseRoundHandler", fmt.Errorf("round %q is not a positive number", c.Param("round")))
		return
	}

	if err := h.closer.CloseRound(c.Request.Context(), auctionID, round); err != nil {
		respondError(c, "CloseRoundHandler", "failed to close round", err, map[string]any{
			"auction_id": auctionID,
			"round":      round,
		})
		return
	}

	utils.JSONResponse(c, http.StatusAccepted, helpers.CloseRoundResponse{AuctionID: auctionID, Round: round}, "round closing")
	helpers.LogSuccess("CloseRoundHandler", "round closing", map[string]any{"auction_id": auctionID, "round": round})
}

// DepositHandler handles POST /users/:user_id/deposits
func (h *BiddingHandler) DepositHandler(c *gin.Context) {
	userID := c.Param("user_id")
	var req helpers.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "DepositHandler", err)
		return
	}
	amount, err := helpers.ParseAmount(req.Amount)
	if err != nil {
		helpers.HandleBindError(c, "DepositHandler", err)
		return
	}

	if _, err := h.service.Deposit(c.Request.Context(), userID, amount); err != nil {
		respondError(c, "DepositHandler", "failed to deposit", err, map[string]any{"user_id": userID})
		return
	}
	available, err := h.service.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "DepositHandler", "failed to read balance", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.BalanceResponse{UserID: userID, Balance: available.String()}, "deposit recorded successfully")
	helpers.LogSuccess("DepositHandler", "deposit recorded successfully", map[string]any{
		"user_id": userID,
		"amount":  amount.String(),
	})
}

// GetBalanceHandler handles GET /users/:user_id/balance
func (h *BiddingHandler) GetBalanceHandler(c *gin.Context) {
	userID := c.Param("user_id")
	available, err := h.service.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "GetBalanceHandler", "error retrieving balance", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.BalanceResponse{UserID: userID, Balance: available.String()}, "balance retrieved successfully")
}

// GetItemsByUserHandler handles GET /users/:user_id/items
func (h *BiddingHandler) GetItemsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	owned, err := h.service.GetItemsByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, "GetItemsByUserHandler", "error retrieving items", err, map[string]any{"user_id": userID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewOwnershipResponses(owned), "items retrieved successfully")
	helpers.LogSuccess("GetItemsByUserHandler", "items retrieved successfully", map[string]any{
		"user_id":     userID,
		"items_count": len(owned),
	})
}
