package helpers

// Request/Response DTOs. Money travels as decimal strings.
type PlaceBidRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type CreateAuctionRequest struct {
	CollectionID string `json:"collection_id" binding:"required"`
	// RoundDuration is a Go duration such as "90s"; empty uses the server default
	RoundDuration string `json:"round_duration"`
	ItemsPerRound int    `json:"items_per_round" binding:"gte=0"`
}

type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type BidResponse struct {
	BidID     string `json:"bid_id"`
	AuctionID string `json:"auction_id"`
	Round     int    `json:"round"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	PlacedAt  string `json:"placed_at"`
}

type RoundStateResponse struct {
	Round            int    `json:"round"`
	Phase            string `json:"phase"`
	Deadline         string `json:"deadline"`
	SecondsRemaining int64  `json:"seconds_remaining"`
}

type AuctionResponse struct {
	AuctionID     string              `json:"auction_id"`
	CollectionID  string              `json:"collection_id"`
	RoundDuration string              `json:"round_duration"`
	ItemsPerRound int                 `json:"items_per_round"`
	CurrentRound  int                 `json:"current_round"`
	TotalRounds   int                 `json:"total_rounds"`
	Status        string              `json:"status"`
	CreatedAt     string              `json:"created_at"`
	Round         *RoundStateResponse `json:"round,omitempty"`
}

type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

type OwnershipResponse struct {
	ItemID     string `json:"item_id"`
	AuctionID  string `json:"auction_id"`
	Price      string `json:"price"`
	AcquiredAt string `json:"acquired_at"`
}

type CloseRoundResponse struct {
	AuctionID string `json:"auction_id"`
	Round     int    `json:"round"`
}
