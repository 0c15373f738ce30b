package biddingerrors

import "errors"

// Validation errors: rejected synchronously, no side effects
var (
	ErrInvalidBid         = errors.New("invalid bid")
	ErrInvalidAuction     = errors.New("invalid auction parameters")
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrAuctionNotActive   = errors.New("auction is not active")
	ErrRoundNotFound      = errors.New("round not found")
	ErrItemNotFound       = errors.New("item not found")
	ErrEmptyCollection    = errors.New("collection has no unsold items")
	ErrRoundStateNotFound = errors.New("round state not found")
)

// Conflict errors: rejected synchronously after rolling back partial writes
var (
	ErrDuplicateBid         = errors.New("duplicate bid")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrRoundNotOpen         = errors.New("round is not open for bidding")
	ErrRoundClosing         = errors.New("round is closing")
	ErrAntiSnipeWindow      = errors.New("round closes too soon to accept bids")
	ErrRoundAlreadyClosing  = errors.New("round closure already initiated")
	ErrPhaseConflict        = errors.New("round phase changed concurrently")
	ErrSettlementInProgress = errors.New("settlement already in progress")
	ErrItemAlreadyOwned     = errors.New("item already owned by another user")
)

// Infrastructure errors: surfaced for admission, retried on the timer and settlement paths
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrQueueClosed      = errors.New("settlement queue closed")
)

// ErrConsistencyAnomaly marks work that committed but left the auction needing operator attention
var ErrConsistencyAnomaly = errors.New("consistency anomaly")
