package biddingerrors

import (
	"context"
	"errors"
)

// Kind classifies an error by how callers are expected to react to it
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindTransient
	KindAnomaly
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindAnomaly:
		return "anomaly"
	default:
		return "internal"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindAnomaly, []error{ErrConsistencyAnomaly}},
	{KindValidation, []error{
		ErrInvalidBid, ErrInvalidAuction, ErrAuctionNotFound, ErrAuctionNotActive,
		ErrRoundNotFound, ErrItemNotFound, ErrEmptyCollection, ErrRoundStateNotFound,
	}},
	{KindConflict, []error{
		ErrDuplicateBid, ErrInsufficientBalance, ErrRoundNotOpen, ErrRoundClosing, ErrAntiSnipeWindow,
		ErrRoundAlreadyClosing, ErrPhaseConflict, ErrSettlementInProgress, ErrItemAlreadyOwned,
	}},
	{KindTransient, []error{ErrStoreUnavailable, ErrQueueClosed, context.DeadlineExceeded}},
}

// KindOf returns the classification of err, KindInternal when unknown
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

// IsRetryable reports whether the timer or settlement path should try again later
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindInternal:
		return true
	case KindConflict:
		return errors.Is(err, ErrSettlementInProgress)
	default:
		return false
	}
}
