package wallet

import (
	"context"
	"fmt"

	"auction-rounds/internal/biddingerrors"
	"auction-rounds/internal/repository"

	"github.com/shopspring/decimal"
)

// Ledger reserves, releases and charges funds. Balances live in the durable
// store; reservations live in the ephemeral store, keyed by (user, auction).
type Ledger struct {
	balances repository.WalletStore
	frozen   repository.FrozenStore
}

// NewLedger creates a Ledger over the given stores
func NewLedger(balances repository.WalletStore, frozen repository.FrozenStore) *Ledger {
	return &Ledger{balances: balances, frozen: frozen}
}

// Freeze reserves amount for the auction if the user's available balance covers it
func (l *Ledger) Freeze(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("wallet: %w - non-positive freeze amount", biddingerrors.ErrInvalidBid)
	}
	balance, err := l.balances.GetBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("wallet: failed to read balance of %s: %w", userID, err)
	}
	ok, err := l.frozen.FreezeWithin(ctx, userID, auctionID, amount, balance)
	if err != nil {
		return fmt.Errorf("wallet: failed to freeze %s for %s: %w", amount, userID, err)
	}
	if !ok {
		return fmt.Errorf("wallet: %w - cannot freeze %s for %s", biddingerrors.ErrInsufficientBalance, amount, userID)
	}
	return nil
}

// Unfreeze releases the user's reservation for the auction and returns the released amount
func (l *Ledger) Unfreeze(ctx context.Context, userID, auctionID string) (decimal.Decimal, error) {
	released, err := l.frozen.ReleaseFrozen(ctx, userID, auctionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet: failed to unfreeze %s in %s: %w", userID, auctionID, err)
	}
	return released, nil
}

// Deduct charges amount for the auction and releases the matching reservation.
// The charge is recorded once per (user, auction), so retries never double charge.
func (l *Ledger) Deduct(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error {
	if err := l.balances.Charge(ctx, userID, auctionID, amount); err != nil {
		return fmt.Errorf("wallet: failed to charge %s: %w", userID, err)
	}
	if _, err := l.frozen.ReleaseFrozen(ctx, userID, auctionID); err != nil {
		return fmt.Errorf("wallet: charged %s but failed to release freeze: %w", userID, err)
	}
	return nil
}

// AvailableBalance is the balance minus every reservation of the user
func (l *Ledger) AvailableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, err := l.balances.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet: failed to read balance of %s: %w", userID, err)
	}
	frozen, err := l.frozen.TotalFrozen(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet: failed to read frozen funds of %s: %w", userID, err)
	}
	return balance.Sub(frozen), nil
}

// Deposit credits the user's balance
func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, fmt.Errorf("wallet: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}
	balance, err := l.balances.Deposit(ctx, userID, amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet: failed to deposit for %s: %w", userID, err)
	}
	return balance, nil
}
