package bidding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auction-rounds/internal/biddingerrors"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/notify"
	"auction-rounds/internal/repository"
	"auction-rounds/internal/wallet"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	durable *repository.MemoryRepo
	runtime *repository.MemoryRuntimeRepo
	ledger  *wallet.Ledger
}

func clock() time.Time { return now }

// newFixture creates active auction a1 whose round 1 closes in one minute
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		durable: repository.NewMemoryRepo(),
		runtime: repository.NewMemoryRuntimeRepo(),
	}
	f.ledger = wallet.NewLedger(f.durable, f.runtime)

	require.NoError(t, f.durable.CreateAuction(ctx, model.Auction{
		AuctionID:          "a1",
		CollectionID:       "c1",
		RoundDuration:      time.Minute,
		ItemsPerRound:      2,
		CurrentRoundNumber: 1,
		TotalRounds:        2,
		Status:             model.StatusActive,
		CreatedAt:          now,
	}))
	f.openRound(t, "a1", now.Add(time.Minute))
	return f
}

func (f *fixture) openRound(t *testing.T, auctionID string, deadline time.Time) {
	t.Helper()
	require.NoError(t, f.runtime.SaveRoundState(context.Background(), auctionID, model.RoundState{
		Round:    1,
		Status:   model.StatusActive,
		Deadline: deadline,
		Phase:    model.PhaseOpen,
	}))
}

func (f *fixture) deposit(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.durable.Deposit(context.Background(), userID, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func (f *fixture) service(w Wallet, n notify.Notifier) *BiddingService {
	if w == nil {
		w = f.ledger
	}
	return NewBiddingService(f.durable, f.runtime, w, n, Options{
		AntiSnipeWindow: DefaultAntiSnipeWindow,
		Now:             clock,
	})
}

// Tests PlaceBid
func TestBiddingService_PlaceBid(t *testing.T) {
	tests := []struct {
		name          string
		auctionID     string
		userID        string
		amount        int64
		setup         func(t *testing.T, f *fixture)
		expectedError error
		message       string
	}{
		{
			name:      "valid_bid",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
		},
		{
			name:          "empty_auctionID",
			auctionID:     "",
			userID:        "user1",
			amount:        100,
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:          "empty_userID",
			auctionID:     "a1",
			userID:        "",
			amount:        100,
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:          "zero_amount",
			auctionID:     "a1",
			userID:        "user1",
			amount:        0,
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:          "negative_amount",
			auctionID:     "a1",
			userID:        "user1",
			amount:        -5,
			expectedError: biddingerrors.ErrInvalidBid,
		},
		{
			name:          "unknown_auction",
			auctionID:     "missing",
			userID:        "user1",
			amount:        100,
			expectedError: biddingerrors.ErrAuctionNotFound,
		},
		{
			name:      "finished_auction",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.durable.FinishAuction(context.Background(), "a1"))
			},
			expectedError: biddingerrors.ErrAuctionNotActive,
		},
		{
			name:      "missing_round_state",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.runtime.DeleteRoundState(context.Background(), "a1"))
			},
			expectedError: biddingerrors.ErrRoundNotOpen,
		},
		{
			name:      "round_closing",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
			setup: func(t *testing.T, f *fixture) {
				require.NoError(t, f.runtime.TransitionPhase(context.Background(), "a1", 1, model.PhaseOpen, model.PhaseClosing))
			},
			expectedError: biddingerrors.ErrRoundClosing,
		},
		{
			name:      "deadline_passed",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
			setup: func(t *testing.T, f *fixture) {
				f.openRound(t, "a1", now.Add(-time.Second))
			},
			expectedError: biddingerrors.ErrRoundClosing,
		},
		{
			name:      "anti_snipe_window",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
			setup: func(t *testing.T, f *fixture) {
				f.openRound(t, "a1", now.Add(4500*time.Millisecond))
			},
			expectedError: biddingerrors.ErrAntiSnipeWindow,
			message:       "5 seconds remaining",
		},
		{
			name:      "duplicate_bid",
			auctionID: "a1",
			userID:    "user1",
			amount:    100,
			setup: func(t *testing.T, f *fixture) {
				_, err := f.service(nil, nil).PlaceBid(context.Background(), "a1", "user1", decimal.NewFromInt(50))
				require.NoError(t, err)
			},
			expectedError: biddingerrors.ErrDuplicateBid,
		},
		{
			name:          "insufficient_balance",
			auctionID:     "a1",
			userID:        "user1",
			amount:        5000,
			expectedError: biddingerrors.ErrInsufficientBalance,
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.deposit(t, "user1", 1000)
			if tc.setup != nil {
				tc.setup(t, f)
			}

			bid, err := f.service(nil, nil).PlaceBid(context.Background(), tc.auctionID, tc.userID, decimal.NewFromInt(tc.amount))

			if tc.expectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				if tc.message != "" {
					require.Contains(t, err.Error(), tc.message)
				}
				return
			}

			require.NoError(t, err)
			_, parseErr := uuid.Parse(bid.BidID)
			require.NoError(t, parseErr, "BidID should be a valid UUID")
			require.Equal(t, "a1", bid.AuctionID)
			require.Equal(t, 1, bid.Round)
			require.Equal(t, tc.userID, bid.UserID)
			require.True(t, bid.Amount.Equal(decimal.NewFromInt(tc.amount)))
			require.True(t, bid.PlacedAt.Equal(now))

			bids, err := f.runtime.GetBids(context.Background(), "a1", 1)
			require.NoError(t, err)
			require.Len(t, bids, 1)

			available, err := f.ledger.AvailableBalance(context.Background(), tc.userID)
			require.NoError(t, err)
			require.True(t, available.Equal(decimal.NewFromInt(900)), "available %s", available)
		})
	}
}

func TestBiddingService_PlaceBid_RejectionLeavesNoState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, "user1", 100)
	service := f.service(nil, nil)

	_, err := service.PlaceBid(ctx, "a1", "user1", decimal.NewFromInt(150))
	require.ErrorIs(t, err, biddingerrors.ErrInsufficientBalance)

	members, err := f.runtime.BidLockMembers(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, members)

	frozen, err := f.runtime.TotalFrozen(ctx, "user1")
	require.NoError(t, err)
	require.True(t, frozen.IsZero())

	// lock released, so a smaller bid goes through
	_, err = service.PlaceBid(ctx, "a1", "user1", decimal.NewFromInt(80))
	require.NoError(t, err)
}

func TestBiddingService_PlaceBid_FreezeFailureRollsBackLock(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()

	f := newFixture(t)
	mockWallet := NewMockWallet(ctrl)
	service := f.service(mockWallet, nil)
	amount := decimal.NewFromInt(100)

	gomock.InOrder(
		mockWallet.EXPECT().Freeze(gomock.Any(), "user1", "a1", amount).Return(biddingerrors.ErrStoreUnavailable),
		mockWallet.EXPECT().Unfreeze(gomock.Any(), "user1", "a1").Return(decimal.Zero, nil),
		mockWallet.EXPECT().Freeze(gomock.Any(), "user1", "a1", amount).Return(nil),
	)

	_, err := service.PlaceBid(ctx, "a1", "user1", amount)
	require.ErrorIs(t, err, biddingerrors.ErrStoreUnavailable)

	members, err := f.runtime.BidLockMembers(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, members)

	_, err = service.PlaceBid(ctx, "a1", "user1", amount)
	require.NoError(t, err)
}

type failingBidLedger struct {
	*repository.MemoryRuntimeRepo
}

func (failingBidLedger) AddOpenBid(context.Context, model.Bid) error {
	return biddingerrors.ErrStoreUnavailable
}

func TestBiddingService_PlaceBid_RecordFailureRollsBackFreeze(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	f.deposit(t, "user1", 500)
	service := NewBiddingService(f.durable, failingBidLedger{f.runtime}, f.ledger, nil, Options{Now: clock})

	_, err := service.PlaceBid(ctx, "a1", "user1", decimal.NewFromInt(200))
	require.ErrorIs(t, err, biddingerrors.ErrStoreUnavailable)

	members, err := f.runtime.BidLockMembers(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, members)

	available, err := f.ledger.AvailableBalance(ctx, "user1")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(500)))
}

// closingMidAdmission closes round 1 right after the bid lock is taken, as a
// timer firing between the admission check and the bid write would
type closingMidAdmission struct {
	*repository.MemoryRuntimeRepo
}

func (r closingMidAdmission) AcquireBidLock(ctx context.Context, auctionID, userID string) (bool, error) {
	ok, err := r.MemoryRuntimeRepo.AcquireBidLock(ctx, auctionID, userID)
	if err != nil {
		return ok, err
	}
	return ok, r.TransitionPhase(ctx, auctionID, 1, model.PhaseOpen, model.PhaseClosing)
}

func TestBiddingService_PlaceBid_RoundClosedBeforeWrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	f.deposit(t, "user1", 500)
	service := NewBiddingService(f.durable, closingMidAdmission{f.runtime}, f.ledger, nil, Options{Now: clock})

	_, err := service.PlaceBid(ctx, "a1", "user1", decimal.NewFromInt(200))
	require.ErrorIs(t, err, biddingerrors.ErrRoundClosing)

	bids, err := f.runtime.GetBids(ctx, "a1", 1)
	require.NoError(t, err)
	require.Empty(t, bids)

	members, err := f.runtime.BidLockMembers(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, members)

	available, err := f.ledger.AvailableBalance(ctx, "user1")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.NewFromInt(500)))
}

func TestBiddingService_PlaceBid_NotifiesBidPlaced(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newFixture(t)
	f.deposit(t, "user1", 500)
	mockNotifier := notify.NewMockNotifier(ctrl)
	service := f.service(nil, mockNotifier)

	mockNotifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event model.Event) {
		require.Equal(t, model.EventBidPlaced, event.Type)
		require.Equal(t, "a1", event.AuctionID)
		require.Equal(t, "user1", event.UserID)
		require.True(t, event.Amount.Equal(decimal.NewFromInt(300)))
	})

	_, err := service.PlaceBid(context.Background(), "a1", "user1", decimal.NewFromInt(300))
	require.NoError(t, err)
}

func TestBiddingService_PlaceBid_ConcurrentSameUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	f.deposit(t, "user1", 10000)
	service := f.service(nil, nil)

	const attempts = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		dupes     int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.PlaceBid(ctx, "a1", "user1", decimal.NewFromInt(int64(100+i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, biddingerrors.ErrDuplicateBid):
				dupes++
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, succeeded)
	require.Equal(t, attempts-1, dupes)

	bids, err := f.runtime.GetBids(ctx, "a1", 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)

	frozen, err := f.runtime.TotalFrozen(ctx, "user1")
	require.NoError(t, err)
	require.True(t, frozen.Equal(bids[0].Amount))
}

func TestBiddingService_AvailableBalanceAcrossAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	require.NoError(t, f.durable.CreateAuction(ctx, model.Auction{
		AuctionID: "a2", CollectionID: "c2", RoundDuration: time.Minute, ItemsPerRound: 1,
		CurrentRoundNumber: 1, TotalRounds: 1, Status: model.StatusActive, CreatedAt: now,
	}))
	f.openRound(t, "a2", now.Add(time.Minute))
	f.deposit(t, "user1", 1000)
	service := f.service(nil, nil)

	_, err := service.PlaceBid(ctx, "a1", "user1", decimal.NewFromInt(600))
	require.NoError(t, err)

	_, err = service.PlaceBid(ctx, "a2", "user1", decimal.NewFromInt(500))
	require.ErrorIs(t, err, biddingerrors.ErrInsufficientBalance)

	_, err = service.PlaceBid(ctx, "a2", "user1", decimal.NewFromInt(400))
	require.NoError(t, err)

	available, err := service.AvailableBalance(ctx, "user1")
	require.NoError(t, err)
	require.True(t, available.IsZero(), "available %s", available)
}

func TestBiddingService_Reads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	service := f.service(nil, nil)

	balance, err := service.Deposit(ctx, "user1", decimal.NewFromInt(250))
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(250)))

	_, err = service.Deposit(ctx, "user1", decimal.Zero)
	require.ErrorIs(t, err, biddingerrors.ErrInvalidBid)

	state, err := service.GetRoundState(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.PhaseOpen, state.Phase)

	_, err = service.GetAuction(ctx, "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

	require.NoError(t, f.durable.AddItems(ctx, model.Item{ItemID: "i1", CollectionID: "c1", Title: "one"}))
	require.NoError(t, f.durable.AllocateItem(ctx, model.Ownership{
		ItemID: "i1", OwnerID: "user1", AuctionID: "a1", AcquiredPrice: decimal.NewFromInt(10), AcquiredAt: now,
	}))
	owned, err := service.GetItemsByUser(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, "i1", owned[0].ItemID)
}
