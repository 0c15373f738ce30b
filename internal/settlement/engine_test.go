package settlement

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
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeAdvancer struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (a *fakeAdvancer) AdvanceRound(_ context.Context, _ string, fromRound int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, fromRound)
	return a.err
}

func (a *fakeAdvancer) Calls() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.calls...)
}

type fixture struct {
	durable  *repository.MemoryRepo
	runtime  *repository.MemoryRuntimeRepo
	ledger   *wallet.Ledger
	advancer *fakeAdvancer
}

// newFixture creates auction a1 with round 1 offering i1 and i2, already closing
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		durable:  repository.NewMemoryRepo(),
		runtime:  repository.NewMemoryRuntimeRepo(),
		advancer: &fakeAdvancer{},
	}
	f.ledger = wallet.NewLedger(f.durable, f.runtime)

	require.NoError(t, f.durable.AddItems(ctx,
		model.Item{ItemID: "i1", CollectionID: "c1", Title: "one"},
		model.Item{ItemID: "i2", CollectionID: "c1", Title: "two"},
		model.Item{ItemID: "i3", CollectionID: "c1", Title: "three"},
	))
	require.NoError(t, f.durable.CreateAuction(ctx, model.Auction{
		AuctionID:          "a1",
		CollectionID:       "c1",
		RoundDuration:      time.Minute,
		ItemsPerRound:      2,
		CurrentRoundNumber: 1,
		TotalRounds:        2,
		Status:             model.StatusActive,
		CreatedAt:          now.Add(-time.Minute),
	}))
	require.NoError(t, f.durable.CreateRound(ctx, model.Round{
		AuctionID:   "a1",
		RoundNumber: 1,
		ItemIDs:     []string{"i1", "i2"},
		Status:      model.StatusActive,
		StartedAt:   now.Add(-time.Minute),
	}))
	require.NoError(t, f.runtime.SaveRoundState(ctx, "a1", model.RoundState{
		Round:    1,
		Status:   model.StatusActive,
		Deadline: now,
		Phase:    model.PhaseClosing,
	}))
	return f
}

func (f *fixture) engine(w Wallet, n notify.Notifier) *Engine {
	if w == nil {
		w = f.ledger
	}
	return NewEngine(f.durable, f.runtime, w, f.advancer, n, Options{
		Now:   func() time.Time { return now },
		Queue: QueueOptions{Workers: 2, Backoff: 10 * time.Millisecond},
	})
}

// bid funds the user with balance, then admits a bid the way admission does
func (f *fixture) bid(t *testing.T, userID string, balance, amount int64, offset time.Duration) {
	t.Helper()
	ctx := context.Background()

	_, err := f.durable.Deposit(ctx, userID, decimal.NewFromInt(balance))
	require.NoError(t, err)
	ok, err := f.runtime.AcquireBidLock(ctx, "a1", userID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.ledger.Freeze(ctx, userID, "a1", decimal.NewFromInt(amount)))
	require.NoError(t, f.runtime.AddBid(ctx, model.Bid{
		BidID:     userID + "-bid",
		AuctionID: "a1",
		Round:     1,
		UserID:    userID,
		Amount:    decimal.NewFromInt(amount),
		PlacedAt:  now.Add(-time.Minute + offset),
	}))
}

func (f *fixture) requireBalance(t *testing.T, userID string, balance, available int64) {
	t.Helper()
	ctx := context.Background()

	got, err := f.durable.GetBalance(ctx, userID)
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(balance)), "balance of %s is %s", userID, got)

	avail, err := f.ledger.AvailableBalance(ctx, userID)
	require.NoError(t, err)
	require.True(t, avail.Equal(decimal.NewFromInt(available)), "available of %s is %s", userID, avail)
}

func (f *fixture) owners(t *testing.T) map[string]string {
	t.Helper()
	owned, err := f.durable.ListOwnerships(context.Background(), "c1")
	require.NoError(t, err)
	out := make(map[string]string, len(owned))
	for _, o := range owned {
		out[o.ItemID] = o.OwnerID
	}
	return out
}

func TestEngine_SettleRound_TopBiddersWin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u3", 1000, 300, 3*time.Second)
	f.bid(t, "u1", 1000, 500, 1*time.Second)
	f.bid(t, "u2", 1000, 400, 2*time.Second)

	require.NoError(t, f.engine(nil, nil).SettleRound(ctx, "a1", 1))

	require.Equal(t, map[string]string{"i1": "u1", "i2": "u2"}, f.owners(t))
	f.requireBalance(t, "u1", 500, 500)
	f.requireBalance(t, "u2", 600, 600)
	f.requireBalance(t, "u3", 1000, 1000)

	settled, err := f.runtime.IsSettled(ctx, "a1", 1)
	require.NoError(t, err)
	require.True(t, settled)

	bids, err := f.runtime.GetBids(ctx, "a1", 1)
	require.NoError(t, err)
	require.Empty(t, bids)

	state, err := f.runtime.GetRoundState(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.PhaseAdvancing, state.Phase)
	require.Equal(t, []int{1}, f.advancer.Calls())
}

func TestEngine_SettleRound_EqualAmountEarlierWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.durable.CreateAuction(ctx, model.Auction{
		AuctionID: "single", CollectionID: "c1", RoundDuration: time.Minute, ItemsPerRound: 1,
		CurrentRoundNumber: 1, TotalRounds: 3, Status: model.StatusActive, CreatedAt: now,
	}))
	require.NoError(t, f.durable.CreateRound(ctx, model.Round{
		AuctionID: "single", RoundNumber: 1, ItemIDs: []string{"i3"}, Status: model.StatusActive, StartedAt: now,
	}))
	for _, b := range []struct {
		user   string
		offset time.Duration
	}{{"u2", 2 * time.Second}, {"u1", time.Second}} {
		_, err := f.durable.Deposit(ctx, b.user, decimal.NewFromInt(300))
		require.NoError(t, err)
		require.NoError(t, f.ledger.Freeze(ctx, b.user, "single", decimal.NewFromInt(300)))
		require.NoError(t, f.runtime.AddBid(ctx, model.Bid{
			AuctionID: "single", Round: 1, UserID: b.user, Amount: decimal.NewFromInt(300), PlacedAt: now.Add(b.offset),
		}))
	}

	require.NoError(t, f.engine(nil, nil).SettleRound(ctx, "single", 1))

	require.Equal(t, "u1", f.owners(t)["i3"])
}

func TestEngine_SettleRound_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u1", 1000, 500, time.Second)
	f.bid(t, "u2", 1000, 400, 2*time.Second)
	f.bid(t, "u3", 1000, 300, 3*time.Second)
	engine := f.engine(nil, nil)

	require.NoError(t, engine.SettleRound(ctx, "a1", 1))
	require.NoError(t, engine.SettleRound(ctx, "a1", 1))

	require.Equal(t, map[string]string{"i1": "u1", "i2": "u2"}, f.owners(t))
	f.requireBalance(t, "u1", 500, 500)
	f.requireBalance(t, "u2", 600, 600)
	f.requireBalance(t, "u3", 1000, 1000)
	require.Equal(t, []int{1}, f.advancer.Calls())
}

func TestEngine_SettleRound_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u1", 1000, 500, time.Second)
	f.bid(t, "u2", 1000, 400, 2*time.Second)
	f.bid(t, "u3", 1000, 300, 3*time.Second)
	engine := f.engine(nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.SettleRound(ctx, "a1", 1)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, biddingerrors.ErrSettlementInProgress)
		}
	}

	require.Equal(t, map[string]string{"i1": "u1", "i2": "u2"}, f.owners(t))
	f.requireBalance(t, "u1", 500, 500)
	f.requireBalance(t, "u2", 600, 600)
	f.requireBalance(t, "u3", 1000, 1000)
	require.Equal(t, []int{1}, f.advancer.Calls())
}

func TestEngine_SettleRound_NoBids(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.durable.Deposit(ctx, "u1", decimal.NewFromInt(100))
	require.NoError(t, err)

	require.NoError(t, f.engine(nil, nil).SettleRound(ctx, "a1", 1))

	settled, err := f.runtime.IsSettled(ctx, "a1", 1)
	require.NoError(t, err)
	require.True(t, settled)
	require.Empty(t, f.owners(t))
	f.requireBalance(t, "u1", 100, 100)
	require.Equal(t, []int{1}, f.advancer.Calls())
}

type chargeFailingWallet struct {
	*wallet.Ledger
	failFor string
}

func (w chargeFailingWallet) Deduct(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error {
	if userID == w.failFor {
		return biddingerrors.ErrInsufficientBalance
	}
	return w.Ledger.Deduct(ctx, userID, auctionID, amount)
}

func TestEngine_SettleRound_FailedDeductionSkipsWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u1", 1000, 500, time.Second)
	f.bid(t, "u2", 1000, 400, 2*time.Second)
	f.bid(t, "u3", 1000, 300, 3*time.Second)

	engine := f.engine(chargeFailingWallet{Ledger: f.ledger, failFor: "u1"}, nil)
	require.NoError(t, engine.SettleRound(ctx, "a1", 1))

	require.Equal(t, map[string]string{"i1": "u2"}, f.owners(t))
	f.requireBalance(t, "u1", 1000, 1000)
	f.requireBalance(t, "u2", 600, 600)
	f.requireBalance(t, "u3", 1000, 1000)
}

func TestEngine_SettleRound_TransientChargeFailureIsRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u1", 1000, 500, time.Second)

	engine := f.engine(walletFunc{Wallet: f.ledger, deduct: func(context.Context, string, string, decimal.Decimal) error {
		return biddingerrors.ErrStoreUnavailable
	}}, nil)

	err := engine.SettleRound(ctx, "a1", 1)
	require.ErrorIs(t, err, biddingerrors.ErrStoreUnavailable)
	require.True(t, biddingerrors.IsRetryable(err))

	settled, err := f.runtime.IsSettled(ctx, "a1", 1)
	require.NoError(t, err)
	require.False(t, settled)
	f.requireBalance(t, "u1", 1000, 500)

	// the claim was released, so the retry goes through
	require.NoError(t, f.engine(nil, nil).SettleRound(ctx, "a1", 1))
	require.Equal(t, map[string]string{"i1": "u1"}, f.owners(t))
	f.requireBalance(t, "u1", 500, 500)
}

type walletFunc struct {
	Wallet
	deduct func(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error
}

func (w walletFunc) Deduct(ctx context.Context, userID, auctionID string, amount decimal.Decimal) error {
	return w.deduct(ctx, userID, auctionID, amount)
}

func TestEngine_SettleRound_AdvanceFailureStillSettles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.advancer.err = errors.New("durable store down")
	f.bid(t, "u1", 1000, 500, time.Second)

	require.NoError(t, f.engine(nil, nil).SettleRound(ctx, "a1", 1))

	settled, err := f.runtime.IsSettled(ctx, "a1", 1)
	require.NoError(t, err)
	require.True(t, settled)
	require.Equal(t, "u1", f.owners(t)["i1"])
}

func TestEngine_SettleRound_NotifiesWinners(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u1", 1000, 500, time.Second)

	mockNotifier := notify.NewMockNotifier(ctrl)
	mockNotifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event model.Event) {
		require.Equal(t, model.EventRoundSettled, event.Type)
		require.Len(t, event.Winners, 1)
		require.Equal(t, "u1", event.Winners[0].UserID)
		require.Equal(t, "i1", event.Winners[0].ItemID)
	})

	require.NoError(t, f.engine(nil, mockNotifier).SettleRound(ctx, "a1", 1))
}

func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runtime.SaveRoundState(context.Background(), "a1", model.RoundState{
		Round:    1,
		Status:   model.StatusActive,
		Deadline: now,
		Phase:    model.PhaseOpen,
	}))
}

func TestEngine_CloseRound_QueuesSettlement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.reopen(t)
	f.bid(t, "u1", 1000, 500, time.Second)

	engine := f.engine(nil, nil)
	engine.Start(ctx)
	defer engine.Stop()

	require.NoError(t, engine.CloseRound(ctx, "a1", 1))

	round, err := f.durable.GetRound(ctx, "a1", 1)
	require.NoError(t, err)
	require.Equal(t, model.StatusFinished, round.Status)
	require.True(t, round.EndedAt.Equal(now))

	require.Eventually(t, func() bool {
		settled, err := f.runtime.IsSettled(ctx, "a1", 1)
		return err == nil && settled
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.advancer.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_CloseRound_AlreadyClosing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	err := f.engine(nil, nil).CloseRound(context.Background(), "a1", 1)

	require.ErrorIs(t, err, biddingerrors.ErrRoundAlreadyClosing)
}

type finishFailingRepo struct {
	*repository.MemoryRepo
}

func (finishFailingRepo) FinishRound(context.Context, string, int, time.Time) error {
	return biddingerrors.ErrStoreUnavailable
}

func TestEngine_CloseRound_DurableFailureReopensRound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.reopen(t)
	engine := NewEngine(finishFailingRepo{f.durable}, f.runtime, f.ledger, f.advancer, nil, Options{})

	err := engine.CloseRound(ctx, "a1", 1)
	require.ErrorIs(t, err, biddingerrors.ErrStoreUnavailable)

	state, err := f.runtime.GetRoundState(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, model.PhaseOpen, state.Phase)
}

func TestEngine_CloseAndSettle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.reopen(t)
	f.bid(t, "u1", 1000, 500, time.Second)

	require.NoError(t, f.engine(nil, nil).CloseAndSettle(ctx, "a1", 1))

	require.Equal(t, "u1", f.owners(t)["i1"])
	require.Equal(t, []int{1}, f.advancer.Calls())

	// a second call finds the round already settled
	require.NoError(t, f.engine(nil, nil).CloseAndSettle(ctx, "a1", 1))
	require.Equal(t, []int{1}, f.advancer.Calls())
}

// racingRepo lets another auction take i1 right before the first allocation
type racingRepo struct {
	*repository.MemoryRepo
	once sync.Once
}

func (r *racingRepo) AllocateItem(ctx context.Context, o model.Ownership) error {
	r.once.Do(func() {
		_ = r.MemoryRepo.AllocateItem(ctx, model.Ownership{
			ItemID: "i1", OwnerID: "other", AuctionID: "a2", AcquiredPrice: decimal.NewFromInt(1), AcquiredAt: now,
		})
	})
	return r.MemoryRepo.AllocateItem(ctx, o)
}

func TestEngine_SettleRound_ItemSoldElsewhereSkipsToNextItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.bid(t, "u1", 1000, 500, time.Second)
	engine := NewEngine(&racingRepo{MemoryRepo: f.durable}, f.runtime, f.ledger, f.advancer, nil, Options{
		Now: func() time.Time { return now },
	})

	require.NoError(t, engine.SettleRound(ctx, "a1", 1))

	require.Equal(t, map[string]string{"i1": "other", "i2": "u1"}, f.owners(t))
	f.requireBalance(t, "u1", 500, 500)
}
