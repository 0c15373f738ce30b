package app

import (
	"context"
	"fmt"
	"time"

	bidding "auction-rounds/internal/biddingService"
	"auction-rounds/internal/config"
	"auction-rounds/internal/lifecycle"
	model "auction-rounds/internal/models"
	"auction-rounds/internal/notify"
	"auction-rounds/internal/recovery"
	"auction-rounds/internal/repository"
	"auction-rounds/internal/scheduler"
	"auction-rounds/internal/server"
	"auction-rounds/internal/settlement"
	"auction-rounds/internal/wallet"
	handler "auction-rounds/services/bidding/handler"
	"auction-rounds/utils"

	"github.com/gin-gonic/gin"
)

// Deps are the stores and outbound publishers the application runs on
type Deps struct {
	Durable repository.DurableRepo
	Runtime repository.RuntimeStateRepo
	// Publishers receive every event next to the SSE hub
	Publishers []notify.Publisher
	Now        func() time.Time
}

// App wires admission, settlement, timers and recovery around one pair of stores
type App struct {
	Router       *gin.Engine
	Hub          *notify.Hub
	Bidding      *bidding.BiddingService
	Orchestrator *lifecycle.Orchestrator
	Engine       *settlement.Engine
	Scheduler    *scheduler.Scheduler
	Recovery     *recovery.Coordinator
}

// New builds every component; nothing runs until Start
func New(cfg config.Config, deps Deps) *App {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	hub := notify.NewHub()
	notifier := notify.NewDispatcher(append([]notify.Publisher{hub}, deps.Publishers...)...)
	ledger := wallet.NewLedger(deps.Durable, deps.Runtime)

	orch := lifecycle.NewOrchestrator(deps.Durable, deps.Runtime, ledger, notifier, deps.Now)
	engine := settlement.NewEngine(deps.Durable, deps.Runtime, ledger, orch, notifier, settlement.Options{
		ClaimTTL:     cfg.SettleClaimTTL,
		StoreTimeout: cfg.StoreTimeout,
		Now:          deps.Now,
		Queue: settlement.QueueOptions{
			Workers:    cfg.SettleWorkers,
			AlertAfter: cfg.SettleAlertAfter,
		},
	})
	timers := scheduler.New(deps.Runtime, deps.Durable, engine, scheduler.Options{
		Interval:     cfg.TimerPollInterval,
		EntryTimeout: cfg.StoreTimeout,
		Now:          deps.Now,
	})
	coordinator := recovery.NewCoordinator(deps.Durable, deps.Runtime, engine, orch, ledger, deps.Now)

	service := bidding.NewBiddingService(deps.Durable, deps.Runtime, ledger, notifier, bidding.Options{
		AntiSnipeWindow: cfg.AntiSnipeWindow,
		StoreTimeout:    cfg.StoreTimeout,
		Now:             deps.Now,
	})
	h := handler.NewBiddingHandler(service, orch, engine, handler.Defaults{
		RoundDuration: cfg.RoundDuration,
		ItemsPerRound: cfg.ItemsPerRound,
		Now:           deps.Now,
	})
	router := server.SetupRouter(h, hub.ServeEvents, server.Options{
		CORSOrigins: cfg.CORSOrigins,
		BidLimiter:  server.NewClientRateLimiter(cfg.BidRateLimit, cfg.BidRateBurst),
	})

	return &App{
		Router:       router,
		Hub:          hub,
		Bidding:      service,
		Orchestrator: orch,
		Engine:       engine,
		Scheduler:    timers,
		Recovery:     coordinator,
	}
}

// Start runs the settlement workers, rebuilds runtime state and then starts the
// round timer. Auctions that fail to recover are logged; the rest keep running.
func (a *App) Start(ctx context.Context) error {
	a.Engine.Start(ctx)

	if err := a.Recovery.Recover(ctx); err != nil {
		utils.Error("app: recovery incomplete", map[string]any{"error": err.Error()})
	}

	if err := a.Scheduler.Start(ctx); err != nil {
		a.Engine.Stop()
		return fmt.Errorf("app: failed to start scheduler: %w", err)
	}
	return nil
}

// Stop halts the timer first so no new closures are queued, then drains settlement
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Engine.Stop()
	a.Hub.Stop()
}

// SeedCollection adds n catalog items to a collection. Existing items are kept.
func SeedCollection(ctx context.Context, catalog repository.CatalogStore, collectionID string, n int) error {
	if collectionID == "" || n <= 0 {
		return nil
	}
	items := make([]model.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, model.Item{
			ItemID:       fmt.Sprintf("%s-%03d", collectionID, i),
			CollectionID: collectionID,
			Title:        fmt.Sprintf("%s #%d", collectionID, i),
		})
	}
	if err := catalog.AddItems(ctx, items...); err != nil {
		return fmt.Errorf("app: failed to seed %s: %w", collectionID, err)
	}
	utils.Info("app: collection seeded", map[string]any{"collection_id": collectionID, "items": n})
	return nil
}
