package server

import (
	"time"

	handler "auction-rounds/services/bidding/handler"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Options tune the cross-cutting middleware of the router
type Options struct {
	// CORSOrigins empty allows every origin
	CORSOrigins []string
	BidLimiter  *ClientRateLimiter
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingHandler *handler.BiddingHandler, events gin.HandlerFunc, opts Options) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(cors.New(corsConfig(opts.CORSOrigins)))

	bidLimit := func(c *gin.Context) { c.Next() }
	if opts.BidLimiter != nil {
		bidLimit = RateLimitMiddleware(opts.BidLimiter)
	}

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.POST("/:auction_id/bids", bidLimit, biddingHandler.RecordBidHandler)
		auctions.POST("/:auction_id/rounds/:round/close", biddingHandler.CloseRoundHandler)
		if events != nil {
			auctions.GET("/:auction_id/events", events)
		}
	}

	users := router.Group("/users")
	{
		users.POST("/:user_id/deposits", biddingHandler.DepositHandler)
		users.GET("/:user_id/balance", biddingHandler.GetBalanceHandler)
		users.GET("/:user_id/items", biddingHandler.GetItemsByUserHandler)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
