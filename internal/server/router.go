package server

import (
	"github.com/gin-gonic/gin"

	"jewel-auction/internal/metrics"
	model "jewel-auction/internal/models"
	handler "jewel-auction/services/bidding/handler"
)

// Deps are the collaborators the router wires into handlers and middleware.
type Deps struct {
	Bidding   handler.BiddingServiceInterface
	Lifecycle handler.LifecycleInterface
	Events    handler.EventSource
	Tokens    TokenParser
	Limiter   *RateLimiter
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter(5, 10)
	}

	biddingHandler := handler.NewBiddingHandler(deps.Bidding, deps.Lifecycle, deps.Events)
	auth := RequireAuth(deps.Tokens)
	limited := deps.Limiter.Middleware()

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	auctions := router.Group("/auctions")
	{
		auctions.POST("", auth, RequireRole(model.RoleSeller, model.RoleAdmin), biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/winning", biddingHandler.GetWinningBidHandler)
		auctions.GET("/:auction_id/result", OptionalAuth(deps.Tokens), biddingHandler.GetResultHandler)
		auctions.GET("/:auction_id/events", biddingHandler.AuctionEventsHandler)

		auctions.POST("/:auction_id/bids", auth, limited, biddingHandler.PlaceBidHandler)
		auctions.PUT("/:auction_id/autobid", auth, limited, biddingHandler.SetStandingBidHandler)
		auctions.GET("/:auction_id/autobid", auth, biddingHandler.GetStandingBidHandler)
	}

	me := router.Group("/users/me", auth)
	{
		me.GET("/bids", biddingHandler.GetMyBidsHandler)
		me.GET("/notifications", biddingHandler.GetNotificationsHandler)
		me.POST("/notifications/:notification_id/read", biddingHandler.MarkNotificationReadHandler)
		me.GET("/events", biddingHandler.UserEventsHandler)
	}

	admin := router.Group("/admin/auctions", auth, RequireRole(model.RoleAdmin))
	{
		admin.POST("/:auction_id/accept", biddingHandler.AcceptAuctionHandler)
		admin.POST("/:auction_id/reject", biddingHandler.RejectAuctionHandler)
		admin.DELETE("/:auction_id", biddingHandler.CancelAuctionHandler)
	}

	return router
}
