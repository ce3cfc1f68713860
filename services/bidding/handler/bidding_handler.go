package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	bidding "jewel-auction/internal/biddingService"
	"jewel-auction/internal/biddingerrors"
	model "jewel-auction/internal/models"
	"jewel-auction/services/bidding/helpers"
	"jewel-auction/utils"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_handler.go -package=handler

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, caller model.User, in bidding.CreateAuctionInput) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (model.Bid, error)
	SetStandingBid(ctx context.Context, auctionID, userID string, maxAmount decimal.Decimal) (model.AutoBid, error)
	GetStandingBid(ctx context.Context, auctionID, userID string) (model.AutoBid, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error)
	GetResult(ctx context.Context, auctionID, viewerID string) (bidding.AuctionResult, error)
	GetNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) (model.Notification, error)
}

type LifecycleInterface interface {
	AcceptPending(ctx context.Context, caller model.User, auctionID string) (model.Auction, error)
	RejectPending(ctx context.Context, caller model.User, auctionID string) (model.Auction, error)
	Cancel(ctx context.Context, caller model.User, auctionID string) (model.Auction, error)
}

type EventSource interface {
	Subscribe(topic string) (<-chan model.Event, error)
	Unsubscribe(topic string, ch <-chan model.Event)
}

type BiddingHandler struct {
	service   BiddingServiceInterface
	lifecycle LifecycleInterface
	events    EventSource
	keepAlive time.Duration
}

func NewBiddingHandler(service BiddingServiceInterface, lifecycle LifecycleInterface, events EventSource) *BiddingHandler {
	return &BiddingHandler{
		service:   service,
		lifecycle: lifecycle,
		events:    events,
		keepAlive: defaultKeepAlive,
	}
}

// mustUser reads the authenticated caller. Routes using it sit behind the
// auth middleware, so a missing user is answered with 401.
func mustUser(c *gin.Context, handlerName string) (model.User, bool) {
	user, ok := helpers.CurrentUser(c)
	if !ok {
		helpers.RespondError(c, handlerName, fmt.Errorf("handler: %w - no caller identity", biddingerrors.ErrUnauthorized), nil)
		return model.User{}, false
	}
	return user, true
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	user, ok := mustUser(c, "CreateAuctionHandler")
	if !ok {
		return
	}
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), user, req.ToInput())
	if err != nil {
		helpers.RespondError(c, "CreateAuctionHandler", err, map[string]any{"user_id": user.UserID, "sku": req.SKU})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, auction, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"seller_id":  auction.SellerID,
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.RespondError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	utils.JSONResponse(c, http.StatusOK, auction, "auction retrieved successfully")
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	user, ok := mustUser(c, "PlaceBidHandler")
	if !ok {
		return
	}
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, user.UserID, req.Amount)
	if err != nil {
		helpers.RespondError(c, "PlaceBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    user.UserID,
			"amount":     req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": auctionID,
		"user_id":    user.UserID,
		"amount":     bid.Amount.String(),
	})
}

// SetStandingBidHandler handles PUT /auctions/:auction_id/autobid
func (h *BiddingHandler) SetStandingBidHandler(c *gin.Context) {
	user, ok := mustUser(c, "SetStandingBidHandler")
	if !ok {
		return
	}
	auctionID := c.Param("auction_id")

	var req helpers.StandingBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "SetStandingBidHandler", err)
		return
	}

	ab, err := h.service.SetStandingBid(c.Request.Context(), auctionID, user.UserID, req.MaxAmount)
	if err != nil {
		helpers.RespondError(c, "SetStandingBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    user.UserID,
			"max_amount": req.MaxAmount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewStandingBidResponse(ab), "standing bid saved successfully")
	helpers.LogSuccess("SetStandingBidHandler", "standing bid saved successfully", map[string]any{
		"auction_id": auctionID,
		"user_id":    user.UserID,
		"max_amount": ab.MaxAmount.String(),
	})
}

// GetStandingBidHandler handles GET /auctions/:auction_id/autobid
func (h *BiddingHandler) GetStandingBidHandler(c *gin.Context) {
	user, ok := mustUser(c, "GetStandingBidHandler")
	if !ok {
		return
	}
	auctionID := c.Param("auction_id")

	ab, err := h.service.GetStandingBid(c.Request.Context(), auctionID, user.UserID)
	if err != nil {
		helpers.RespondError(c, "GetStandingBidHandler", err, map[string]any{"auction_id": auctionID, "user_id": user.UserID})
		return
	}
	utils.JSONResponse(c, http.StatusOK, helpers.NewStandingBidResponse(ab), "standing bid retrieved successfully")
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		helpers.RespondError(c, "GetBidsByAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	resp := helpers.NewBidResponses(bids)
	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		helpers.RespondError(c, "GetWinningBidHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
}

// GetResultHandler handles GET /auctions/:auction_id/result
func (h *BiddingHandler) GetResultHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	viewer, _ := helpers.CurrentUser(c)

	res, err := h.service.GetResult(c.Request.Context(), auctionID, viewer.UserID)
	if err != nil {
		helpers.RespondError(c, "GetResultHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	utils.JSONResponse(c, http.StatusOK, res, "result retrieved successfully")
}

// GetMyBidsHandler handles GET /users/me/bids
func (h *BiddingHandler) GetMyBidsHandler(c *gin.Context) {
	user, ok := mustUser(c, "GetMyBidsHandler")
	if !ok {
		return
	}
	bids, err := h.service.GetBidsByUser(c.Request.Context(), user.UserID)
	if err != nil {
		helpers.RespondError(c, "GetMyBidsHandler", err, map[string]any{"user_id": user.UserID})
		return
	}

	resp := helpers.NewBidResponses(bids)
	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetMyBidsHandler", "bids retrieved successfully", map[string]any{
		"user_id": user.UserID,
		"count":   len(resp),
	})
}

// GetNotificationsHandler handles GET /users/me/notifications
func (h *BiddingHandler) GetNotificationsHandler(c *gin.Context) {
	user, ok := mustUser(c, "GetNotificationsHandler")
	if !ok {
		return
	}
	notifications, err := h.service.GetNotifications(c.Request.Context(), user.UserID)
	if err != nil {
		helpers.RespondError(c, "GetNotificationsHandler", err, map[string]any{"user_id": user.UserID})
		return
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	utils.JSONResponse(c, http.StatusOK, notifications, "notifications retrieved successfully")
}

// MarkNotificationReadHandler handles POST /users/me/notifications/:notification_id/read
func (h *BiddingHandler) MarkNotificationReadHandler(c *gin.Context) {
	user, ok := mustUser(c, "MarkNotificationReadHandler")
	if !ok {
		return
	}
	notificationID := c.Param("notification_id")

	n, err := h.service.MarkNotificationRead(c.Request.Context(), user.UserID, notificationID)
	if err != nil {
		helpers.RespondError(c, "MarkNotificationReadHandler", err, map[string]any{
			"user_id":         user.UserID,
			"notification_id": notificationID,
		})
		return
	}
	utils.JSONResponse(c, http.StatusOK, n, "notification marked as read")
}
