package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	model "jewel-auction/internal/models"
	"jewel-auction/services/bidding/helpers"
	"jewel-auction/utils"
)

// AcceptAuctionHandler handles POST /admin/auctions/:auction_id/accept
func (h *BiddingHandler) AcceptAuctionHandler(c *gin.Context) {
	h.adminAction(c, "AcceptAuctionHandler", "auction accepted", h.lifecycle.AcceptPending)
}

// RejectAuctionHandler handles POST /admin/auctions/:auction_id/reject
func (h *BiddingHandler) RejectAuctionHandler(c *gin.Context) {
	h.adminAction(c, "RejectAuctionHandler", "auction rejected", h.lifecycle.RejectPending)
}

// CancelAuctionHandler handles DELETE /admin/auctions/:auction_id
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	h.adminAction(c, "CancelAuctionHandler", "auction cancelled", h.lifecycle.Cancel)
}

func (h *BiddingHandler) adminAction(c *gin.Context, handlerName, message string,
	action func(context.Context, model.User, string) (model.Auction, error)) {
	user, ok := mustUser(c, handlerName)
	if !ok {
		return
	}
	auctionID := c.Param("auction_id")

	auction, err := action(c.Request.Context(), user, auctionID)
	if err != nil {
		helpers.RespondError(c, handlerName, err, map[string]any{"auction_id": auctionID, "admin_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, auction, message)
	helpers.LogSuccess(handlerName, message, map[string]any{
		"auction_id": auctionID,
		"admin_id":   user.UserID,
		"state":      auction.State,
	})
}
