package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	model "jewel-auction/internal/models"
	"jewel-auction/services/bidding/helpers"
	"jewel-auction/utils"
)

const defaultKeepAlive = 30 * time.Second

// AuctionEventsHandler handles GET /auctions/:auction_id/events
func (h *BiddingHandler) AuctionEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	if _, err := h.service.GetAuction(c.Request.Context(), auctionID); err != nil {
		helpers.RespondError(c, "AuctionEventsHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	h.stream(c, "AuctionEventsHandler", model.AuctionTopic(auctionID))
}

// UserEventsHandler handles GET /users/me/events
func (h *BiddingHandler) UserEventsHandler(c *gin.Context) {
	user, ok := mustUser(c, "UserEventsHandler")
	if !ok {
		return
	}
	h.stream(c, "UserEventsHandler", model.UserTopic(user.UserID))
}

// stream relays topic events as server-sent events until the client goes
// away or the hub closes the subscription. Idle streams get a comment line
// at every keep-alive tick.
func (h *BiddingHandler) stream(c *gin.Context, handlerName, topic string) {
	ch, err := h.events.Subscribe(topic)
	if err != nil {
		utils.JSONError(c, http.StatusServiceUnavailable, err, "event stream unavailable")
		utils.Warn(handlerName+": subscribe failed", map[string]any{"topic": topic, "error": err.Error()})
		return
	}
	defer h.events.Unsubscribe(topic, ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	utils.Debug(handlerName+": stream opened", map[string]any{"topic": topic})
	defer utils.Debug(handlerName+": stream closed", map[string]any{"topic": topic})

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(evt.Kind), evt)
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		c.Writer.Flush()
	}
}
