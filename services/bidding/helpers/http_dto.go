package helpers

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	bidding "jewel-auction/internal/biddingService"
	model "jewel-auction/internal/models"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type StandingBidRequest struct {
	MaxAmount decimal.Decimal `json:"max_amount"`
}

type CreateAuctionRequest struct {
	SKU          string          `json:"sku" binding:"required"`
	Title        string          `json:"title" binding:"required"`
	Description  string          `json:"description"`
	CategoryID   string          `json:"category_id"`
	CaratWeight  decimal.Decimal `json:"carat_weight"`
	Images       []string        `json:"images"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	StartTime    time.Time       `json:"start_time" binding:"required"`
	EndTime      time.Time       `json:"end_time" binding:"required"`
}

// ToInput converts the request into the engine's listing input.
func (r CreateAuctionRequest) ToInput() bidding.CreateAuctionInput {
	return bidding.CreateAuctionInput{
		SKU:          r.SKU,
		Title:        r.Title,
		Description:  r.Description,
		CategoryID:   r.CategoryID,
		CaratWeight:  r.CaratWeight,
		Images:       r.Images,
		StartingBid:  r.StartingBid,
		BidIncrement: r.BidIncrement,
		ReservePrice: r.ReservePrice,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
	}
}

type BidResponse struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsAuto    bool            `json:"is_auto"`
	CreatedAt string          `json:"created_at"`
}

type StandingBidResponse struct {
	AutoBidID string          `json:"auto_bid_id"`
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	UpdatedAt string          `json:"updated_at"`
}

func NewBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		UserID:    b.UserID,
		Amount:    b.Amount,
		IsAuto:    b.IsAuto,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func NewBidResponses(bids []model.Bid) []BidResponse {
	return lo.Map(bids, func(b model.Bid, _ int) BidResponse { return NewBidResponse(b) })
}

func NewStandingBidResponse(ab model.AutoBid) StandingBidResponse {
	return StandingBidResponse{
		AutoBidID: ab.AutoBidID,
		AuctionID: ab.AuctionID,
		UserID:    ab.UserID,
		MaxAmount: ab.MaxAmount,
		UpdatedAt: ab.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
