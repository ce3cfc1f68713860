package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the coarse permission level attached to an identity
type Role string

const (
	RoleBidder Role = "bidder"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User represents a participant in the auction
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role"`
}

// State is the lifecycle state of an auction
type State string

const (
	StatePending   State = "pending"
	StateScheduled State = "scheduled"
	StateLive      State = "live"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateLive || next == StateScheduled || next == StateCancelled
	case StateScheduled:
		return next == StateLive || next == StateCancelled
	case StateLive:
		return next == StateCompleted || next == StateCancelled
	}
	return false
}

// Auction represents a jewelry lot and its cached bidding summary.
// CurrentBid, BidCount, ReserveMet and HighBidderID are derived from the bid
// ledger; Version is bumped on every write and used for optimistic checks.
type Auction struct {
	AuctionID    string          `json:"auction_id"`
	SKU          string          `json:"sku"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	CategoryID   string          `json:"category_id,omitempty"`
	CaratWeight  decimal.Decimal `json:"carat_weight"`
	Images       []string        `json:"images,omitempty"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	CurrentBid   decimal.Decimal `json:"current_bid"`
	BidCount     int             `json:"bid_count"`
	ReserveMet   bool            `json:"reserve_met"`
	HighBidderID string          `json:"high_bidder_id,omitempty"`
	State        State           `json:"state"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	SellerID     string          `json:"seller_id"`
	WinnerID     string          `json:"winner_id,omitempty"`
	Approved     bool            `json:"approved"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MinimumNextBid is the lowest amount the next bid may have.
func (a Auction) MinimumNextBid() decimal.Decimal {
	if a.CurrentBid.IsPositive() {
		return a.CurrentBid.Add(a.BidIncrement)
	}
	return a.StartingBid
}

// OpenAt reports whether the auction accepts bids at the given instant.
func (a Auction) OpenAt(now time.Time) bool {
	return a.State == StateLive && now.Before(a.EndTime)
}

// Bid is an immutable ledger entry
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsAuto    bool            `json:"is_auto"`
	CreatedAt time.Time       `json:"created_at"`
}

// AutoBid is a standing ceiling one user holds on one auction
type AutoBid struct {
	AutoBidID string          `json:"auto_bid_id"`
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NotificationType distinguishes notification records
type NotificationType string

const (
	NotificationOutbid NotificationType = "outbid"
	NotificationNewBid NotificationType = "newBid"
)

// Notification is a per-user record created alongside some bid events
type Notification struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	AuctionID      string           `json:"auction_id"`
	Type           NotificationType `json:"type"`
	Message        string           `json:"message"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}
