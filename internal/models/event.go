package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a published change
type EventKind string

const (
	EventBidPlaced        EventKind = "bidPlaced"
	EventOutbid           EventKind = "outbid"
	EventNewBid           EventKind = "newBid"
	EventAuctionStarted   EventKind = "auctionStarted"
	EventAuctionEnded     EventKind = "auctionEnded"
	EventAuctionCancelled EventKind = "auctionCancelled"
)

// Event is the payload fanned out to auction rooms and user channels
type Event struct {
	AuctionID  string          `json:"auction_id"`
	Kind       EventKind       `json:"kind"`
	CurrentBid decimal.Decimal `json:"current_bid"`
	BidCount   int             `json:"bid_count"`
	ReserveMet bool            `json:"reserve_met"`
	Bidder     string          `json:"bidder,omitempty"`
	Winner     string          `json:"winner,omitempty"`
	IsAuto     bool            `json:"is_auto,omitempty"`
	Message    string          `json:"message,omitempty"`
	At         time.Time       `json:"at"`
}

// NewAuctionEvent builds an event carrying the auction's current summary.
func NewAuctionEvent(a Auction, kind EventKind, at time.Time) Event {
	return Event{
		AuctionID:  a.AuctionID,
		Kind:       kind,
		CurrentBid: a.CurrentBid,
		BidCount:   a.BidCount,
		ReserveMet: a.ReserveMet,
		Winner:     a.WinnerID,
		At:         at,
	}
}

// AuctionTopic is the public room of one auction.
func AuctionTopic(auctionID string) string {
	return "auction:" + auctionID
}

// UserTopic is the private channel of one user.
func UserTopic(userID string) string {
	return "user:" + userID
}
