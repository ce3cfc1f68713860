package bidding

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"jewel-auction/internal/models"
)

// Placement is one bidder's standing in an auction.
type Placement struct {
	Rank     int             `json:"rank"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	BidID    string          `json:"bid_id"`
	At       time.Time       `json:"at"`
}

// AuctionResult is the ranked view of an auction's ledger.
type AuctionResult struct {
	AuctionID  string          `json:"auction_id"`
	State      models.State    `json:"state"`
	CurrentBid decimal.Decimal `json:"current_bid"`
	BidCount   int             `json:"bid_count"`
	ReserveMet bool            `json:"reserve_met"`
	WinnerID   string          `json:"winner_id,omitempty"`
	Placements []Placement     `json:"placements"`
	ViewerRank int             `json:"viewer_rank,omitempty"`
}

// RankBids keeps each bidder's highest bid and orders bidders by that amount,
// descending. Equal amounts rank the bidder who reached it first higher.
func RankBids(bids []models.Bid) []Placement {
	best := make(map[string]models.Bid, len(bids))
	for _, b := range bids {
		cur, ok := best[b.UserID]
		if !ok || b.Amount.GreaterThan(cur.Amount) || (b.Amount.Equal(cur.Amount) && b.CreatedAt.Before(cur.CreatedAt)) {
			best[b.UserID] = b
		}
	}

	placements := make([]Placement, 0, len(best))
	for bidder, b := range best {
		placements = append(placements, Placement{BidderID: bidder, Amount: b.Amount, BidID: b.BidID, At: b.CreatedAt})
	}

	sort.Slice(placements, func(i, j int) bool {
		pi, pj := placements[i], placements[j]
		if !pi.Amount.Equal(pj.Amount) {
			return pi.Amount.GreaterThan(pj.Amount)
		}
		if !pi.At.Equal(pj.At) {
			return pi.At.Before(pj.At)
		}
		// ledger ids sort in acceptance order
		return pi.BidID < pj.BidID
	})

	for i := range placements {
		placements[i].Rank = i + 1
	}
	return placements
}

// BuildResult ranks bids and fills in the viewer's own rank when they bid.
// The winner is only reported once the auction is completed.
func BuildResult(a models.Auction, bids []models.Bid, viewerID string) AuctionResult {
	res := AuctionResult{
		AuctionID:  a.AuctionID,
		State:      a.State,
		CurrentBid: a.CurrentBid,
		BidCount:   a.BidCount,
		ReserveMet: a.ReserveMet,
		Placements: RankBids(bids),
	}
	if a.State == models.StateCompleted {
		res.WinnerID = a.WinnerID
	}
	if viewerID != "" {
		for _, p := range res.Placements {
			if p.BidderID == viewerID {
				res.ViewerRank = p.Rank
				break
			}
		}
	}
	return res
}
