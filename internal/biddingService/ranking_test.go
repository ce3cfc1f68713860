package bidding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	model "jewel-auction/internal/models"
)

func TestRankBids(t *testing.T) {
	t.Parallel()

	at := func(s int) time.Time { return base.Add(time.Duration(s) * time.Second) }

	tests := []struct {
		name    string
		bids    []model.Bid
		wantIDs []string
	}{
		{name: "empty", bids: nil, wantIDs: []string{}},
		{
			name: "highest_per_bidder",
			bids: []model.Bid{
				{BidID: "1", UserID: "x", Amount: d(100), CreatedAt: at(1)},
				{BidID: "2", UserID: "y", Amount: d(110), CreatedAt: at(2)},
				{BidID: "3", UserID: "x", Amount: d(130), CreatedAt: at(3)},
			},
			wantIDs: []string{"x", "y"},
		},
		{
			name: "earliest_wins_equal_amounts",
			bids: []model.Bid{
				{BidID: "1", UserID: "late", Amount: d(200), CreatedAt: at(5)},
				{BidID: "2", UserID: "early", Amount: d(200), CreatedAt: at(1)},
				{BidID: "3", UserID: "low", Amount: d(150), CreatedAt: at(0)},
			},
			wantIDs: []string{"early", "late", "low"},
		},
		{
			name: "same_instant_uses_ledger_order",
			bids: []model.Bid{
				{BidID: "01B", UserID: "second", Amount: d(120), CreatedAt: at(1)},
				{BidID: "01A", UserID: "first", Amount: d(120), CreatedAt: at(1)},
			},
			wantIDs: []string{"first", "second"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := RankBids(tc.bids)
			ids := make([]string, 0, len(got))
			for i, p := range got {
				require.Equal(t, i+1, p.Rank)
				ids = append(ids, p.BidderID)
			}
			require.Equal(t, tc.wantIDs, ids)
		})
	}
}

func TestBuildResult_WinnerOnlyWhenCompleted(t *testing.T) {
	t.Parallel()

	bids := []model.Bid{{BidID: "1", UserID: "x", Amount: d(200), CreatedAt: base}}
	a := model.Auction{AuctionID: "a1", State: model.StateLive, WinnerID: "x", CurrentBid: d(200), BidCount: 1}

	res := BuildResult(a, bids, "x")
	require.Empty(t, res.WinnerID)
	require.Equal(t, 1, res.ViewerRank)

	a.State = model.StateCompleted
	res = BuildResult(a, bids, "")
	require.Equal(t, "x", res.WinnerID)
	require.Zero(t, res.ViewerRank)
}
