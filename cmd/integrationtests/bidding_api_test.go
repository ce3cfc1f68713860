package integrationtests

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	model "jewel-auction/internal/models"
)

// Auction listing and approval
func TestCreateAndAcceptAuction(t *testing.T) {
	app := SetupTestApp(t)
	now := time.Now().UTC()
	body := map[string]any{
		"sku":           "NECK-001",
		"title":         "Pearl necklace",
		"starting_bid":  "500",
		"bid_increment": "25",
		"reserve_price": "800",
		"start_time":    now.Add(time.Hour).Format(time.RFC3339),
		"end_time":      now.Add(3 * time.Hour).Format(time.RFC3339),
	}

	_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions", "", body)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions", app.Bidder(t, "user1"), body)
	require.Equal(t, http.StatusForbidden, w.Code)

	created, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions", app.Token(t, seller), body)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "pending", created["state"])
	require.Equal(t, false, created["approved"])
	require.Equal(t, seller.UserID, created["seller_id"])
	id := created["auction_id"].(string)

	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions", app.Token(t, seller), body)
	require.Equal(t, http.StatusConflict, w.Code, "duplicate SKU")

	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/admin/auctions/"+id+"/accept", app.Token(t, seller), nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	resp, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/admin/auctions/"+id+"/accept", app.Token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "scheduled", Data(t, resp)["state"])

	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/admin/auctions/"+id+"/accept", app.Token(t, admin), nil)
	require.Equal(t, http.StatusConflict, w.Code)

	// scheduled auctions do not take bids yet
	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", app.Bidder(t, "user1"), map[string]any{"amount": "500"})
	require.Equal(t, http.StatusConflict, w.Code)
}

// Standing bid against manual bids, end to end
func TestStandingBidDuel(t *testing.T) {
	app := SetupTestApp(t)
	id := app.LiveAuction(t, "RING-100")
	alice, bob := app.Bidder(t, "alice"), app.Bidder(t, "bob")

	resp, w := ExecuteRequestAndParse(t, app.Router, http.MethodPut, "/auctions/"+id+"/autobid", bob, map[string]any{"max_amount": "150"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "150", Data(t, resp)["max_amount"])

	for _, amount := range []string{"120", "140", "160"} {
		bid, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", alice, map[string]any{"amount": amount})
		require.Equal(t, http.StatusCreated, w.Code, amount)
		require.Equal(t, amount, bid["amount"])
		require.Equal(t, false, bid["is_auto"])
	}

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id+"/winning", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	winning := Data(t, resp)
	require.Equal(t, "alice", winning["user_id"])
	require.Equal(t, "160", winning["amount"])
	_, err := time.Parse(time.RFC3339, winning["created_at"].(string))
	require.NoError(t, err)

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id+"/bids", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	bids := resp["data"].([]any)
	amounts := make([]string, 0, len(bids))
	for _, b := range bids {
		amounts = append(amounts, b.(map[string]any)["amount"].(string))
	}
	require.Equal(t, []string{"160", "150", "140", "130", "120", "110"}, amounts)

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	auction := Data(t, resp)
	require.Equal(t, "160", auction["current_bid"])
	require.Equal(t, float64(6), auction["bid_count"])
	require.Equal(t, true, auction["reserve_met"])

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id+"/result", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := Data(t, resp)
	require.Equal(t, float64(2), result["viewer_rank"])
	require.Nil(t, result["winner_id"])
}

// PlaceBid rejections
func TestPlaceBidRejections(t *testing.T) {
	app := SetupTestApp(t)
	id := app.LiveAuction(t, "BRAC-7")

	_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", app.Bidder(t, "first"), map[string]any{"amount": "100"})
	require.Equal(t, http.StatusCreated, w.Code)
	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPut, "/auctions/"+id+"/autobid", app.Bidder(t, "proxy"), map[string]any{"max_amount": "300"})
	require.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		name       string
		auctionID  string
		token      string
		body       any
		wantStatus int
	}{
		{name: "Unauthenticated", auctionID: id, body: map[string]any{"amount": "500"}, wantStatus: http.StatusUnauthorized},
		{name: "Invalid_JSON", auctionID: id, token: app.Bidder(t, "u2"), body: "{amount: oops}", wantStatus: http.StatusBadRequest},
		{name: "Seller_Bid", auctionID: id, token: app.Token(t, seller), body: map[string]any{"amount": "500"}, wantStatus: http.StatusForbidden},
		{name: "Equal_To_Current", auctionID: id, token: app.Bidder(t, "u2"), body: map[string]any{"amount": "110"}, wantStatus: http.StatusBadRequest},
		{name: "Below_Increment", auctionID: id, token: app.Bidder(t, "u2"), body: map[string]any{"amount": "115"}, wantStatus: http.StatusBadRequest},
		{name: "Zero_Amount", auctionID: id, token: app.Bidder(t, "u2"), body: map[string]any{"amount": "0"}, wantStatus: http.StatusBadRequest},
		{name: "Has_Standing_Bid", auctionID: id, token: app.Bidder(t, "proxy"), body: map[string]any{"amount": "500"}, wantStatus: http.StatusConflict},
		{name: "Auction_Not_Found", auctionID: "nonexistent", token: app.Bidder(t, "u2"), body: map[string]any{"amount": "500"}, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+tt.auctionID+"/bids", tt.token, tt.body)
			require.Equal(t, tt.wantStatus, w.Code)
		})
	}

	// nothing above touched the ledger
	resp, _ := ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, float64(2), Data(t, resp)["bid_count"])
}

// Outbid and new-bid notifications
func TestNotifications(t *testing.T) {
	app := SetupTestApp(t)
	id := app.LiveAuction(t, "BROOCH-3")
	carol, dave := app.Bidder(t, "carol"), app.Bidder(t, "dave")

	_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", carol, map[string]any{"amount": "100"})
	require.Equal(t, http.StatusCreated, w.Code)
	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", dave, map[string]any{"amount": "120"})
	require.Equal(t, http.StatusCreated, w.Code)

	resp, w := ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/users/me/notifications", carol, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := resp["data"].([]any)
	require.Len(t, list, 1)
	n := list[0].(map[string]any)
	require.Equal(t, "outbid", n["type"])
	require.Equal(t, false, n["read"])

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/users/me/notifications/"+n["notification_id"].(string)+"/read", carol, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, Data(t, resp)["read"])

	// someone else's notification is invisible
	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/users/me/notifications/"+n["notification_id"].(string)+"/read", dave, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/users/me/notifications", app.Token(t, seller), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 2)

	resp, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/users/me/bids", dave, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp["data"].([]any), 1)
}

// Lifecycle sweep closes expired auctions
func TestSweepClosesExpiredAuction(t *testing.T) {
	app := SetupTestApp(t)
	now := time.Now().UTC()
	id := app.ListAuction(t, "TIARA-1", now.Add(-2*time.Hour), now.Add(-time.Minute))

	// live but already past its end time
	_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", app.Bidder(t, "late"), map[string]any{"amount": "200"})
	require.Equal(t, http.StatusConflict, w.Code)

	report := app.Scheduler.Sweep(context.Background())
	require.Equal(t, 1, report.Closed)

	resp, w := ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	auction := Data(t, resp)
	require.Equal(t, "completed", auction["state"])
	require.Nil(t, auction["winner_id"])

	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodGet, "/auctions/"+id+"/winning", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	_, w = ExecuteRequestAndParse(t, app.Router, http.MethodDelete, "/admin/auctions/"+id, app.Token(t, admin), nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

// Server-sent events from the auction room
func TestAuctionEventStream(t *testing.T) {
	app := SetupTestApp(t)
	id := app.LiveAuction(t, "WATCH-9")

	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/auctions/"+id+"/events", nil)
	require.NoError(t, err)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	topic := model.AuctionTopic(id)
	require.Eventually(t, func() bool { return app.Hub.SubscriberCount(topic) == 1 }, time.Second, 10*time.Millisecond)

	_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", app.Bidder(t, "eve"), map[string]any{"amount": "100"})
	require.Equal(t, http.StatusCreated, w.Code)

	scanner := bufio.NewScanner(res.Body)
	var sawEvent bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event:bidPlaced" {
			sawEvent = true
			continue
		}
		if sawEvent && strings.HasPrefix(line, "data:") {
			require.Contains(t, line, `"bidder":"eve"`)
			break
		}
	}
	require.True(t, sawEvent)
}

func TestMetricsEndpoint(t *testing.T) {
	app := SetupTestApp(t)
	id := app.LiveAuction(t, "CUFF-2")
	_, w := ExecuteRequestAndParse(t, app.Router, http.MethodPost, "/auctions/"+id+"/bids", app.Bidder(t, "m1"), map[string]any{"amount": "100"})
	require.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "auction_bids_accepted_total")
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
