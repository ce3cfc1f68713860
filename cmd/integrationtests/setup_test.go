package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	bidding "jewel-auction/internal/biddingService"
	"jewel-auction/internal/events"
	"jewel-auction/internal/identity"
	"jewel-auction/internal/lifecycle"
	"jewel-auction/internal/locker"
	"jewel-auction/internal/metrics"
	model "jewel-auction/internal/models"
	"jewel-auction/internal/repository"
	"jewel-auction/internal/server"
)

var (
	seller = model.User{UserID: "seller-1", Role: model.RoleSeller}
	admin  = model.User{UserID: "admin-1", Role: model.RoleAdmin}
)

// TestApp is the full HTTP stack over an in-memory store.
type TestApp struct {
	Router    *gin.Engine
	Repo      *repository.MemoryRepo
	Hub       *events.Hub
	Scheduler *lifecycle.Scheduler
	Issuer    *identity.Issuer
}

// SetupTestApp wires the router the same way main does, with the in-memory repository.
func SetupTestApp(t *testing.T) *TestApp {
	t.Helper()
	return newTestApp(t, repository.NewMemoryRepo(), nil)
}

// SetupInstance wires one server instance over a shared store and Redis, the
// way main does when redis-url is set. The relay runs until the test ends.
func SetupInstance(t *testing.T, repo *repository.MemoryRepo, client *redis.Client) *TestApp {
	t.Helper()
	return newTestApp(t, repo, client)
}

func newTestApp(t *testing.T, repo *repository.MemoryRepo, client *redis.Client) *TestApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.Init()

	hub := events.NewHub(16)
	hub.Start()
	t.Cleanup(hub.Stop)

	var (
		locks     locker.Locker     = locker.New()
		publisher bidding.Publisher = hub
	)
	if client != nil {
		relay := events.NewRedisRelay(client, hub)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = relay.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		locks = locker.NewRedisLocker(client)
		publisher = relay
	}

	service := bidding.NewBiddingService(repo, bidding.WithPublisher(publisher), bidding.WithLocker(locks))
	scheduler := lifecycle.NewScheduler(repo, lifecycle.WithPublisher(publisher), lifecycle.WithLocker(locks))

	issuer, err := identity.NewIssuer("integration-secret")
	require.NoError(t, err)

	router := server.SetupRouter(server.Deps{
		Bidding:   service,
		Lifecycle: scheduler,
		Events:    hub,
		Tokens:    issuer,
		Limiter:   server.NewRateLimiter(1000, 1000),
	})
	return &TestApp{Router: router, Repo: repo, Hub: hub, Scheduler: scheduler, Issuer: issuer}
}

// Token issues a bearer token for user.
func (a *TestApp) Token(t *testing.T, user model.User) string {
	t.Helper()
	tok, err := a.Issuer.Issue(user, time.Hour)
	require.NoError(t, err)
	return tok
}

// Bidder returns a token for a bidder with the given id.
func (a *TestApp) Bidder(t *testing.T, userID string) string {
	return a.Token(t, model.User{UserID: userID, Role: model.RoleBidder})
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url, token string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		if err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}

		if w.Code == http.StatusCreated {
			resp = resp["data"].(map[string]any)
		}
	}

	return resp, w
}

// Data returns the envelope's data object.
func Data(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", resp)
	return data
}

// ListAuction creates an auction through the API and has an admin accept it.
// Starting bid 100, increment 10, reserve 150.
func (a *TestApp) ListAuction(t *testing.T, sku string, start, end time.Time) string {
	t.Helper()
	created, w := ExecuteRequestAndParse(t, a.Router, http.MethodPost, "/auctions", a.Token(t, seller), map[string]any{
		"sku":           sku,
		"title":         "Ruby earrings " + sku,
		"carat_weight":  "2.15",
		"starting_bid":  "100",
		"bid_increment": "10",
		"reserve_price": "150",
		"start_time":    start.Format(time.RFC3339),
		"end_time":      end.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := created["auction_id"].(string)

	_, w = ExecuteRequestAndParse(t, a.Router, http.MethodPost, "/admin/auctions/"+id+"/accept", a.Token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	return id
}

// LiveAuction lists an auction that is open for the next hour.
func (a *TestApp) LiveAuction(t *testing.T, sku string) string {
	now := time.Now().UTC()
	return a.ListAuction(t, sku, now.Add(-time.Minute), now.Add(time.Hour))
}
