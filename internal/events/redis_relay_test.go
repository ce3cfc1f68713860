package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"jewel-auction/internal/models"
)

func TestEventCodec(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := models.Event{
		AuctionID:  "a1",
		Kind:       models.EventAuctionEnded,
		CurrentBid: decimal.RequireFromString("1250.50"),
		BidCount:   7,
		ReserveMet: true,
		Winner:     "alice",
		At:         at,
	}

	data, err := encodeEvent(models.AuctionTopic("a1"), evt)
	require.NoError(t, err)

	topic, got, err := decodeEvent(data)
	require.NoError(t, err)
	require.Equal(t, "auction:a1", topic)
	require.True(t, got.CurrentBid.Equal(evt.CurrentBid))
	require.True(t, got.At.Equal(at))
	got.CurrentBid, evt.CurrentBid = decimal.Zero, decimal.Zero
	got.At, evt.At = time.Time{}, time.Time{}
	require.Equal(t, evt, got)

	_, _, err = decodeEvent([]byte("not msgpack"))
	require.Error(t, err)
}

func TestRedisRelay_FansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}

	// two instances, each with its own hub and relay
	hubA, hubB := NewHub(4), NewHub(4)
	hubA.Start()
	hubB.Start()
	t.Cleanup(hubA.Stop)
	t.Cleanup(hubB.Stop)
	relayA := NewRedisRelay(newClient(), hubA)
	relayB := NewRedisRelay(newClient(), hubB)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- relayA.Run(ctx) }()
	go func() { done <- relayB.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultRelayChannel)[DefaultRelayChannel] == 2
	}, time.Second, 5*time.Millisecond)

	room := models.AuctionTopic("a1")
	chA, err := hubA.Subscribe(room)
	require.NoError(t, err)
	chB, err := hubB.Subscribe(room)
	require.NoError(t, err)

	require.NoError(t, relayA.Publish(room, models.Event{
		AuctionID:  "a1",
		Kind:       models.EventBidPlaced,
		CurrentBid: decimal.NewFromInt(150),
		Bidder:     "alice",
	}))

	for _, ch := range []<-chan models.Event{chA, chB} {
		got := receive(t, ch)
		require.Equal(t, models.EventBidPlaced, got.Kind)
		require.Equal(t, "alice", got.Bidder)
		require.True(t, got.CurrentBid.Equal(decimal.NewFromInt(150)))
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestRedisRelay_SkipsMalformedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(4)
	hub.Start()
	t.Cleanup(hub.Stop)
	relay := NewRedisRelay(client, hub, WithRelayChannel("test-events"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("test-events")["test-events"] == 1
	}, time.Second, 5*time.Millisecond)

	ch, err := hub.Subscribe(models.UserTopic("bob"))
	require.NoError(t, err)

	mr.Publish("test-events", "garbage")
	require.NoError(t, relay.Publish(models.UserTopic("bob"), models.Event{AuctionID: "a1", Kind: models.EventOutbid, CurrentBid: decimal.NewFromInt(160)}))

	got := receive(t, ch)
	require.Equal(t, models.EventOutbid, got.Kind)
}

func TestRedisRelay_QueuesUntilRunning(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(4)
	hub.Start()
	t.Cleanup(hub.Stop)
	relay := NewRedisRelay(client, hub)

	ch, err := hub.Subscribe(models.AuctionTopic("a1"))
	require.NoError(t, err)
	require.NoError(t, relay.Publish(models.AuctionTopic("a1"), models.Event{AuctionID: "a1", Kind: models.EventBidPlaced, CurrentBid: decimal.NewFromInt(110)}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	got := receive(t, ch)
	require.Equal(t, models.EventBidPlaced, got.Kind)

	cancel()
	require.NoError(t, <-done)
	require.ErrorIs(t, relay.Publish(models.AuctionTopic("a1"), models.Event{AuctionID: "a1"}), ErrRelayClosed)
}

func TestRedisRelay_PublishDoesNotWaitForRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	hub := NewHub(1)
	hub.Start()
	t.Cleanup(hub.Stop)
	relay := NewRedisRelay(client, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultRelayChannel)[DefaultRelayChannel] == 1
	}, time.Second, 5*time.Millisecond)
	mr.Close()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, relay.Publish("auction:a1", models.Event{AuctionID: "a1"}))
	}
	require.Less(t, time.Since(start), publishTimeout, "publishing must not wait on Redis")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * publishTimeout):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelay_ClosedWhenSubscribeFails(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	hub := NewHub(1)
	t.Cleanup(hub.Stop)
	relay := NewRedisRelay(client, hub)
	mr.Close()

	require.Error(t, relay.Run(context.Background()))
	require.ErrorIs(t, relay.Publish("auction:a1", models.Event{AuctionID: "a1"}), ErrRelayClosed)
}
