package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallnest/chanx"
	"github.com/vmihailenco/msgpack/v5"

	"jewel-auction/internal/metrics"
	"jewel-auction/internal/models"
	"jewel-auction/utils"
)

// DefaultRelayChannel is the Redis channel shared by every instance.
const DefaultRelayChannel = "jewel-auction:events"

const publishTimeout = 2 * time.Second

// wireEvent is the msgpack form of an event on the relay channel.
type wireEvent struct {
	Topic      string    `msgpack:"topic"`
	AuctionID  string    `msgpack:"auction_id"`
	Kind       string    `msgpack:"kind"`
	CurrentBid string    `msgpack:"current_bid"`
	BidCount   int       `msgpack:"bid_count"`
	ReserveMet bool      `msgpack:"reserve_met"`
	Bidder     string    `msgpack:"bidder,omitempty"`
	Winner     string    `msgpack:"winner,omitempty"`
	IsAuto     bool      `msgpack:"is_auto,omitempty"`
	Message    string    `msgpack:"message,omitempty"`
	At         time.Time `msgpack:"at"`
}

func encodeEvent(topic string, evt models.Event) ([]byte, error) {
	return msgpack.Marshal(wireEvent{
		Topic:      topic,
		AuctionID:  evt.AuctionID,
		Kind:       string(evt.Kind),
		CurrentBid: evt.CurrentBid.String(),
		BidCount:   evt.BidCount,
		ReserveMet: evt.ReserveMet,
		Bidder:     evt.Bidder,
		Winner:     evt.Winner,
		IsAuto:     evt.IsAuto,
		Message:    evt.Message,
		At:         evt.At,
	})
}

func decodeEvent(data []byte) (string, models.Event, error) {
	var w wireEvent
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return "", models.Event{}, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	bid, err := decimal.NewFromString(w.CurrentBid)
	if err != nil {
		return "", models.Event{}, fmt.Errorf("decode current bid: %w", err)
	}
	return w.Topic, models.Event{
		AuctionID:  w.AuctionID,
		Kind:       models.EventKind(w.Kind),
		CurrentBid: bid,
		BidCount:   w.BidCount,
		ReserveMet: w.ReserveMet,
		Bidder:     w.Bidder,
		Winner:     w.Winner,
		IsAuto:     w.IsAuto,
		Message:    w.Message,
		At:         w.At.UTC(),
	}, nil
}

// ErrRelayClosed is returned by Publish once Run has exited.
var ErrRelayClosed = errors.New("event relay is closed")

// RedisRelay fans events out to every instance. Publish queues the event and
// returns; while Run is active a sender drains the queue into Redis, and
// everything arriving on the channel, including this instance's own events,
// is delivered to the local hub. Subscribers therefore see the same stream no
// matter which instance handled the bid.
type RedisRelay struct {
	client  redis.UniversalClient
	local   *Hub
	channel string

	ctx    context.Context
	cancel context.CancelFunc
	queue  *chanx.UnboundedChan[[]byte]
}

type RelayOption func(*RedisRelay)

// WithRelayChannel overrides DefaultRelayChannel.
func WithRelayChannel(channel string) RelayOption {
	return func(r *RedisRelay) { r.channel = channel }
}

// NewRedisRelay creates a relay feeding local.
func NewRedisRelay(client redis.UniversalClient, local *Hub, opts ...RelayOption) *RedisRelay {
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		client:  client,
		local:   local,
		channel: DefaultRelayChannel,
		ctx:     ctx,
		cancel:  cancel,
		queue:   chanx.NewUnboundedChan[[]byte](ctx, 128),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish queues evt for topic. It never waits on Redis; delivery failures
// are logged by the sender.
func (r *RedisRelay) Publish(topic string, evt models.Event) error {
	if r.ctx.Err() != nil {
		return ErrRelayClosed
	}
	data, err := encodeEvent(topic, evt)
	if err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}

	select {
	case r.queue.In <- data:
		return nil
	case <-r.ctx.Done():
		return ErrRelayClosed
	}
}

// Run forwards relayed events into the local hub and sends queued events to
// Redis until ctx is done. It returns once the subscription is closed, or with
// an error when the subscription cannot be set up. The relay is closed when
// Run returns.
func (r *RedisRelay) Run(ctx context.Context) error {
	defer r.cancel()

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed so no event published after
	// Run has started is missed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	utils.Info("event relay subscribed", map[string]any{"channel": r.channel})

	sendCtx, stopSend := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.send(sendCtx)
	}()
	defer func() {
		stopSend()
		wg.Wait()
	}()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			topic, evt, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				utils.Warn("dropping malformed relayed event", map[string]any{"error": err.Error()})
				continue
			}
			if err := r.local.Publish(topic, evt); err != nil {
				utils.Debug("local hub rejected relayed event", map[string]any{
					"topic": topic,
					"error": err.Error(),
				})
			}
		}
	}
}

func (r *RedisRelay) send(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-r.queue.Out:
			if !ok {
				return
			}
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := r.client.Publish(pubCtx, r.channel, data).Err()
			cancel()
			if err != nil {
				metrics.EventsDropped.Inc()
				utils.Warn("failed to relay event", map[string]any{
					"channel": r.channel,
					"error":   err.Error(),
				})
			}
		}
	}
}
