package events

import (
	"context"
	"errors"
	"sync"

	"github.com/smallnest/chanx"

	"jewel-auction/internal/metrics"
	"jewel-auction/internal/models"
	"jewel-auction/utils"
)

// ErrHubClosed is returned once the hub has been stopped.
var ErrHubClosed = errors.New("event hub is closed")

type envelope struct {
	topic string
	event models.Event
}

// Hub fans events out to per-topic subscribers. Publishing never blocks on
// subscribers: events queue on an unbounded channel and a single dispatcher
// goroutine hands them to each subscriber, skipping the ones that are full.
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queue   *chanx.UnboundedChan[envelope]
	bufSize int

	mu      sync.RWMutex
	active  bool
	started bool
	topics  map[string]map[<-chan models.Event]chan models.Event
}

// NewHub creates a hub whose subscriber channels hold bufSize events.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:     ctx,
		cancel:  cancel,
		queue:   chanx.NewUnboundedChan[envelope](ctx, 128),
		bufSize: bufSize,
		active:  true,
		topics:  make(map[string]map[<-chan models.Event]chan models.Event),
	}
}

// Start launches the dispatcher. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || !h.active {
		return
	}
	h.started = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.ctx.Done():
				return
			case env, ok := <-h.queue.Out:
				if !ok {
					return
				}
				h.dispatch(env)
			}
		}
	}()
}

// Stop halts the dispatcher and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	h.cancel()
	h.mu.Unlock()

	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		for _, ch := range subs {
			close(ch)
			metrics.Subscribers.Dec()
		}
		delete(h.topics, topic)
	}
}

// Publish queues evt for topic. It returns without waiting for delivery.
func (h *Hub) Publish(topic string, evt models.Event) error {
	h.mu.RLock()
	active := h.active
	h.mu.RUnlock()
	if !active {
		return ErrHubClosed
	}

	select {
	case h.queue.In <- envelope{topic: topic, event: evt}:
		metrics.EventsPublished.Inc()
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Subscribe registers a new listener on topic.
func (h *Hub) Subscribe(topic string) (<-chan models.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, ErrHubClosed
	}

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[<-chan models.Event]chan models.Event)
		h.topics[topic] = subs
	}
	ch := make(chan models.Event, h.bufSize)
	subs[ch] = ch
	metrics.Subscribers.Inc()
	return ch, nil
}

// Unsubscribe removes ch from topic and closes it.
func (h *Hub) Unsubscribe(topic string, ch <-chan models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	if w, ok := subs[ch]; ok {
		delete(subs, ch)
		close(w)
		metrics.Subscribers.Dec()
	}
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// SubscriberCount returns the number of listeners on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) dispatch(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.topics[env.topic] {
		select {
		case ch <- env.event:
		default:
			metrics.EventsDropped.Inc()
			utils.Debug("event dropped for slow subscriber", map[string]any{
				"topic": env.topic,
				"kind":  env.event.Kind,
			})
		}
	}
}
