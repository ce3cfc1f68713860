package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var initOnce sync.Once

// Bidding
var (
	BidsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_accepted_total",
			Help: "Bids written to the ledger, by source.",
		},
		[]string{"source"},
	)

	BidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Bid or standing bid requests refused, by reason.",
		},
		[]string{"reason"},
	)

	LockWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_lock_wait_seconds",
		Help:    "Time spent waiting for the per-auction lock.",
		Buckets: prometheus.DefBuckets,
	})
)

// Lifecycle
var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_transitions_total",
			Help: "Auction state transitions, by target state.",
		},
		[]string{"to"},
	)

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_sweep_duration_seconds",
		Help:    "Duration of one lifecycle sweep.",
		Buckets: prometheus.DefBuckets,
	})

	SweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_sweep_failures_total",
		Help: "Auctions the lifecycle sweep failed to advance.",
	})
)

// Events
var (
	EventsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_events_published_total",
		Help: "Events accepted by the hub.",
	})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auction_events_dropped_total",
		Help: "Deliveries skipped because a subscriber was full or the relay could not reach Redis.",
	})

	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auction_event_subscribers",
		Help: "Open event subscriptions.",
	})
)

// HTTP
var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			BidsAccepted, BidsRejected, LockWait,
			Transitions, SweepDuration, SweepFailures,
			EventsPublished, EventsDropped, Subscribers,
			HTTPRequests, HTTPDuration,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
