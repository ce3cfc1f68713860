package perftests

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	bidding "jewel-auction/internal/biddingService"
	"jewel-auction/internal/biddingerrors"
	model "jewel-auction/internal/models"
	repository "jewel-auction/internal/repository"
)

// LoadScenario defines configurable benchmark parameters
type LoadScenario struct {
	Name            string
	NumUsers        int
	NumAuctions     int
	StandingBidders int
	ReadRatio       int
	MaxBidIncrement int
	Burst           bool // if true, no delay between ops
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (fastest, slowest, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.latencies...)
	om.mu.Unlock()
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fastest = latencies[0]
	slowest = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)-1))]
	p99 = latencies[int(0.99*float64(len(latencies)-1))]
	return
}

// liveAuction is a benchmark lot open for a day: starting 100, increment 1.
func liveAuction(id string) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		AuctionID:    id,
		SKU:          "SKU-" + id,
		Title:        "Load test lot " + id,
		StartingBid:  decimal.NewFromInt(100),
		BidIncrement: decimal.NewFromInt(1),
		ReservePrice: decimal.NewFromInt(150),
		State:        model.StateLive,
		StartTime:    now.Add(-time.Minute),
		EndTime:      now.Add(24 * time.Hour),
		SellerID:     "seller",
		Approved:     true,
		CreatedAt:    now,
	}
}

// setupRepo creates repository and bidding service with live auctions
func setupRepo(tb testing.TB, numAuctions int) (*repository.MemoryRepo, *bidding.BiddingService) {
	tb.Helper()
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo)
	for i := 0; i < numAuctions; i++ {
		if err := repo.CreateAuction(context.Background(), liveAuction(fmt.Sprintf("auction_%d", i))); err != nil {
			tb.Fatalf("failed to seed auction: %v", err)
		}
	}
	return repo, svc
}

// Benchmark_Load_BiddingSystem runs multiple scenarios
func Benchmark_Load_BiddingSystem(b *testing.B) {
	scenarios := []LoadScenario{
		{"Low-Contention-WriteHeavy", 200, 200, 0, 0, 50, false},
		{"High-Contention-WriteHeavy", 500, 10, 0, 0, 20, false},
		{"Mixed-Workload", 300, 50, 0, 7, 30, false},
		{"ReadHeavy", 200, 50, 0, 9, 20, false},
		{"Standing-Bid-Wars", 200, 20, 5, 3, 20, false},
		{"Edge-Case-SingleAuction", 100, 1, 2, 5, 10, false},
		{"Peak-Burst", 500, 50, 0, 0, 20, true},
	}

	for _, s := range scenarios {
		b.Run(s.Name, func(b *testing.B) {
			runParallelScenario(b, s)
		})
	}
}

func runParallelScenario(b *testing.B, s LoadScenario) {
	b.ReportAllocs()

	ctx := context.Background()
	_, svc := setupRepo(b, s.NumAuctions)

	for i := 0; i < s.NumAuctions; i++ {
		for j := 0; j < s.StandingBidders; j++ {
			ceiling := decimal.NewFromInt(int64(1000 + 500*j))
			if _, err := svc.SetStandingBid(ctx, fmt.Sprintf("auction_%d", i), fmt.Sprintf("proxy_%d", j), ceiling); err != nil {
				b.Fatalf("failed to set standing bid: %v", err)
			}
		}
	}

	var totalOps, successfulBids, rejectedBids, busyBids, totalReads int64
	auctionSuccess := make([]int64, s.NumAuctions)
	opMetrics := &OperationMetrics{}

	start := time.Now()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			auctionIndex := rnd.Intn(s.NumAuctions)
			auctionID := fmt.Sprintf("auction_%d", auctionIndex)
			opType := rnd.Intn(10)

			opStart := time.Now()
			if opType < s.ReadRatio {
				if _, err := svc.GetWinningBid(ctx, auctionID); err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
					b.Logf("ignored read error: %v", err)
				}
				atomic.AddInt64(&totalReads, 1)
			} else {
				userID := fmt.Sprintf("user_%d", rnd.Intn(s.NumUsers))
				// bid a little above the current price so most bids land
				current, err := svc.GetAuction(ctx, auctionID)
				if err != nil {
					b.Fatalf("failed to read auction: %v", err)
				}
				amount := current.MinimumNextBid().Add(decimal.NewFromInt(int64(rnd.Intn(s.MaxBidIncrement))))
				_, err = svc.PlaceBid(ctx, auctionID, userID, amount)
				switch {
				case err == nil:
					atomic.AddInt64(&successfulBids, 1)
					atomic.AddInt64(&auctionSuccess[auctionIndex], 1)
				case biddingerrors.IsTransient(err):
					atomic.AddInt64(&busyBids, 1)
				default:
					atomic.AddInt64(&rejectedBids, 1)
				}
			}

			opMetrics.Record(time.Since(opStart))
			atomic.AddInt64(&totalOps, 1)

			if !s.Burst {
				time.Sleep(time.Millisecond)
			}
		}
	})

	elapsed := time.Since(start)
	throughput := float64(totalOps) / elapsed.Seconds()
	fastest, slowest, avg, p95, p99 := opMetrics.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b.Logf(
		"Scenario: %s | Auctions: %d | Total Ops: %d | Accepted: %d | Rejected: %d | Busy: %d | Reads: %d | Elapsed: %s | Throughput: %.2f ops/sec | Latency(us) min: %.2f avg: %.2f max: %.2f p95: %.2f p99: %.2f | Memory Alloc: %.2f MB",
		s.Name, s.NumAuctions, totalOps, successfulBids, rejectedBids, busyBids, totalReads, elapsed,
		throughput,
		float64(fastest.Microseconds()), float64(avg.Microseconds()), float64(slowest.Microseconds()),
		float64(p95.Microseconds()), float64(p99.Microseconds()),
		float64(mem.Alloc)/1024/1024,
	)

	for i, v := range auctionSuccess {
		if v > 0 {
			b.Logf("Auction %d accepted bids: %d", i, v)
		}
	}
}
