package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	bidding "jewel-auction/internal/biddingService"
	"jewel-auction/internal/lifecycle"
	"jewel-auction/internal/locker"
	repository "jewel-auction/internal/repository"
)

// Benchmark 1: PlaceBid - Isolated Auctions (Low Contention - Micro Benchmark)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	ctx := context.Background()
	_, svc := setupRepo(b, b.N)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		userID := fmt.Sprintf("user_%d", i)
		auctionID := fmt.Sprintf("auction_%d", i)
		amount := decimal.NewFromInt(int64(100 + rand.Intn(100)))
		if _, err := svc.PlaceBid(ctx, auctionID, userID, amount); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 2: PlaceBid - Shared Auction (High Contention - Concurrency Benchmark)
func Benchmark_PlaceBid_ConcurrentSharedAuction(b *testing.B) {
	ctx := context.Background()
	_, svc := setupRepo(b, 1)

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 100

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			userID := fmt.Sprintf("user_parallel_%d", rnd.Int())

			nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			_, _ = svc.PlaceBid(ctx, "auction_0", userID, decimal.NewFromInt(nextBid))
		}
	})
}

// Benchmark 3: PlaceBid against standing bids that answer every manual bid
func Benchmark_PlaceBid_WithStandingBids(b *testing.B) {
	ctx := context.Background()
	_, svc := setupRepo(b, 1)

	for j := 0; j < 3; j++ {
		ceiling := decimal.NewFromInt(int64(1_000_000_000 + j))
		if _, err := svc.SetStandingBid(ctx, "auction_0", fmt.Sprintf("proxy_%d", j), ceiling); err != nil {
			b.Fatalf("failed to set standing bid: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		current, err := svc.GetAuction(ctx, "auction_0")
		if err != nil {
			b.Fatalf("failed to read auction: %v", err)
		}
		if _, err := svc.PlaceBid(ctx, "auction_0", fmt.Sprintf("user_%d", i), current.MinimumNextBid()); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 4: GetWinningBid - Single - Threaded (Low Contention)
func Benchmark_GetWinningBid_SingleThreaded(b *testing.B) {
	ctx := context.Background()
	_, svc := setupRepo(b, b.N)

	for i := 0; i < b.N; i++ {
		auctionID := fmt.Sprintf("auction_%d", i)
		for j := 0; j < 10; j++ {
			userID := fmt.Sprintf("user_%d_%d", i, j)
			_, _ = svc.PlaceBid(ctx, auctionID, userID, decimal.NewFromInt(int64(100+j*10)))
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		auctionID := fmt.Sprintf("auction_%d", i)
		if _, err := svc.GetWinningBid(ctx, auctionID); err != nil {
			b.Fatalf("failed to get winning bid: %v", err)
		}
	}
}

// Benchmark 5: GetWinningBid - Concurrent (High Contention)
func Benchmark_GetWinningBid_ConcurrentSharedAuction(b *testing.B) {
	ctx := context.Background()
	_, svc := setupRepo(b, 1)

	for j := 0; j < 100; j++ {
		userID := fmt.Sprintf("user_%d", j)
		_, _ = svc.PlaceBid(ctx, "auction_0", userID, decimal.NewFromInt(int64(100+j)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetWinningBid(ctx, "auction_0"); err != nil {
				b.Errorf("failed to get winning bid: %v", err)
				return
			}
		}
	})
}

// Benchmark 6: Mixed Workload (Readers + Writers concurrently)
func Benchmark_MixedWorkload_SharedAuction(b *testing.B) {
	ctx := context.Background()
	_, svc := setupRepo(b, 1)

	for j := 0; j < 50; j++ {
		userID := fmt.Sprintf("user_seed_%d", j)
		_, _ = svc.PlaceBid(ctx, "auction_0", userID, decimal.NewFromInt(int64(100+j*2)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 200

	// Ratio: 70% readers, 30% writers
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			if rnd.Intn(10) < 3 {
				userID := fmt.Sprintf("user_writer_%d", rnd.Int())
				nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
				_, _ = svc.PlaceBid(ctx, "auction_0", userID, decimal.NewFromInt(nextBid))
				continue
			}
			_, _ = svc.GetResult(ctx, "auction_0", "user_seed_7")
		}
	})
}

// Benchmark 7: Lifecycle sweep over many expired auctions
func Benchmark_Sweep_CloseExpired(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		repo := repository.NewMemoryRepo()
		locks := locker.New()
		svc := bidding.NewBiddingService(repo, bidding.WithLocker(locks))
		for j := 0; j < 200; j++ {
			a := liveAuction(fmt.Sprintf("auction_%d", j))
			a.EndTime = time.Now().UTC().Add(time.Second)
			if err := repo.CreateAuction(ctx, a); err != nil {
				b.Fatalf("failed to seed auction: %v", err)
			}
			_, _ = svc.PlaceBid(ctx, a.AuctionID, "bidder", decimal.NewFromInt(200))
		}
		sched := lifecycle.NewScheduler(repo, lifecycle.WithLocker(locks), lifecycle.WithClock(laterClock{offset: time.Minute}))
		b.StartTimer()

		if report := sched.Sweep(ctx); report.Closed != 200 {
			b.Fatalf("closed %d auctions, want 200", report.Closed)
		}
	}
}

// laterClock runs ahead of the wall clock so seeded auctions are already over.
type laterClock struct{ offset time.Duration }

func (c laterClock) Now() time.Time { return time.Now().UTC().Add(c.offset) }
