package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	bidding "jewel-auction/internal/biddingService"
	"jewel-auction/internal/config"
	"jewel-auction/internal/events"
	"jewel-auction/internal/identity"
	"jewel-auction/internal/lifecycle"
	"jewel-auction/internal/locker"
	"jewel-auction/internal/metrics"
	model "jewel-auction/internal/models"
	"jewel-auction/internal/repository"
	"jewel-auction/internal/server"
	"jewel-auction/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		utils.Fatal("invalid configuration", map[string]any{"error": err.Error()})
	}
	utils.SetLevel(cfg.LogLevel)
	metrics.Init()

	repo, closeRepo, err := openStore(cfg)
	if err != nil {
		utils.Fatal("failed to open store", map[string]any{"error": err.Error()})
	}
	defer closeRepo()

	hub := events.NewHub(cfg.EventBuffer)
	hub.Start()
	defer hub.Stop()

	var (
		locks     locker.Locker     = locker.New()
		publisher bidding.Publisher = hub
		relay     *events.RedisRelay
	)
	if cfg.RedisURL != "" {
		client, err := openRedis(cfg.RedisURL)
		if err != nil {
			utils.Fatal("failed to connect to redis", map[string]any{"error": err.Error()})
		}
		defer client.Close()
		locks = locker.NewRedisLocker(client)
		relay = events.NewRedisRelay(client, hub)
		publisher = relay
	}

	biddingSvc := bidding.NewBiddingService(repo,
		bidding.WithPublisher(publisher),
		bidding.WithLocker(locks),
		bidding.WithLockTimeout(cfg.LockTimeout),
	)
	scheduler := lifecycle.NewScheduler(repo,
		lifecycle.WithPublisher(publisher),
		lifecycle.WithLocker(locks),
		lifecycle.WithLockTimeout(cfg.LockTimeout),
		lifecycle.WithInterval(cfg.SweepInterval),
	)

	issuer, err := identity.NewIssuer(cfg.JWTSecret)
	if err != nil {
		utils.Fatal("failed to build token issuer", map[string]any{"error": err.Error()})
	}

	router := server.SetupRouter(server.Deps{
		Bidding:   biddingSvc,
		Lifecycle: scheduler,
		Events:    hub,
		Tokens:    issuer,
		Limiter:   server.NewRateLimiter(cfg.BidRatePerSecond, cfg.BidRateBurst),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(bgCtx)
	}()
	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(bgCtx); err != nil {
				utils.Error("event relay stopped", map[string]any{"error": err.Error()})
				stop()
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// closing subscriber channels ends open event streams so Shutdown can drain
	srv.RegisterOnShutdown(hub.Stop)

	go func() {
		utils.Info("starting auction server", map[string]any{"addr": cfg.ServerAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("server stopped unexpectedly", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("http shutdown failed", map[string]any{"error": err.Error()})
	}

	stopBackground()
	wg.Wait()
}

// openRedis connects to the Redis used for shared locks and event fan-out.
func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	utils.Info("connected to redis", map[string]any{"addr": opts.Addr})
	return client, nil
}

// openStore returns the Postgres store when a DSN is configured and the
// in-memory store otherwise.
func openStore(cfg config.Config) (repository.AuctionDB, func(), error) {
	if cfg.DatabaseDSN == "" {
		repo := repository.NewMemoryRepo()
		if err := prepopulateAuctions(repo); err != nil {
			return nil, nil, err
		}
		utils.Warn("no database configured, data is kept in memory", nil)
		return repo, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := repository.OpenPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	utils.Info("connected to postgres", nil)

	return pg, func() {
		if err := pg.Close(); err != nil {
			utils.Warn("failed to close database", map[string]any{"error": err.Error()})
		}
	}, nil
}

// prepopulateAuctions adds sample live auctions to the in-memory repo
func prepopulateAuctions(repo *repository.MemoryRepo) error {
	now := time.Now().UTC()
	auctions := []model.Auction{
		{AuctionID: "demo-ring", SKU: "DEMO-RING-1", Title: "Sapphire halo ring", CaratWeight: decimal.RequireFromString("1.8"),
			StartingBid: decimal.NewFromInt(100), BidIncrement: decimal.NewFromInt(10), ReservePrice: decimal.NewFromInt(150)},
		{AuctionID: "demo-necklace", SKU: "DEMO-NECK-1", Title: "Akoya pearl strand", CaratWeight: decimal.Zero,
			StartingBid: decimal.NewFromInt(400), BidIncrement: decimal.NewFromInt(25), ReservePrice: decimal.NewFromInt(650)},
		{AuctionID: "demo-earrings", SKU: "DEMO-EAR-1", Title: "Emerald drop earrings", CaratWeight: decimal.RequireFromString("2.4"),
			StartingBid: decimal.NewFromInt(250), BidIncrement: decimal.NewFromInt(20), ReservePrice: decimal.NewFromInt(0)},
	}

	for _, a := range auctions {
		a.State = model.StateLive
		a.Approved = true
		a.SellerID = "demo-seller"
		a.StartTime = now
		a.EndTime = now.Add(24 * time.Hour)
		a.CreatedAt = now
		if err := repo.CreateAuction(context.Background(), a); err != nil {
			return fmt.Errorf("seed auction %s: %w", a.AuctionID, err)
		}
	}
	return nil
}
