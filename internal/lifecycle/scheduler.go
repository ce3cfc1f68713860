package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	bidding "jewel-auction/internal/biddingService"
	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/locker"
	"jewel-auction/internal/metrics"
	"jewel-auction/internal/models"
	"jewel-auction/internal/repository"
	"jewel-auction/utils"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = 60 * time.Second

// Scheduler moves auctions through their lifecycle: a periodic sweep opens
// scheduled auctions and closes expired ones, and admins accept, reject or
// cancel listings. Every change to one auction runs under the same
// per-auction lock the bidding service uses.
type Scheduler struct {
	repo        repository.AuctionDB
	events      bidding.Publisher
	locks       locker.Locker
	clock       bidding.Clock
	interval    time.Duration
	lockTimeout time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithPublisher(p bidding.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

func WithLocker(l locker.Locker) Option {
	return func(s *Scheduler) { s.locks = l }
}

func WithClock(c bidding.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.lockTimeout = d }
}

// NewScheduler creates a Scheduler over repo.
func NewScheduler(repo repository.AuctionDB, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:        repo,
		events:      bidding.DiscardPublisher{},
		locks:       locker.New(),
		clock:       bidding.SystemClock{},
		interval:    DefaultInterval,
		lockTimeout: bidding.DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Promoted int
	Closed   int
	Failed   int
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	utils.Info("lifecycle scheduler started", map[string]any{"interval": s.interval.String()})
	defer utils.Info("lifecycle scheduler stopped", nil)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep promotes due scheduled auctions and closes expired live ones. A
// failure on one auction is logged and does not stop the others; running it
// again with nothing due changes nothing.
func (s *Scheduler) Sweep(ctx context.Context) SweepReport {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var report SweepReport
	s.sweepState(ctx, models.StateScheduled, s.promote, &report.Promoted, &report.Failed)
	s.sweepState(ctx, models.StateLive, s.close, &report.Closed, &report.Failed)

	if report.Promoted > 0 || report.Closed > 0 || report.Failed > 0 {
		utils.Info("lifecycle sweep finished", map[string]any{
			"promoted": report.Promoted,
			"closed":   report.Closed,
			"failed":   report.Failed,
			"duration": time.Since(start).String(),
		})
	}
	return report
}

func (s *Scheduler) sweepState(ctx context.Context, state models.State, step func(context.Context, string) (bool, error), done, failed *int) {
	auctions, err := s.repo.ListAuctionsByState(ctx, state)
	if err != nil {
		*failed++
		metrics.SweepFailures.Inc()
		utils.Error("lifecycle sweep: failed to list auctions", map[string]any{"state": state, "error": err.Error()})
		return
	}

	now := s.clock.Now()
	for _, a := range auctions {
		if ctx.Err() != nil {
			return
		}
		if !due(a, now) {
			continue
		}
		changed, err := step(ctx, a.AuctionID)
		if err != nil {
			*failed++
			metrics.SweepFailures.Inc()
			utils.Error("lifecycle sweep: auction not advanced", map[string]any{
				"auction_id": a.AuctionID,
				"state":      state,
				"error":      err.Error(),
			})
			continue
		}
		if changed {
			*done++
		}
	}
}

func due(a models.Auction, now time.Time) bool {
	switch a.State {
	case models.StateScheduled:
		return !a.StartTime.After(now)
	case models.StateLive:
		return !a.EndTime.After(now)
	}
	return false
}

// promote opens a scheduled auction whose start time has passed.
func (s *Scheduler) promote(ctx context.Context, auctionID string) (bool, error) {
	changed := false
	err := s.locks.Do(ctx, auctionID, s.lockTimeout, func(ctx context.Context) error {
		a, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if a.State != models.StateScheduled || a.StartTime.After(now) {
			return nil
		}

		a.State = models.StateLive
		saved, err := s.repo.UpdateAuction(ctx, a)
		if err != nil {
			return err
		}
		changed = true
		s.transitioned(saved, models.EventAuctionStarted, now)
		return nil
	})
	return changed, err
}

// close settles a live auction whose end time has passed. The highest bid
// wins when it meets the reserve; otherwise the auction ends without a winner.
func (s *Scheduler) close(ctx context.Context, auctionID string) (bool, error) {
	changed := false
	err := s.locks.Do(ctx, auctionID, s.lockTimeout, func(ctx context.Context) error {
		a, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if a.State != models.StateLive || a.EndTime.After(now) {
			return nil
		}

		a.State = models.StateCompleted
		a.WinnerID = ""
		a.ReserveMet = false

		winning, err := s.repo.GetWinningBid(ctx, auctionID)
		switch {
		case errors.Is(err, biddingerrors.ErrNoBids):
		case err != nil:
			return err
		case winning.Amount.GreaterThanOrEqual(a.ReservePrice):
			a.WinnerID = winning.UserID
			a.ReserveMet = true
		}

		saved, err := s.repo.FinalizeAuction(ctx, a)
		if err != nil {
			return err
		}
		changed = true
		s.transitioned(saved, models.EventAuctionEnded, now)
		if saved.WinnerID != "" {
			evt := models.NewAuctionEvent(saved, models.EventAuctionEnded, now)
			evt.Message = fmt.Sprintf("You won %q at %s", saved.Title, winning.Amount)
			s.publish(models.UserTopic(saved.WinnerID), evt)
		}
		return nil
	})
	return changed, err
}

// AcceptPending approves a pending auction. It goes live right away when its
// start time has passed and is scheduled otherwise.
func (s *Scheduler) AcceptPending(ctx context.Context, caller models.User, auctionID string) (models.Auction, error) {
	return s.adminTransition(ctx, caller, auctionID, "accept", func(a *models.Auction, now time.Time) (models.EventKind, error) {
		if a.State != models.StatePending {
			return "", fmt.Errorf("%w - auction is %s, not pending", biddingerrors.ErrInvalidState, a.State)
		}
		a.Approved = true
		if !a.StartTime.After(now) {
			a.State = models.StateLive
			return models.EventAuctionStarted, nil
		}
		a.State = models.StateScheduled
		return "", nil
	})
}

// RejectPending turns down a pending auction.
func (s *Scheduler) RejectPending(ctx context.Context, caller models.User, auctionID string) (models.Auction, error) {
	return s.adminTransition(ctx, caller, auctionID, "reject", func(a *models.Auction, _ time.Time) (models.EventKind, error) {
		if a.State != models.StatePending {
			return "", fmt.Errorf("%w - auction is %s, not pending", biddingerrors.ErrInvalidState, a.State)
		}
		a.Approved = false
		a.State = models.StateCancelled
		return models.EventAuctionCancelled, nil
	})
}

// Cancel withdraws an auction that has not finished yet and drops its
// standing bids.
func (s *Scheduler) Cancel(ctx context.Context, caller models.User, auctionID string) (models.Auction, error) {
	return s.adminTransition(ctx, caller, auctionID, "cancel", func(a *models.Auction, _ time.Time) (models.EventKind, error) {
		if !a.State.CanTransition(models.StateCancelled) {
			return "", fmt.Errorf("%w - auction is already %s", biddingerrors.ErrInvalidState, a.State)
		}
		a.State = models.StateCancelled
		return models.EventAuctionCancelled, nil
	})
}

func (s *Scheduler) adminTransition(ctx context.Context, caller models.User, auctionID, action string, apply func(*models.Auction, time.Time) (models.EventKind, error)) (models.Auction, error) {
	if caller.Role != models.RoleAdmin {
		return models.Auction{}, fmt.Errorf("lifecycle: %w - %s requires the admin role", biddingerrors.ErrForbidden, action)
	}
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("lifecycle: %w - empty auction ID", biddingerrors.ErrInvalidInput)
	}

	var result models.Auction
	err := s.locks.Do(ctx, auctionID, s.lockTimeout, func(ctx context.Context) error {
		a, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		kind, err := apply(&a, now)
		if err != nil {
			return err
		}

		if a.State == models.StateCancelled {
			result, err = s.repo.FinalizeAuction(ctx, a)
		} else {
			result, err = s.repo.UpdateAuction(ctx, a)
		}
		if err != nil {
			return err
		}
		s.transitioned(result, kind, now)
		return nil
	})
	if err != nil {
		return models.Auction{}, fmt.Errorf("lifecycle: failed to %s auction %s: %w", action, auctionID, err)
	}

	utils.Info("admin transition applied", map[string]any{
		"auction_id": auctionID,
		"action":     action,
		"admin_id":   caller.UserID,
		"state":      result.State,
	})
	return result, nil
}

// transitioned records the new state and, when kind is set, announces it to
// the auction room.
func (s *Scheduler) transitioned(a models.Auction, kind models.EventKind, now time.Time) {
	metrics.Transitions.WithLabelValues(string(a.State)).Inc()
	utils.Info("auction transitioned", map[string]any{
		"auction_id":  a.AuctionID,
		"state":       a.State,
		"winner_id":   a.WinnerID,
		"reserve_met": a.ReserveMet,
	})
	if kind != "" {
		s.publish(models.AuctionTopic(a.AuctionID), models.NewAuctionEvent(a, kind, now))
	}
}

func (s *Scheduler) publish(topic string, evt models.Event) {
	if err := s.events.Publish(topic, evt); err != nil {
		utils.Warn("failed to publish event", map[string]any{"topic": topic, "kind": evt.Kind, "error": err.Error()})
	}
}
