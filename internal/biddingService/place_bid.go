package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/metrics"
	"jewel-auction/internal/models"
	"jewel-auction/utils"
)

// PlaceBid validates a manual bid and lets standing bids of other users
// respond to it. The manual bid and the responses are stored in one write
// inside the auction's critical section.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (models.Bid, error) {
	if auctionID == "" || bidderID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing auctionID or bidderID", biddingerrors.ErrInvalidInput)
	}

	var placed models.Bid
	err := s.locks.Do(ctx, auctionID, s.lockTimeout, func(ctx context.Context) error {
		a, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := checkBiddable(a, bidderID, now); err != nil {
			return err
		}

		active, err := s.hasStandingBid(ctx, auctionID, bidderID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w - update the standing bid instead", biddingerrors.ErrConflict)
		}

		if err := checkAmount(a, amount); err != nil {
			return err
		}

		round := newBidRound(a)
		placed = round.add(bidderID, amount, false, now)
		if err := s.resolveInto(ctx, round, bidderID); err != nil {
			// the manual bid still lands; standing bids catch up on the next trigger
			utils.Error("PlaceBid: standing bid resolution failed", map[string]any{
				"auction_id": auctionID,
				"error":      err.Error(),
			})
		}
		return s.commit(ctx, round)
	})
	if err != nil {
		rejectReason(err)
		return models.Bid{}, fmt.Errorf("service: failed to place bid on auction %s by user %s: %w", auctionID, bidderID, err)
	}
	return placed, nil
}

// SetStandingBid creates or raises the caller's ceiling on an auction and
// immediately lets it compete against the current price.
func (s *BiddingService) SetStandingBid(ctx context.Context, auctionID, userID string, maxAmount decimal.Decimal) (models.AutoBid, error) {
	if auctionID == "" || userID == "" {
		return models.AutoBid{}, fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidInput)
	}

	var stored models.AutoBid
	err := s.locks.Do(ctx, auctionID, s.lockTimeout, func(ctx context.Context) error {
		a, err := s.repo.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := checkBiddable(a, userID, now); err != nil {
			return err
		}
		if minBid := a.MinimumNextBid(); !maxAmount.IsPositive() || maxAmount.LessThan(minBid) {
			return fmt.Errorf("%w - ceiling must be at least %s", biddingerrors.ErrInvalidAmount, minBid)
		}

		stored, err = s.repo.UpsertAutoBid(ctx, models.AutoBid{
			AutoBidID: utils.GenerateID(),
			AuctionID: auctionID,
			UserID:    userID,
			MaxAmount: maxAmount,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}

		_, err = s.resolveLocked(ctx, auctionID, "")
		return err
	})
	if err != nil {
		rejectReason(err)
		return models.AutoBid{}, fmt.Errorf("service: failed to set standing bid on auction %s by user %s: %w", auctionID, userID, err)
	}
	return stored, nil
}

// Resolve runs one sweep over the auction's standing bids. excludeUserID may
// be empty.
func (s *BiddingService) Resolve(ctx context.Context, auctionID, excludeUserID string) ([]models.Bid, error) {
	var bids []models.Bid
	err := s.locks.Do(ctx, auctionID, s.lockTimeout, func(ctx context.Context) error {
		var err error
		bids, err = s.resolveLocked(ctx, auctionID, excludeUserID)
		return err
	})
	if err != nil {
		return bids, fmt.Errorf("service: failed to resolve standing bids on auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// resolveLocked runs one resolution round on the stored auction and commits
// whatever it synthesized. Caller holds the auction lock.
func (s *BiddingService) resolveLocked(ctx context.Context, auctionID, excludeUserID string) ([]models.Bid, error) {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if !a.OpenAt(s.clock.Now()) {
		return nil, nil
	}

	round := newBidRound(a)
	if err := s.resolveInto(ctx, round, excludeUserID); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, round); err != nil {
		return nil, err
	}
	return round.bids(), nil
}

// resolveInto walks the standing bids once, highest ceiling first, starting
// from the round's current price (the starting bid when nothing was bid yet).
// A ceiling above the running price bids one increment over it when that
// still fits under the ceiling.
func (s *BiddingService) resolveInto(ctx context.Context, round *bidRound, excludeUserID string) error {
	standing, err := s.repo.ListAutoBids(ctx, round.auction.AuctionID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	highest := round.auction.CurrentBid
	if highest.IsZero() {
		highest = round.auction.StartingBid
	}
	for _, sb := range standing {
		if sb.UserID == excludeUserID || sb.UserID == round.auction.SellerID {
			continue
		}
		if !sb.MaxAmount.GreaterThan(highest) {
			continue
		}
		next := highest.Add(round.auction.BidIncrement)
		if next.GreaterThan(sb.MaxAmount) {
			continue
		}
		round.add(sb.UserID, next, true, now)
		highest = next
	}
	return nil
}

// bidRound collects the bids accepted inside one critical section so they
// reach the store together.
type bidRound struct {
	auction models.Auction
	steps   []roundStep
}

type roundStep struct {
	bid            models.Bid
	after          models.Auction
	previousLeader string
}

func newBidRound(a models.Auction) *bidRound {
	return &bidRound{auction: a}
}

// add applies a bid to the running auction summary.
func (r *bidRound) add(userID string, amount decimal.Decimal, isAuto bool, now time.Time) models.Bid {
	bid := models.Bid{
		BidID:     utils.GenerateSortableID(now),
		AuctionID: r.auction.AuctionID,
		UserID:    userID,
		Amount:    amount,
		IsAuto:    isAuto,
		CreatedAt: now,
	}

	previousLeader := r.auction.HighBidderID
	r.auction.CurrentBid = amount
	r.auction.BidCount++
	r.auction.ReserveMet = amount.GreaterThanOrEqual(r.auction.ReservePrice)
	r.auction.HighBidderID = userID

	r.steps = append(r.steps, roundStep{bid: bid, after: r.auction, previousLeader: previousLeader})
	return bid
}

func (r *bidRound) bids() []models.Bid {
	if len(r.steps) == 0 {
		return nil
	}
	bids := make([]models.Bid, len(r.steps))
	for i, step := range r.steps {
		bids[i] = step.bid
	}
	return bids
}

// commit stores the round's ledger entries and final summary in one
// version-checked write, then announces each bid in order.
func (s *BiddingService) commit(ctx context.Context, round *bidRound) error {
	if len(round.steps) == 0 {
		return nil
	}
	saved, err := s.repo.RecordBids(ctx, round.bids(), round.auction)
	if err != nil {
		return err
	}

	for _, step := range round.steps {
		source := "manual"
		if step.bid.IsAuto {
			source = "auto"
		}
		metrics.BidsAccepted.WithLabelValues(source).Inc()
		utils.Info("bid accepted", map[string]any{
			"auction_id": step.bid.AuctionID,
			"bid_id":     step.bid.BidID,
			"user_id":    step.bid.UserID,
			"amount":     step.bid.Amount.String(),
			"is_auto":    step.bid.IsAuto,
		})

		after := step.after
		after.Version = saved.Version
		s.announceBid(ctx, after, step.bid, step.previousLeader)
	}
	return nil
}

// announceBid publishes the price change to the auction room, tells the
// displaced leader they were outbid and, for manual bids, tells the seller.
func (s *BiddingService) announceBid(ctx context.Context, a models.Auction, bid models.Bid, previousLeader string) {
	evt := models.NewAuctionEvent(a, models.EventBidPlaced, bid.CreatedAt)
	evt.Bidder = bid.UserID
	evt.IsAuto = bid.IsAuto
	s.publish(models.AuctionTopic(a.AuctionID), evt)

	if previousLeader != "" && previousLeader != bid.UserID {
		s.notify(ctx, a, bid, previousLeader, models.NotificationOutbid,
			fmt.Sprintf("You have been outbid on %q; the current bid is %s", a.Title, bid.Amount))
	}
	if !bid.IsAuto {
		s.notify(ctx, a, bid, a.SellerID, models.NotificationNewBid,
			fmt.Sprintf("New bid of %s on %q", bid.Amount, a.Title))
	}
}

func (s *BiddingService) notify(ctx context.Context, a models.Auction, bid models.Bid, userID string, typ models.NotificationType, message string) {
	n := models.Notification{
		NotificationID: utils.GenerateID(),
		UserID:         userID,
		AuctionID:      a.AuctionID,
		Type:           typ,
		Message:        message,
		CreatedAt:      bid.CreatedAt,
	}
	if err := s.repo.AddNotification(ctx, n); err != nil {
		utils.Warn("failed to store notification", map[string]any{
			"auction_id": a.AuctionID,
			"user_id":    userID,
			"type":       typ,
			"error":      err.Error(),
		})
	}

	evt := models.NewAuctionEvent(a, models.EventKind(typ), bid.CreatedAt)
	evt.Bidder = bid.UserID
	evt.IsAuto = bid.IsAuto
	evt.Message = message
	s.publish(models.UserTopic(userID), evt)
}

func (s *BiddingService) publish(topic string, evt models.Event) {
	if err := s.events.Publish(topic, evt); err != nil {
		utils.Warn("failed to publish event", map[string]any{
			"topic": topic,
			"kind":  evt.Kind,
			"error": err.Error(),
		})
	}
}

// checkBiddable holds the liveness and seller rules shared by manual and
// standing bids.
func checkBiddable(a models.Auction, userID string, now time.Time) error {
	if !a.OpenAt(now) {
		return fmt.Errorf("%w - auction %s is %s and ends at %s", biddingerrors.ErrInvalidState, a.AuctionID, a.State, a.EndTime.Format(time.RFC3339))
	}
	if userID == a.SellerID {
		return fmt.Errorf("%w - sellers cannot bid on their own auction", biddingerrors.ErrForbidden)
	}
	return nil
}

func checkAmount(a models.Auction, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w - non-positive bid amount", biddingerrors.ErrInvalidAmount)
	}
	if amount.Equal(a.CurrentBid) {
		return fmt.Errorf("%w - bid equals the current bid %s", biddingerrors.ErrInvalidAmount, a.CurrentBid)
	}
	if minBid := a.MinimumNextBid(); amount.LessThan(minBid) {
		return fmt.Errorf("%w - bid must be at least %s", biddingerrors.ErrInvalidAmount, minBid)
	}
	return nil
}

// rejectReason counts a refused bid request by error kind.
func rejectReason(err error) {
	reason := "internal"
	switch {
	case errors.Is(err, biddingerrors.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, biddingerrors.ErrInvalidState):
		reason = "invalid_state"
	case errors.Is(err, biddingerrors.ErrForbidden):
		reason = "forbidden"
	case errors.Is(err, biddingerrors.ErrConflict):
		reason = "conflict"
	case errors.Is(err, biddingerrors.ErrInvalidAmount):
		reason = "invalid_amount"
	case biddingerrors.IsTransient(err):
		reason = "busy"
	}
	metrics.BidsRejected.WithLabelValues(reason).Inc()
}
