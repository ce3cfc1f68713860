//go:generate mockgen -package=repository -destination=mock_repository.go -source=repository.go

package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"jewel-auction/internal/biddingerrors"
	model "jewel-auction/internal/models"
)

// AuctionDB defines the storage interface for auctions, the bid ledger,
// standing bids and notifications.
//
// Every write of an auction record is checked against the Version the caller
// read; a mismatch fails with biddingerrors.ErrStaleAuction and nothing is
// written. Successful writes return the record with its new Version.
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctionsByState(ctx context.Context, state model.State) ([]model.Auction, error)
	UpdateAuction(ctx context.Context, auction model.Auction) (model.Auction, error)
	FinalizeAuction(ctx context.Context, auction model.Auction) (model.Auction, error)

	RecordBids(ctx context.Context, bids []model.Bid, auction model.Auction) (model.Auction, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error)

	UpsertAutoBid(ctx context.Context, autoBid model.AutoBid) (model.AutoBid, error)
	GetAutoBid(ctx context.Context, auctionID, userID string) (model.AutoBid, error)
	ListAutoBids(ctx context.Context, auctionID string) ([]model.AutoBid, error)

	AddNotification(ctx context.Context, notification model.Notification) error
	GetNotificationsByUser(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) (model.Notification, error)
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu            sync.RWMutex
	auctions      map[string]model.Auction            // key: auctionID
	skus          map[string]string                   // key: SKU -> auctionID
	bids          map[string][]model.Bid              // key: auctionID -> ledger in acceptance order
	userBids      map[string][]model.Bid              // key: userID -> bids placed by user
	autoBids      map[string]map[string]model.AutoBid // key: auctionID -> userID -> standing bid
	notifications map[string][]model.Notification     // key: userID
}

var _ AuctionDB = (*MemoryRepo)(nil)

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:      make(map[string]model.Auction),
		skus:          make(map[string]string),
		bids:          make(map[string][]model.Bid),
		userBids:      make(map[string][]model.Bid),
		autoBids:      make(map[string]map[string]model.AutoBid),
		notifications: make(map[string][]model.Notification),
	}
}

// CreateAuction stores a new auction; SKUs and ids must be unique
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.AuctionID, biddingerrors.ErrConflict)
	}
	if _, ok := r.skus[auction.SKU]; ok {
		return fmt.Errorf("create auction %s: %w - duplicate sku %q", auction.AuctionID, biddingerrors.ErrConflict, auction.SKU)
	}
	r.auctions[auction.AuctionID] = cloneAuction(auction)
	r.skus[auction.SKU] = auction.AuctionID
	return nil
}

// GetAuction returns a copy of the auction record
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrNotFound)
	}
	return cloneAuction(auction), nil
}

// ListAuctionsByState returns all auctions currently in state
func (r *MemoryRepo) ListAuctionsByState(_ context.Context, state model.State) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Auction
	for _, a := range r.auctions {
		if a.State == state {
			out = append(out, cloneAuction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

// UpdateAuction replaces the auction record after a version check
func (r *MemoryRepo) UpdateAuction(_ context.Context, auction model.Auction) (model.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, err := r.saveLocked(auction)
	if err != nil {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", auction.AuctionID, err)
	}
	return saved, nil
}

// FinalizeAuction saves a terminal auction record and drops its standing bids
func (r *MemoryRepo) FinalizeAuction(_ context.Context, auction model.Auction) (model.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, err := r.saveLocked(auction)
	if err != nil {
		return model.Auction{}, fmt.Errorf("finalize auction %s: %w", auction.AuctionID, err)
	}
	delete(r.autoBids, auction.AuctionID)
	return saved, nil
}

// RecordBids appends bids to the ledger in order and saves the auction
// summary in one step; readers see either none or all of them
func (r *MemoryRepo) RecordBids(_ context.Context, bids []model.Bid, auction model.Auction) (model.Auction, error) {
	if err := checkBatch(bids, auction); err != nil {
		return model.Auction{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	saved, err := r.saveLocked(auction)
	if err != nil {
		return model.Auction{}, fmt.Errorf("record bids for auction %s: %w", auction.AuctionID, err)
	}
	for _, bid := range bids {
		r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
		r.userBids[bid.UserID] = append(r.userBids[bid.UserID], bid)
	}
	return saved, nil
}

func checkBatch(bids []model.Bid, auction model.Auction) error {
	if len(bids) == 0 {
		return fmt.Errorf("record bids for auction %s: %w - no bids", auction.AuctionID, biddingerrors.ErrInvalidInput)
	}
	for _, bid := range bids {
		if bid.AuctionID != auction.AuctionID {
			return fmt.Errorf("record bids for auction %s: %w - bid targets %s", auction.AuctionID, biddingerrors.ErrInvalidInput, bid.AuctionID)
		}
	}
	return nil
}

// GetBidsByAuction returns the ledger of an auction in acceptance order
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNotFound)
	}
	return slices.Clone(r.bids[auctionID]), nil
}

// GetWinningBid returns the highest bid for an auction, earliest first on ties
func (r *MemoryRepo) GetWinningBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(winning.Amount) || (b.Amount.Equal(winning.Amount) && b.CreatedAt.Before(winning.CreatedAt)) {
			winning = b
		}
	}
	return winning, nil
}

// GetBidsByUser returns all bids a user placed, newest first
func (r *MemoryRepo) GetBidsByUser(_ context.Context, userID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := slices.Clone(r.userBids[userID])
	slices.Reverse(bids)
	return bids, nil
}

// UpsertAutoBid creates or replaces the standing bid of (auction, user)
func (r *MemoryRepo) UpsertAutoBid(_ context.Context, autoBid model.AutoBid) (model.AutoBid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[autoBid.AuctionID]; !ok {
		return model.AutoBid{}, fmt.Errorf("upsert auto bid for auction %s: %w", autoBid.AuctionID, biddingerrors.ErrNotFound)
	}
	perUser, ok := r.autoBids[autoBid.AuctionID]
	if !ok {
		perUser = make(map[string]model.AutoBid)
		r.autoBids[autoBid.AuctionID] = perUser
	}
	if existing, ok := perUser[autoBid.UserID]; ok {
		autoBid.AutoBidID = existing.AutoBidID
		autoBid.CreatedAt = existing.CreatedAt
	}
	perUser[autoBid.UserID] = autoBid
	return autoBid, nil
}

// GetAutoBid returns the standing bid of (auction, user)
func (r *MemoryRepo) GetAutoBid(_ context.Context, auctionID, userID string) (model.AutoBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	autoBid, ok := r.autoBids[auctionID][userID]
	if !ok {
		return model.AutoBid{}, fmt.Errorf("get auto bid for auction %s user %s: %w", auctionID, userID, biddingerrors.ErrNotFound)
	}
	return autoBid, nil
}

// ListAutoBids returns standing bids by descending ceiling, oldest update first on ties
func (r *MemoryRepo) ListAutoBids(_ context.Context, auctionID string) ([]model.AutoBid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.AutoBid, 0, len(r.autoBids[auctionID]))
	for _, ab := range r.autoBids[auctionID] {
		out = append(out, ab)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].MaxAmount.Equal(out[j].MaxAmount) {
			return out[i].MaxAmount.GreaterThan(out[j].MaxAmount)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

// AddNotification appends a notification to the user's inbox
func (r *MemoryRepo) AddNotification(_ context.Context, notification model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications[notification.UserID] = append(r.notifications[notification.UserID], notification)
	return nil
}

// GetNotificationsByUser returns a user's notifications, newest first
func (r *MemoryRepo) GetNotificationsByUser(_ context.Context, userID string) ([]model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Clone(r.notifications[userID])
	slices.Reverse(out)
	return out, nil
}

// MarkNotificationRead flags one of the user's notifications as read
func (r *MemoryRepo) MarkNotificationRead(_ context.Context, userID, notificationID string) (model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, n := range r.notifications[userID] {
		if n.NotificationID == notificationID {
			r.notifications[userID][i].Read = true
			return r.notifications[userID][i], nil
		}
	}
	return model.Notification{}, fmt.Errorf("mark notification %s read: %w", notificationID, biddingerrors.ErrNotFound)
}

// saveLocked performs the version-checked write; r.mu must be held.
func (r *MemoryRepo) saveLocked(auction model.Auction) (model.Auction, error) {
	stored, ok := r.auctions[auction.AuctionID]
	if !ok {
		return model.Auction{}, biddingerrors.ErrNotFound
	}
	if stored.Version != auction.Version {
		return model.Auction{}, fmt.Errorf("%w - have version %d, got %d", biddingerrors.ErrStaleAuction, stored.Version, auction.Version)
	}
	auction.Version++
	r.auctions[auction.AuctionID] = cloneAuction(auction)
	return cloneAuction(auction), nil
}

func cloneAuction(a model.Auction) model.Auction {
	a.Images = slices.Clone(a.Images)
	return a
}
