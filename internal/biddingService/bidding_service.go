package bidding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/locker"
	"jewel-auction/internal/models"
	"jewel-auction/internal/repository"
	"jewel-auction/utils"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Publisher delivers events to a topic without waiting for subscribers.
type Publisher interface {
	Publish(topic string, evt models.Event) error
}

// DiscardPublisher drops every event. It is the default when no publisher is
// configured.
type DiscardPublisher struct{}

func (DiscardPublisher) Publish(string, models.Event) error { return nil }

// DefaultLockTimeout bounds the wait for an auction's critical section.
const DefaultLockTimeout = 5 * time.Second

// BiddingService accepts manual and standing bids, resolves standing bids and
// serves the read views over auctions and their bid ledgers.
//
// All work that changes one auction runs inside that auction's critical
// section, shared with the lifecycle scheduler through the same Locker.
type BiddingService struct {
	repo        repository.AuctionDB
	events      Publisher
	locks       locker.Locker
	clock       Clock
	lockTimeout time.Duration
	validate    *validator.Validate
}

// Option configures a BiddingService.
type Option func(*BiddingService)

func WithPublisher(p Publisher) Option {
	return func(s *BiddingService) { s.events = p }
}

func WithLocker(l locker.Locker) Option {
	return func(s *BiddingService) { s.locks = l }
}

func WithClock(c Clock) Option {
	return func(s *BiddingService) { s.clock = c }
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *BiddingService) { s.lockTimeout = d }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:        repo,
		events:      DiscardPublisher{},
		locks:       locker.New(),
		clock:       SystemClock{},
		lockTimeout: DefaultLockTimeout,
		validate:    validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAuctionInput is the seller-supplied part of a new listing.
type CreateAuctionInput struct {
	SKU          string          `json:"sku" validate:"required,max=64"`
	Title        string          `json:"title" validate:"required,max=200"`
	Description  string          `json:"description" validate:"max=4000"`
	CategoryID   string          `json:"category_id"`
	CaratWeight  decimal.Decimal `json:"carat_weight"`
	Images       []string        `json:"images" validate:"max=20,dive,required"`
	StartingBid  decimal.Decimal `json:"starting_bid"`
	BidIncrement decimal.Decimal `json:"bid_increment"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	StartTime    time.Time       `json:"start_time" validate:"required"`
	EndTime      time.Time       `json:"end_time" validate:"required,gtfield=StartTime"`
}

// CreateAuction lists a new auction for caller. It starts pending and
// unapproved until an admin accepts it.
func (s *BiddingService) CreateAuction(ctx context.Context, caller models.User, in CreateAuctionInput) (models.Auction, error) {
	if caller.Role != models.RoleSeller && caller.Role != models.RoleAdmin {
		return models.Auction{}, fmt.Errorf("service: %w - role %q cannot list auctions", biddingerrors.ErrForbidden, caller.Role)
	}
	in.SKU = strings.TrimSpace(in.SKU)
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return models.Auction{}, fmt.Errorf("service: %w - %v", biddingerrors.ErrInvalidInput, err)
	}
	switch {
	case !in.StartingBid.IsPositive():
		return models.Auction{}, fmt.Errorf("service: %w - starting bid must be positive", biddingerrors.ErrInvalidInput)
	case !in.BidIncrement.IsPositive():
		return models.Auction{}, fmt.Errorf("service: %w - bid increment must be positive", biddingerrors.ErrInvalidInput)
	case in.ReservePrice.IsNegative():
		return models.Auction{}, fmt.Errorf("service: %w - reserve price must not be negative", biddingerrors.ErrInvalidInput)
	case in.CaratWeight.IsNegative():
		return models.Auction{}, fmt.Errorf("service: %w - carat weight must not be negative", biddingerrors.ErrInvalidInput)
	}

	auction := models.Auction{
		AuctionID:    utils.GenerateID(),
		SKU:          in.SKU,
		Title:        in.Title,
		Description:  in.Description,
		CategoryID:   in.CategoryID,
		CaratWeight:  in.CaratWeight,
		Images:       in.Images,
		StartingBid:  in.StartingBid,
		BidIncrement: in.BidIncrement,
		ReservePrice: in.ReservePrice,
		State:        models.StatePending,
		StartTime:    in.StartTime.UTC(),
		EndTime:      in.EndTime.UTC(),
		SellerID:     caller.UserID,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction %s: %w", in.SKU, err)
	}
	return auction, nil
}

// GetAuction returns the current summary of an auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidInput)
	}
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// GetBidsForAuction returns the ledger of an auction, newest first
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidInput)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return lo.Reverse(bids), nil
}

// GetWinningBid returns the highest bid for an auction
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidInput)
	}

	winningBid, err := s.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}
	return winningBid, nil
}

// GetBidsByUser returns every bid a user placed, newest first
func (s *BiddingService) GetBidsByUser(ctx context.Context, userID string) ([]models.Bid, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidInput)
	}

	bids, err := s.repo.GetBidsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for user %s: %w", userID, err)
	}
	return bids, nil
}

// GetStandingBid returns the caller's standing bid on an auction
func (s *BiddingService) GetStandingBid(ctx context.Context, auctionID, userID string) (models.AutoBid, error) {
	if auctionID == "" || userID == "" {
		return models.AutoBid{}, fmt.Errorf("service: %w - missing auctionID or userID", biddingerrors.ErrInvalidInput)
	}
	ab, err := s.repo.GetAutoBid(ctx, auctionID, userID)
	if err != nil {
		return models.AutoBid{}, fmt.Errorf("service: failed to get standing bid: %w", err)
	}
	return ab, nil
}

// GetResult ranks the bidders of an auction. viewerID may be empty.
func (s *BiddingService) GetResult(ctx context.Context, auctionID, viewerID string) (AuctionResult, error) {
	a, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return AuctionResult{}, err
	}
	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if err != nil {
		return AuctionResult{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return BuildResult(a, bids, viewerID), nil
}

// GetNotifications returns the user's notifications, newest first
func (s *BiddingService) GetNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidInput)
	}
	list, err := s.repo.GetNotificationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get notifications for user %s: %w", userID, err)
	}
	return list, nil
}

// MarkNotificationRead flags one of the user's notifications as read
func (s *BiddingService) MarkNotificationRead(ctx context.Context, userID, notificationID string) (models.Notification, error) {
	if userID == "" || notificationID == "" {
		return models.Notification{}, fmt.Errorf("service: %w - missing userID or notificationID", biddingerrors.ErrInvalidInput)
	}
	n, err := s.repo.MarkNotificationRead(ctx, userID, notificationID)
	if err != nil {
		return models.Notification{}, fmt.Errorf("service: failed to mark notification %s: %w", notificationID, err)
	}
	return n, nil
}

// hasStandingBid reports whether userID holds a standing bid on auctionID.
func (s *BiddingService) hasStandingBid(ctx context.Context, auctionID, userID string) (bool, error) {
	_, err := s.repo.GetAutoBid(ctx, auctionID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, biddingerrors.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
