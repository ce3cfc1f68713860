package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"jewel-auction/internal/biddingerrors"
	model "jewel-auction/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Schema is applied by Migrate; every statement is idempotent.
const Schema = `
create table if not exists auctions (
	auction_id     text primary key,
	sku            text not null unique,
	title          text not null,
	description    text not null default '',
	category_id    text not null default '',
	carat_weight   numeric not null default 0,
	images         text not null default '[]',
	starting_bid   numeric not null,
	bid_increment  numeric not null,
	reserve_price  numeric not null default 0,
	current_bid    numeric not null default 0,
	bid_count      integer not null default 0,
	reserve_met    boolean not null default false,
	high_bidder_id text not null default '',
	state          text not null,
	start_time     timestamptz not null,
	end_time       timestamptz not null,
	seller_id      text not null,
	winner_id      text not null default '',
	approved       boolean not null default false,
	version        bigint not null default 0,
	created_at     timestamptz not null
);
create index if not exists auctions_state_end_idx on auctions(state, end_time);

create table if not exists bids (
	seq        bigserial primary key,
	bid_id     text not null unique,
	auction_id text not null references auctions(auction_id),
	user_id    text not null,
	amount     numeric not null,
	is_auto    boolean not null default false,
	created_at timestamptz not null
);
create index if not exists bids_auction_idx on bids(auction_id, seq);
create index if not exists bids_user_idx on bids(user_id, seq);

create table if not exists auto_bids (
	auto_bid_id text not null unique,
	auction_id  text not null references auctions(auction_id),
	user_id     text not null,
	max_amount  numeric not null,
	created_at  timestamptz not null,
	updated_at  timestamptz not null,
	primary key (auction_id, user_id)
);

create table if not exists notifications (
	seq             bigserial primary key,
	notification_id text not null unique,
	user_id         text not null,
	auction_id      text not null,
	type            text not null,
	message         text not null,
	read            boolean not null default false,
	created_at      timestamptz not null
);
create index if not exists notifications_user_idx on notifications(user_id, seq);
`

const auctionColumns = `auction_id, sku, title, description, category_id, carat_weight, images,
	starting_bid, bid_increment, reserve_price, current_bid, bid_count, reserve_met, high_bidder_id,
	state, start_time, end_time, seller_id, winner_id, approved, version, created_at`

// PostgresRepo is the durable AuctionDB backed by database/sql and the pgx driver.
type PostgresRepo struct {
	db *sql.DB
}

var _ AuctionDB = (*PostgresRepo)(nil)

// OpenPostgres opens a pooled connection to dsn.
func OpenPostgres(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPostgresRepo(db), nil
}

// NewPostgresRepo wraps an existing handle.
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

// Migrate creates the tables when they are missing.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	images, err := json.Marshal(a.Images)
	if err != nil {
		return fmt.Errorf("create auction %s: encode images: %w", a.AuctionID, err)
	}
	_, err = r.db.ExecContext(ctx, `insert into auctions(`+auctionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		a.AuctionID, a.SKU, a.Title, a.Description, a.CategoryID, a.CaratWeight, string(images),
		a.StartingBid, a.BidIncrement, a.ReservePrice, a.CurrentBid, a.BidCount, a.ReserveMet, a.HighBidderID,
		string(a.State), a.StartTime, a.EndTime, a.SellerID, a.WinnerID, a.Approved, a.Version, a.CreatedAt)
	if isPgCode(err, pgUniqueViolation) {
		return fmt.Errorf("create auction %s: %w - duplicate id or sku %q", a.AuctionID, biddingerrors.ErrConflict, a.SKU)
	}
	if err != nil {
		return fmt.Errorf("create auction %s: %w", a.AuctionID, err)
	}
	return nil
}

func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.db.QueryRowContext(ctx, `select `+auctionColumns+` from auctions where auction_id=$1`, auctionID)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

func (r *PostgresRepo) ListAuctionsByState(ctx context.Context, state model.State) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx, `select `+auctionColumns+` from auctions where state=$1 order by end_time`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list auctions in %s: %w", state, err)
	}
	defer rows.Close()

	var out []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("list auctions in %s: %w", state, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateAuction(ctx context.Context, a model.Auction) (model.Auction, error) {
	var saved model.Auction
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		saved, err = saveAuction(ctx, tx, a)
		return err
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("update auction %s: %w", a.AuctionID, err)
	}
	return saved, nil
}

func (r *PostgresRepo) FinalizeAuction(ctx context.Context, a model.Auction) (model.Auction, error) {
	var saved model.Auction
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if saved, err = saveAuction(ctx, tx, a); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from auto_bids where auction_id=$1`, a.AuctionID)
		return err
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("finalize auction %s: %w", a.AuctionID, err)
	}
	return saved, nil
}

// RecordBids saves the auction summary and appends bids in one transaction.
func (r *PostgresRepo) RecordBids(ctx context.Context, bids []model.Bid, a model.Auction) (model.Auction, error) {
	if err := checkBatch(bids, a); err != nil {
		return model.Auction{}, err
	}
	var saved model.Auction
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if saved, err = saveAuction(ctx, tx, a); err != nil {
			return err
		}
		for _, bid := range bids {
			if _, err := tx.ExecContext(ctx, `insert into bids(bid_id, auction_id, user_id, amount, is_auto, created_at)
				values ($1,$2,$3,$4,$5,$6)`, bid.BidID, bid.AuctionID, bid.UserID, bid.Amount, bid.IsAuto, bid.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("record bids for auction %s: %w", a.AuctionID, err)
	}
	return saved, nil
}

func (r *PostgresRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if err := r.auctionExists(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	return r.queryBids(ctx, `select bid_id, auction_id, user_id, amount, is_auto, created_at
		from bids where auction_id=$1 order by seq`, auctionID)
}

func (r *PostgresRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	var b model.Bid
	err := r.db.QueryRowContext(ctx, `select bid_id, auction_id, user_id, amount, is_auto, created_at
		from bids where auction_id=$1 order by amount desc, created_at, seq limit 1`, auctionID).
		Scan(&b.BidID, &b.AuctionID, &b.UserID, &b.Amount, &b.IsAuto, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, err)
	}
	return b, nil
}

func (r *PostgresRepo) GetBidsByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	return r.queryBids(ctx, `select bid_id, auction_id, user_id, amount, is_auto, created_at
		from bids where user_id=$1 order by seq desc`, userID)
}

func (r *PostgresRepo) UpsertAutoBid(ctx context.Context, ab model.AutoBid) (model.AutoBid, error) {
	err := r.db.QueryRowContext(ctx, `
		insert into auto_bids(auto_bid_id, auction_id, user_id, max_amount, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (auction_id, user_id) do update
		set max_amount = excluded.max_amount, updated_at = excluded.updated_at
		returning auto_bid_id, created_at
	`, ab.AutoBidID, ab.AuctionID, ab.UserID, ab.MaxAmount, ab.CreatedAt, ab.UpdatedAt).Scan(&ab.AutoBidID, &ab.CreatedAt)
	if isPgCode(err, pgForeignKeyViolation) {
		return model.AutoBid{}, fmt.Errorf("upsert auto bid for auction %s: %w", ab.AuctionID, biddingerrors.ErrNotFound)
	}
	if err != nil {
		return model.AutoBid{}, fmt.Errorf("upsert auto bid for auction %s: %w", ab.AuctionID, err)
	}
	return ab, nil
}

func (r *PostgresRepo) GetAutoBid(ctx context.Context, auctionID, userID string) (model.AutoBid, error) {
	var ab model.AutoBid
	err := r.db.QueryRowContext(ctx, `select auto_bid_id, auction_id, user_id, max_amount, created_at, updated_at
		from auto_bids where auction_id=$1 and user_id=$2`, auctionID, userID).
		Scan(&ab.AutoBidID, &ab.AuctionID, &ab.UserID, &ab.MaxAmount, &ab.CreatedAt, &ab.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AutoBid{}, fmt.Errorf("get auto bid for auction %s user %s: %w", auctionID, userID, biddingerrors.ErrNotFound)
	}
	if err != nil {
		return model.AutoBid{}, fmt.Errorf("get auto bid for auction %s user %s: %w", auctionID, userID, err)
	}
	return ab, nil
}

func (r *PostgresRepo) ListAutoBids(ctx context.Context, auctionID string) ([]model.AutoBid, error) {
	rows, err := r.db.QueryContext(ctx, `select auto_bid_id, auction_id, user_id, max_amount, created_at, updated_at
		from auto_bids where auction_id=$1 order by max_amount desc, updated_at`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list auto bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []model.AutoBid
	for rows.Next() {
		var ab model.AutoBid
		if err := rows.Scan(&ab.AutoBidID, &ab.AuctionID, &ab.UserID, &ab.MaxAmount, &ab.CreatedAt, &ab.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list auto bids for auction %s: %w", auctionID, err)
		}
		out = append(out, ab)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) AddNotification(ctx context.Context, n model.Notification) error {
	_, err := r.db.ExecContext(ctx, `insert into notifications(notification_id, user_id, auction_id, type, message, read, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)`, n.NotificationID, n.UserID, n.AuctionID, string(n.Type), n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("add notification for user %s: %w", n.UserID, err)
	}
	return nil
}

func (r *PostgresRepo) GetNotificationsByUser(ctx context.Context, userID string) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `select notification_id, user_id, auction_id, type, message, read, created_at
		from notifications where user_id=$1 order by seq desc`, userID)
	if err != nil {
		return nil, fmt.Errorf("get notifications for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("get notifications for user %s: %w", userID, err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) MarkNotificationRead(ctx context.Context, userID, notificationID string) (model.Notification, error) {
	row := r.db.QueryRowContext(ctx, `update notifications set read=true
		where notification_id=$1 and user_id=$2
		returning notification_id, user_id, auction_id, type, message, read, created_at`, notificationID, userID)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, fmt.Errorf("mark notification %s read: %w", notificationID, biddingerrors.ErrNotFound)
	}
	if err != nil {
		return model.Notification{}, fmt.Errorf("mark notification %s read: %w", notificationID, err)
	}
	return n, nil
}

func (r *PostgresRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRepo) auctionExists(ctx context.Context, auctionID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `select 1 from auctions where auction_id=$1`, auctionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return biddingerrors.ErrNotFound
	}
	return err
}

func (r *PostgresRepo) queryBids(ctx context.Context, query string, arg string) ([]model.Bid, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.BidID, &b.AuctionID, &b.UserID, &b.Amount, &b.IsAuto, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// saveAuction is the compare-and-set write: it only lands when the stored
// version still equals a.Version.
func saveAuction(ctx context.Context, tx *sql.Tx, a model.Auction) (model.Auction, error) {
	res, err := tx.ExecContext(ctx, `update auctions set
		title=$3, description=$4, category_id=$5, current_bid=$6, bid_count=$7, reserve_met=$8,
		high_bidder_id=$9, state=$10, start_time=$11, end_time=$12, winner_id=$13, approved=$14,
		version=version+1
		where auction_id=$1 and version=$2`,
		a.AuctionID, a.Version, a.Title, a.Description, a.CategoryID, a.CurrentBid, a.BidCount, a.ReserveMet,
		a.HighBidderID, string(a.State), a.StartTime, a.EndTime, a.WinnerID, a.Approved)
	if err != nil {
		return model.Auction{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Auction{}, err
	}
	if n == 0 {
		var stored int64
		err := tx.QueryRowContext(ctx, `select version from auctions where auction_id=$1`, a.AuctionID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Auction{}, biddingerrors.ErrNotFound
		}
		if err != nil {
			return model.Auction{}, err
		}
		return model.Auction{}, fmt.Errorf("%w - have version %d, got %d", biddingerrors.ErrStaleAuction, stored, a.Version)
	}
	a.Version++
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a      model.Auction
		images string
		state  string
	)
	err := row.Scan(&a.AuctionID, &a.SKU, &a.Title, &a.Description, &a.CategoryID, &a.CaratWeight, &images,
		&a.StartingBid, &a.BidIncrement, &a.ReservePrice, &a.CurrentBid, &a.BidCount, &a.ReserveMet, &a.HighBidderID,
		&state, &a.StartTime, &a.EndTime, &a.SellerID, &a.WinnerID, &a.Approved, &a.Version, &a.CreatedAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.State = model.State(state)
	if images != "" {
		if err := json.Unmarshal([]byte(images), &a.Images); err != nil {
			return model.Auction{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return a, nil
}

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n   model.Notification
		typ string
	)
	if err := row.Scan(&n.NotificationID, &n.UserID, &n.AuctionID, &typ, &n.Message, &n.Read, &n.CreatedAt); err != nil {
		return model.Notification{}, err
	}
	n.Type = model.NotificationType(typ)
	return n, nil
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
