package bid

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/database"
)

type postgresRepo struct{ db *sql.DB }

// NewPostgresRepository stores bids in bids and auctions, with offers as JSONB.
// The partial unique indexes on both tables enforce one open negotiation per
// buyer and listing, and one live auction per listing.
func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const bidColumns = `id, store_id, listing_id, user_id, price, approvers, approved_by, status,
	counter_price, purchase_id, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBid(row scanner) (*Bid, error) {
	b := &Bid{}
	var (
		status  string
		counter decimal.NullDecimal
	)
	err := row.Scan(&b.ID, &b.StoreID, &b.ListingID, &b.UserID, &b.Price,
		pq.Array(&b.Approvers), pq.Array(&b.ApprovedBy), &status,
		&counter, &b.PurchaseID, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	if counter.Valid {
		b.CounterPrice = &counter.Decimal
	}
	return b, nil
}

func counterOf(b *Bid) decimal.NullDecimal {
	if b.CounterPrice == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*b.CounterPrice)
}

func (r *postgresRepo) CreateBid(ctx context.Context, b *Bid) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bids (`+bidColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		b.ID, b.StoreID, b.ListingID, b.UserID, b.Price, pq.Array(b.Approvers), pq.Array(b.ApprovedBy),
		string(b.Status), counterOf(b), b.PurchaseID, b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already bids on listing %s", apperr.ErrAlreadyExists, b.UserID, b.ListingID)
		}
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

func (r *postgresRepo) GetBid(ctx context.Context, id string) (*Bid, error) {
	b, err := scanBid(r.db.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: bid %s", apperr.ErrNotFound, id)
	}
	return b, err
}

func (r *postgresRepo) UpdateBid(ctx context.Context, b *Bid) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bids SET price=$3, approved_by=$4, status=$5, counter_price=$6, purchase_id=$7,
		  updated_at=$8, version=version+1
		WHERE id=$1 AND version=$2`,
		b.ID, b.Version, b.Price, pq.Array(b.ApprovedBy), string(b.Status), counterOf(b), b.PurchaseID, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update bid: %w", err)
	}
	if err := r.swapped(ctx, res, "bids", "bid", b.ID); err != nil {
		return err
	}
	b.Version++
	return nil
}

func (r *postgresRepo) ListBidsByStore(ctx context.Context, storeID string) ([]*Bid, error) {
	return r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE store_id=$1 ORDER BY created_at DESC`, storeID)
}

func (r *postgresRepo) ListBidsByUser(ctx context.Context, userID string) ([]*Bid, error) {
	return r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *postgresRepo) queryBids(ctx context.Context, query string, args ...interface{}) ([]*Bid, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}
	defer rows.Close()
	var out []*Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const auctionColumns = `id, store_id, listing_id, opened_by, starting_price, ends_at, offers, status,
	winner_id, winning_price, purchase_id, version, created_at, updated_at`

func scanAuction(row scanner) (*Auction, error) {
	a := &Auction{}
	var (
		status string
		offers []byte
	)
	err := row.Scan(&a.ID, &a.StoreID, &a.ListingID, &a.OpenedBy, &a.StartingPrice, &a.EndsAt, &offers, &status,
		&a.WinnerID, &a.WinningPrice, &a.PurchaseID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = AuctionStatus(status)
	if err := json.Unmarshal(offers, &a.Offers); err != nil {
		return nil, fmt.Errorf("decode offers of auction %s: %w", a.ID, err)
	}
	return a, nil
}

func offersJSON(a *Auction) ([]byte, error) {
	if a.Offers == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Offers)
}

func (r *postgresRepo) CreateAuction(ctx context.Context, a *Auction) error {
	offers, err := offersJSON(a)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auctions (`+auctionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.StoreID, a.ListingID, a.OpenedBy, a.StartingPrice, a.EndsAt, offers, string(a.Status),
		a.WinnerID, a.WinningPrice, a.PurchaseID, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: listing %s is already auctioned", apperr.ErrAlreadyExists, a.ListingID)
		}
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

func (r *postgresRepo) GetAuction(ctx context.Context, id string) (*Auction, error) {
	a, err := scanAuction(r.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: auction %s", apperr.ErrNotFound, id)
	}
	return a, err
}

func (r *postgresRepo) UpdateAuction(ctx context.Context, a *Auction) error {
	offers, err := offersJSON(a)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE auctions SET offers=$3, status=$4, winner_id=$5, winning_price=$6, purchase_id=$7,
		  updated_at=$8, version=version+1
		WHERE id=$1 AND version=$2`,
		a.ID, a.Version, offers, string(a.Status), a.WinnerID, a.WinningPrice, a.PurchaseID, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update auction: %w", err)
	}
	if err := r.swapped(ctx, res, "auctions", "auction", a.ID); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (r *postgresRepo) ListAuctionsByStore(ctx context.Context, storeID string) ([]*Auction, error) {
	return r.queryAuctions(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE store_id=$1 ORDER BY created_at DESC`, storeID)
}

func (r *postgresRepo) ListDue(ctx context.Context, now time.Time) ([]*Auction, error) {
	return r.queryAuctions(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status='OPEN' AND ends_at <= $1 ORDER BY ends_at`, now)
}

func (r *postgresRepo) queryAuctions(ctx context.Context, query string, args ...interface{}) ([]*Auction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query auctions: %w", err)
	}
	defer rows.Close()
	var out []*Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// swapped tells a lost version race from a missing row when an update matched nothing.
func (r *postgresRepo) swapped(ctx context.Context, res sql.Result, table, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s %s", apperr.ErrNotFound, what, id)
	}
	return fmt.Errorf("%w: %s %s", errStale, what, id)
}
