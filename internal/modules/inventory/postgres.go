package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

type ledgerPostgres struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewPostgresLedger stores listings in the listings table. Stock changes run in
// one transaction that locks the touched rows in id order.
func NewPostgresLedger(db *sql.DB, log logrus.FieldLogger) Ledger {
	return &ledgerPostgres{db: db, log: log}
}

const listingColumns = `id,store_id,product_id,name,category,description,price,quantity,is_active,created_at,updated_at`

func scanListing(row interface{ Scan(...any) error }) (*Listing, error) {
	l := &Listing{}
	err := row.Scan(&l.ID, &l.StoreID, &l.ProductID, &l.Name, &l.Category, &l.Description,
		&l.Price, &l.Quantity, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// ---- Stock ----

func (r *ledgerPostgres) ReserveAndCommit(ctx context.Context, cuts Cuts) error {
	flat, err := cuts.flatten()
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	ids := make([]string, len(flat))
	for i, c := range flat {
		ids[i] = c.listingID
	}
	rows, err := tx.QueryContext(ctx, `
SELECT id,store_id,quantity,is_active FROM listings
WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("lock listings: %w", err)
	}
	type locked struct {
		storeID  string
		quantity int
		active   bool
	}
	current := make(map[string]locked, len(flat))
	for rows.Next() {
		var id string
		var l locked
		if err := rows.Scan(&id, &l.storeID, &l.quantity, &l.active); err != nil {
			rows.Close()
			return err
		}
		current[id] = l
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range flat {
		l, ok := current[c.listingID]
		if !ok || l.storeID != c.storeID {
			return fmt.Errorf("%w: %s in store %s", apperr.ErrListingNotFound, c.listingID, c.storeID)
		}
		if !l.active {
			return fmt.Errorf("%w: listing %s of store %s is inactive", apperr.ErrStoreClosed, c.listingID, c.storeID)
		}
		if l.quantity < c.qty {
			return &apperr.InsufficientStockError{
				StoreID:   c.storeID,
				ListingID: c.listingID,
				Requested: c.qty,
				Available: l.quantity,
			}
		}
	}
	for _, c := range flat {
		if _, err := tx.ExecContext(ctx,
			`UPDATE listings SET quantity=quantity-$1, updated_at=NOW() WHERE id=$2`, c.qty, c.listingID); err != nil {
			return fmt.Errorf("deduct listing %s: %w", c.listingID, err)
		}
	}
	return tx.Commit()
}

func (r *ledgerPostgres) Release(ctx context.Context, cuts Cuts) error {
	flat, err := cuts.flatten()
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range flat {
		res, err := tx.ExecContext(ctx,
			`UPDATE listings SET quantity=quantity+$1, updated_at=NOW() WHERE id=$2`, c.qty, c.listingID)
		if err != nil {
			return fmt.Errorf("release listing %s: %w", c.listingID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			r.log.WithField("listing_id", c.listingID).Warn("release skipped for missing listing")
		}
	}
	return tx.Commit()
}

func (r *ledgerPostgres) Restock(ctx context.Context, listingID string, delta int) error {
	if delta <= 0 {
		return apperr.Invalid("restock delta must be > 0, got %d", delta)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE listings SET quantity=quantity+$1, updated_at=NOW() WHERE id=$2`, delta, listingID)
	return affected(res, err, listingID)
}

// ---- Listings ----

func (r *ledgerPostgres) CreateListing(ctx context.Context, l *Listing) error {
	err := r.db.QueryRowContext(ctx, `
INSERT INTO listings (id,store_id,product_id,name,category,description,price,quantity,is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING created_at,updated_at`,
		l.ID, l.StoreID, l.ProductID, l.Name, l.Category, l.Description,
		l.Price, l.Quantity, l.IsActive).Scan(&l.CreatedAt, &l.UpdatedAt)
	return err
}

func (r *ledgerPostgres) GetListing(ctx context.Context, id string) (*Listing, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, listingNotFound(id)
	}
	return l, err
}

func (r *ledgerPostgres) ListByStore(ctx context.Context, storeID string) ([]*Listing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE store_id=$1 ORDER BY created_at, id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var listings []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (r *ledgerPostgres) UpdateDetails(ctx context.Context, l *Listing) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE listings SET name=$1, category=$2, description=$3, price=$4, updated_at=NOW() WHERE id=$5`,
		l.Name, l.Category, l.Description, l.Price, l.ID)
	return affected(res, err, l.ID)
}

func (r *ledgerPostgres) SetQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return apperr.Invalid("quantity must be >= 0, got %d", qty)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE listings SET quantity=$1, updated_at=NOW() WHERE id=$2`, qty, id)
	return affected(res, err, id)
}

func (r *ledgerPostgres) SetStoreActive(ctx context.Context, storeID string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE listings SET is_active=$1, updated_at=NOW() WHERE store_id=$2`, active, storeID)
	return err
}

func (r *ledgerPostgres) DeleteListing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id=$1`, id)
	return affected(res, err, id)
}

func affected(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return listingNotFound(id)
	}
	return nil
}
