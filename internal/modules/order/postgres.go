package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/database"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

// CreatePurchase inserts the purchase, its store bags and all lines inside a single transaction.
func (r *postgresRepo) CreatePurchase(ctx context.Context, p *Purchase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchases
		  (id, user_id, subtotal, discount, total, transaction_id, tracking_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		p.ID, p.UserID, p.Subtotal, p.Discount, p.Total, p.TransactionID, p.TrackingID, p.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: purchase %s", apperr.ErrAlreadyExists, p.ID)
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	for _, sp := range p.Stores {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_purchases (purchase_id, store_id, subtotal, discount, total)
			VALUES ($1,$2,$3,$4,$5)`,
			p.ID, sp.StoreID, sp.Subtotal, sp.Discount, sp.Total)
		if err != nil {
			return fmt.Errorf("insert store_purchase: %w", err)
		}
		for _, l := range sp.Lines {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO purchase_lines
				  (purchase_id, store_id, listing_id, name, quantity, unit_price, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				p.ID, sp.StoreID, l.ListingID, l.Name, l.Quantity, l.UnitPrice, l.LineTotal)
			if err != nil {
				return fmt.Errorf("insert purchase_line: %w", err)
			}
		}
	}

	return tx.Commit()
}

const purchaseColumns = `id, user_id, subtotal, discount, total, transaction_id, tracking_id, created_at`

func (r *postgresRepo) GetPurchase(ctx context.Context, id string) (*Purchase, error) {
	p := &Purchase{}
	err := r.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id).
		Scan(&p.ID, &p.UserID, &p.Subtotal, &p.Discount, &p.Total, &p.TransactionID, &p.TrackingID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	p.Stores, err = r.storePurchases(ctx, p.ID)
	return p, err
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string) ([]*Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	var out []*Purchase
	for rows.Next() {
		p := &Purchase{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Subtotal, &p.Discount, &p.Total,
			&p.TransactionID, &p.TrackingID, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range out {
		if p.Stores, err = r.storePurchases(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *postgresRepo) ListByStore(ctx context.Context, storeID string) ([]*Sale, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.user_id, p.created_at, sp.subtotal, sp.discount, sp.total
		FROM store_purchases sp
		JOIN purchases p ON p.id = sp.purchase_id
		WHERE sp.store_id=$1
		ORDER BY p.created_at DESC`, storeID)
	if err != nil {
		return nil, err
	}
	var out []*Sale
	for rows.Next() {
		s := &Sale{StorePurchase: StorePurchase{StoreID: storeID}}
		if err := rows.Scan(&s.PurchaseID, &s.UserID, &s.CreatedAt, &s.Subtotal, &s.Discount, &s.Total); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range out {
		if s.Lines, err = r.lines(ctx, s.PurchaseID, storeID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (r *postgresRepo) storePurchases(ctx context.Context, purchaseID string) ([]StorePurchase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT store_id, subtotal, discount, total
		FROM store_purchases WHERE purchase_id=$1 ORDER BY store_id`, purchaseID)
	if err != nil {
		return nil, err
	}
	var out []StorePurchase
	for rows.Next() {
		var sp StorePurchase
		if err := rows.Scan(&sp.StoreID, &sp.Subtotal, &sp.Discount, &sp.Total); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, sp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Lines, err = r.lines(ctx, purchaseID, out[i].StoreID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *postgresRepo) lines(ctx context.Context, purchaseID, storeID string) ([]Line, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT listing_id, name, quantity, unit_price, line_total
		FROM purchase_lines WHERE purchase_id=$1 AND store_id=$2 ORDER BY listing_id`, purchaseID, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ListingID, &l.Name, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
