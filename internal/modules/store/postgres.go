package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/database"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const storeColumns = `id, name, description, founder_id, is_active, created_at, updated_at`

func (r *postgresRepo) CreateStore(ctx context.Context, s *Store) error {
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stores (`+storeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.Name, s.Description, s.FounderID, s.IsActive, s.CreatedAt, s.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: store named %q", apperr.ErrAlreadyExists, s.Name)
	}
	if err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

func (r *postgresRepo) GetStore(ctx context.Context, id string) (*Store, error) {
	s, err := scanStore(r.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store %s", apperr.ErrNotFound, id)
	}
	return s, err
}

func (r *postgresRepo) GetStoreByName(ctx context.Context, name string) (*Store, error) {
	s, err := scanStore(r.db.QueryRowContext(ctx,
		`SELECT `+storeColumns+` FROM stores WHERE lower(name)=lower($1)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store named %q", apperr.ErrNotFound, name)
	}
	return s, err
}

func (r *postgresRepo) ListStores(ctx context.Context) ([]*Store, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stores SET is_active=$1, updated_at=$2 WHERE id=$3`, active, time.Now(), id)
	return affected(res, err, id)
}

func (r *postgresRepo) DeleteStore(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM stores WHERE id=$1`, id)
	return affected(res, err, id)
}

// ── helpers ──────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStore(row scanner) (*Store, error) {
	s := &Store{}
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.FounderID, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func affected(res sql.Result, err error, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: store %s", apperr.ErrNotFound, id)
	}
	return nil
}
