package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgemunganga/marketplace/internal/apperr"
)

type policyPostgres struct{ db *sql.DB }

// NewPostgresRepository stores each Document as a jsonb row of store_policies.
func NewPostgresRepository(db *sql.DB) Repository { return &policyPostgres{db: db} }

func (r *policyPostgres) SaveDocument(ctx context.Context, storeID string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode policies: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO store_policies (store_id,document) VALUES ($1,$2)
ON CONFLICT (store_id) DO UPDATE SET document=EXCLUDED.document, updated_at=NOW()`,
		storeID, raw)
	return err
}

func (r *policyPostgres) LoadDocument(ctx context.Context, storeID string) (Document, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM store_policies WHERE store_id=$1`, storeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: policies of store %s", apperr.ErrNotFound, storeID)
	}
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode policies of store %s: %w", storeID, err)
	}
	return doc, nil
}

func (r *policyPostgres) DeleteDocument(ctx context.Context, storeID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM store_policies WHERE store_id=$1`, storeID)
	return err
}
