package roles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type rolesPostgres struct{ db *sql.DB }

// NewPostgresRepository stores each forest as rows of store_roles.
func NewPostgresRepository(db *sql.DB) Repository { return &rolesPostgres{db: db} }

// SaveAssignments replaces the store's rows in one transaction.
func (r *rolesPostgres) SaveAssignments(ctx context.Context, storeID string, rows []Assignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM store_roles WHERE store_id=$1`, storeID); err != nil {
		return fmt.Errorf("clear store_roles: %w", err)
	}
	for i, a := range rows {
		perms := make([]string, len(a.Permissions))
		for j, p := range a.Permissions {
			perms[j] = string(p)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO store_roles (store_id,user_id,role,appointed_by,permissions,position)
VALUES ($1,$2,$3,$4,$5,$6)`,
			storeID, a.UserID, string(a.Role), nullString(a.AppointedBy), pq.Array(perms), i)
		if err != nil {
			return fmt.Errorf("insert role of %s: %w", a.UserID, err)
		}
	}
	return tx.Commit()
}

func (r *rolesPostgres) DeleteAssignments(ctx context.Context, storeID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM store_roles WHERE store_id=$1`, storeID)
	return err
}

func (r *rolesPostgres) LoadAssignments(ctx context.Context, storeID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id,role,appointed_by,permissions
FROM store_roles WHERE store_id=$1 ORDER BY position`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var (
			a           Assignment
			role        string
			appointedBy sql.NullString
			perms       []string
		)
		if err := rows.Scan(&a.UserID, &role, &appointedBy, pq.Array(&perms)); err != nil {
			return nil, err
		}
		a.Role = Role(role)
		a.AppointedBy = appointedBy.String
		for _, p := range perms {
			a.Permissions = append(a.Permissions, Permission(p))
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
