package notification

import (
	"context"
	"database/sql"
	"fmt"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Enqueue(ctx context.Context, n *Notification) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, created_at) VALUES ($1,$2,$3,$4)`,
		n.ID, n.UserID, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *postgresRepo) Pending(ctx context.Context, userID string) ([]*Notification, error) {
	return r.query(ctx, `
		SELECT id, user_id, message, created_at
		FROM notifications WHERE user_id=$1 ORDER BY created_at ASC`, userID)
}

// Take deletes and returns in one statement, so two sessions of the same user
// never receive the same queued message.
func (r *postgresRepo) Take(ctx context.Context, userID string) ([]*Notification, error) {
	out, err := r.query(ctx, `
		DELETE FROM notifications WHERE user_id=$1
		RETURNING id, user_id, message, created_at`, userID)
	if err != nil {
		return nil, err
	}
	oldestFirst(out)
	return out, nil
}

func (r *postgresRepo) query(ctx context.Context, query string, args ...interface{}) ([]*Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
