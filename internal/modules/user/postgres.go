package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/database"
)

type postgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL user repository.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query, user.ID, normalizeEmail(user.Email), user.PasswordHash,
		user.FirstName, user.LastName, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: email %s", apperr.ErrAlreadyExists, user.Email)
	}
	return err
}

const userColumns = `id, email, password_hash, first_name, last_name, is_active, created_at, updated_at`

func (r *postgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scan(r.db.QueryRowContext(ctx, query, normalizeEmail(email)), email)
}

func (r *postgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, id)
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scan(r.db.QueryRowContext(ctx, query, parsedID), id)
}

func (r *postgresRepository) scan(row *sql.Row, key string) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", apperr.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
