package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/logging"
)

func newTestService(repo Repository) Service {
	s := NewService(repo, logging.Discard()).(*service)
	s.cost = bcrypt.MinCost
	return s
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := newTestService(repo)

	u, err := svc.RegisterUser(ctx, RegisterRequest{Email: " Ada@Example.com ", Password: "correct horse", FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("correct horse")))

	got, err := svc.GetUser(ctx, u.ID.String())
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)

	_, err = svc.RegisterUser(ctx, RegisterRequest{Email: "ADA@example.com", Password: "another one"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestRegisterUserValidation(t *testing.T) {
	svc := newTestService(NewMemoryRepository())
	tests := map[string]RegisterRequest{
		"bad email":      {Email: "not-an-email", Password: "long enough"},
		"short password": {Email: "a@b.c", Password: "short"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RegisterUser(context.Background(), req)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestGetUserNotFound(t *testing.T) {
	_, err := newTestService(NewMemoryRepository()).GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
