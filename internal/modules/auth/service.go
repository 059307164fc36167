package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/georgemunganga/marketplace/internal/apperr"
	"github.com/georgemunganga/marketplace/internal/modules/user"
)

// ErrInvalidCredentials covers both unknown emails and wrong passwords.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Session is what a successful login returns.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service defines the interface for authentication-related business logic.
type Service interface {
	Login(ctx context.Context, email, password string) (*Session, error)
}

type service struct {
	userRepo user.Repository
	tokens   *Tokens
	log      logrus.FieldLogger
}

// NewService creates a new auth service.
func NewService(userRepo user.Repository, tokens *Tokens, log logrus.FieldLogger) Service {
	return &service{userRepo: userRepo, tokens: tokens, log: log}
}

func (s *service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.userRepo.GetUserByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.log.WithField("user_id", u.ID.String()).Warn("login with wrong password")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(u.ID.String())
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, UserID: u.ID.String(), ExpiresAt: expiresAt}, nil
}
