// Package auth maps credentials and bearer tokens to verified identities.
// Tokens are opaque random values persisted server-side, so revocation is a
// row delete.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mpreston/matchpoint/internal/store"
)

const tokenTTL = 7 * 24 * time.Hour

var ErrInvalidCredentials = errors.New("invalid credentials")
var ErrValidation = errors.New("validation failed")

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// Store is the persistence surface auth needs.
type Store interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	UserByID(ctx context.Context, id string) (store.User, error)
	UserByIdentifier(ctx context.Context, identifier string) (store.User, error)
	CreateToken(ctx context.Context, token, userID string, expiresAt time.Time) error
	UserForToken(ctx context.Context, token string) (store.User, error)
	DeleteToken(ctx context.Context, token string) error
}

type Service struct {
	store Store
}

func New(s Store) *Service {
	return &Service{store: s}
}

func (s *Service) Register(ctx context.Context, email, username, fullName, password string) (store.User, string, error) {
	if email == "" {
		return store.User{}, "", fmt.Errorf("%w: email is required", ErrValidation)
	}
	if !usernameRe.MatchString(username) {
		return store.User{}, "", fmt.Errorf("%w: username must be 3-20 letters, numbers or underscores", ErrValidation)
	}
	if len(fullName) < 2 || len(fullName) > 50 {
		return store.User{}, "", fmt.Errorf("%w: full name must be 2-50 characters", ErrValidation)
	}
	if len(password) < 6 {
		return store.User{}, "", fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		FullName:     fullName,
		PasswordHash: string(hash),
	})
	if err != nil {
		return store.User{}, "", err
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

func (s *Service) Login(ctx context.Context, identifier, password string) (store.User, string, error) {
	user, err := s.store.UserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, "", ErrInvalidCredentials
		}
		return store.User{}, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteToken(ctx, token)
}

// Identify resolves a bearer token to its user.
func (s *Service) Identify(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.UserForToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) issueToken(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	if err := s.store.CreateToken(ctx, token, userID, time.Now().Add(tokenTTL)); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}
