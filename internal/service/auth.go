// Package service provides business logic for the chat backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ai-talk/chat-backend/internal/auth"
	"github.com/ai-talk/chat-backend/internal/model"
	"github.com/ai-talk/chat-backend/internal/store"
	"github.com/ai-talk/chat-backend/pkg/logger"
)

// ErrInvalidCredentials is returned for an unknown username or wrong
// password. The two cases are not distinguished.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrUserDisabled is returned when a deactivated account tries to log in.
var ErrUserDisabled = errors.New("user account is disabled")

// AuthService handles registration and login.
type AuthService struct {
	store     *store.Store
	jwtSecret string
	jwtExpiry time.Duration
	logger    *logger.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(st *store.Store, jwtSecret string, jwtExpiry time.Duration, log *logger.Logger) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
		logger:    log,
	}
}

// Register creates a new account with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, email, hash)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", username))
	return user, nil
}

// Login verifies credentials and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !auth.CheckPassword(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", ErrUserDisabled
	}

	return auth.GenerateToken(user.ID, user.Username, s.jwtSecret, s.jwtExpiry)
}
