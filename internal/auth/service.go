package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/internal/core"
	"vigil/internal/storage"
)

// Authentication token lifetime
const tokenTTL = 24 * time.Hour

// Service provides authentication and authorization for Vigil
type Service struct {
	store  Store
	logger *core.Logger
}

// NewService creates a new auth service
func NewService(store Store, logger *core.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Register creates a new user with the given credentials
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	user := &User{
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := user.Password.Set(password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.store.InsertUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("Created user", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Authenticate validates a username and password pair
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrInvalidCredentials
		default:
			return nil, err
		}
	}

	if !user.Password.Matches(password) {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// CreateAuthenticationToken creates a new authentication token for a user,
// invalidating any existing ones
func (s *Service) CreateAuthenticationToken(ctx context.Context, user *User) (*Token, error) {
	if err := s.store.DeleteTokensForUser(ctx, ScopeAuthentication, user.ID); err != nil {
		return nil, fmt.Errorf("failed to delete existing tokens: %w", err)
	}

	token, err := generateToken(user.ID, tokenTTL, ScopeAuthentication)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.store.InsertToken(ctx, token); err != nil {
		return nil, err
	}

	s.logger.Info("Created authentication token", "user_id", user.ID)
	return token, nil
}

// ValidateToken returns the user for a token plaintext
func (s *Service) ValidateToken(ctx context.Context, tokenPlaintext string) (*User, error) {
	user, err := s.store.GetUserForToken(ctx, ScopeAuthentication, tokenPlaintext)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrInvalidToken
		default:
			return nil, err
		}
	}
	return user, nil
}

// GetUserByUsername looks a user up by username
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.GetUserByUsername(ctx, username)
}

// Grant gives a user a permission on a website
func (s *Service) Grant(ctx context.Context, userID, websiteID int, permission Permission) error {
	if !permission.Valid() {
		return fmt.Errorf("unknown permission %q", permission)
	}

	if err := s.store.Grant(ctx, userID, websiteID, permission); err != nil {
		return err
	}

	s.logger.Info("Granted permission", "user_id", userID, "website_id", websiteID, "permission", permission)
	return nil
}

// Revoke removes a permission grant
func (s *Service) Revoke(ctx context.Context, userID, websiteID int, permission Permission) error {
	if !permission.Valid() {
		return fmt.Errorf("unknown permission %q", permission)
	}

	if err := s.store.Revoke(ctx, userID, websiteID, permission); err != nil {
		return err
	}

	s.logger.Info("Revoked permission", "user_id", userID, "website_id", websiteID, "permission", permission)
	return nil
}

// Allows reports whether the user holds the permission on the website.
// A store error always denies; it never falls through to an allow.
func (s *Service) Allows(ctx context.Context, userID, websiteID int, permission Permission) (bool, error) {
	if !permission.Valid() {
		return false, fmt.Errorf("unknown permission %q", permission)
	}
	return s.store.Allows(ctx, userID, websiteID, permission)
}

// Bootstrap creates the initial admin user when credentials are configured
// and the user does not already exist
func (s *Service) Bootstrap(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}

	_, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	user, err := s.Register(ctx, username, password)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin user: %w", err)
	}

	s.logger.Info("Bootstrapped admin user", "user_id", user.ID, "username", username)
	return nil
}

// Common auth errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)
