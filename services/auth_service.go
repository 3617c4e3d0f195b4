package services

import (
	"context"
	"expense-categories/models"
	"log/slog"
)

// AuthService handles authentication business logic
type AuthService struct {
	verifier     TokenVerifier
	sessionStore SessionStore
	registry     StoreRegistry
}

// NewAuthService creates a new auth service
func NewAuthService(verifier TokenVerifier, sessionStore SessionStore, registry StoreRegistry) *AuthService {
	return &AuthService{
		verifier:     verifier,
		sessionStore: sessionStore,
		registry:     registry,
	}
}

// LoginResponse contains the session and the user's open category store
type LoginResponse struct {
	Session *models.Session
	Store   *CategoryStore
}

// LoginWithIDToken verifies an identity token, creates a session and opens the
// user's category subscription
func (as *AuthService) LoginWithIDToken(ctx context.Context, idToken string) (*LoginResponse, error) {
	user, err := as.verifier.Verify(ctx, idToken)
	if err != nil {
		slog.Warn("ID token rejected", "error", err)
		return nil, ErrInvalidToken
	}
	if user == nil || user.ID == "" {
		return nil, ErrInvalidUserInfo
	}

	sess, err := as.sessionStore.Create(*user)
	if err != nil {
		return nil, err
	}

	store, err := as.registry.Acquire(ctx, user)
	if err != nil {
		as.sessionStore.Delete(sess.ID)
		return nil, err
	}

	return &LoginResponse{
		Session: sess,
		Store:   store,
	}, nil
}

// Logout ends the session. The user's category subscription is released once
// their last session is gone.
func (as *AuthService) Logout(sessionID string) error {
	sess, err := as.sessionStore.Get(sessionID)
	if err != nil {
		return err
	}

	if err := as.sessionStore.Delete(sessionID); err != nil {
		return err
	}

	if sess != nil && !as.sessionStore.HasUser(sess.UserID) {
		as.registry.Release(sess.UserID)
	}
	return nil
}

// GetSessionInfo returns current session information
func (as *AuthService) GetSessionInfo(sessionID string) (*models.Session, error) {
	sess, err := as.sessionStore.Get(sessionID)
	if err != nil || sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// StoreFor returns the category store of the session's user, reopening it when
// the subscription was released while the session stayed valid.
func (as *AuthService) StoreFor(ctx context.Context, sess *models.Session) (*CategoryStore, error) {
	if sess == nil {
		return nil, ErrUnauthorized
	}
	return as.registry.Acquire(ctx, sess.User())
}
