package services

import (
	"context"
	"expense-categories/models"
	"time"
)

// Clock returns the current time. Tests replace it to pin expense dates.
type Clock func() time.Time

// IDGenerator produces client-side expense ids.
type IDGenerator func() string

// Listener receives every snapshot applied to a CategoryStore.
type Listener func(categories []models.Category)

// TokenVerifier turns an identity provider token into the authenticated user
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// SessionChecker reports whether a user still has a live session.
type SessionChecker interface {
	HasUser(userID string) bool
}

// SessionStore defines the interface for session management
type SessionStore interface {
	SessionChecker
	Create(user models.User) (*models.Session, error)
	Get(sessionID string) (*models.Session, error)
	Delete(sessionID string) error
}

// StoreRegistry hands out the per-user category stores
type StoreRegistry interface {
	Acquire(ctx context.Context, user *models.User) (*CategoryStore, error)
	Release(userID string)
}
