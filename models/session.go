package models

import "time"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// User returns the authenticated user the session belongs to.
func (s *Session) User() *User {
	if s == nil {
		return nil
	}
	return &User{ID: s.UserID, Email: s.Email, Name: s.Name}
}

// LoginRequest carries a Firebase ID token. In development the token may be a
// plain user id.
type LoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}
