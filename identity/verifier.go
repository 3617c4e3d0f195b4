package identity

import (
	"context"
	"errors"
	"expense-categories/models"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

var ErrEmptyToken = errors.New("empty token")

// Verifier turns an identity token into the authenticated user.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.User, error)
}

// tokenVerifier is the subset of *auth.Client used for ID token checks.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier verifies Firebase Authentication ID tokens.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebaseVerifier uses the Auth client of an initialized Firebase app.
func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting auth client: %w", err)
	}

	slog.Info("Firebase Authentication ready")
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}

	verified, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	email, _ := verified.Claims["email"].(string)
	name, _ := verified.Claims["name"].(string)

	return &models.User{
		ID:    verified.UID,
		Email: email,
		Name:  name,
	}, nil
}

// DevVerifier accepts the raw user id as token. Only for local development.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrEmptyToken
	}
	return &models.User{ID: token, Name: token}, nil
}
