package setup

import (
	"errors"
	"expense-categories/config"
	"expense-categories/services"
	"expense-categories/storage"
	"expense-categories/validator"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomErrorHandler(t *testing.T) {
	validationErr := validator.New().Validate(&struct {
		Name string `json:"name" validate:"required"`
	}{})
	require.Error(t, validationErr)

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{name: "Fiber error", err: fiber.ErrMethodNotAllowed, expectedStatus: http.StatusMethodNotAllowed, expectedError: "Method Not Allowed"},
		{name: "Validation", err: validationErr, expectedStatus: http.StatusBadRequest, expectedError: "Validation failed"},
		{name: "Missing category", err: fmt.Errorf("failed to update category c1: %w", storage.ErrNotFound), expectedStatus: http.StatusNotFound, expectedError: "Category not found"},
		{name: "Conflict", err: storage.ErrConflict, expectedStatus: http.StatusConflict, expectedError: "Category changed concurrently, retry"},
		{name: "Unauthorized", err: services.ErrUnauthorized, expectedStatus: http.StatusUnauthorized, expectedError: "Not authenticated"},
		{name: "Unknown", err: errors.New("boom"), expectedStatus: http.StatusInternalServerError, expectedError: "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: CustomErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))})
			app.Get("/", func(c *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			body, _ := io.ReadAll(resp.Body)
			assert.Contains(t, string(body), `"error":"`+tt.expectedError+`"`)
		})
	}
}

func TestCorsConfig(t *testing.T) {
	wildcard := corsConfig(&config.Config{CORSOrigins: "*"})
	assert.False(t, wildcard.AllowCredentials)

	listed := corsConfig(&config.Config{CORSOrigins: "https://app.example.com"})
	assert.True(t, listed.AllowCredentials)
	assert.Contains(t, listed.AllowMethods, "PATCH")
}
