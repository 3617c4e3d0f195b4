package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"expense-categories/app"
	"expense-categories/config/setup"
	"expense-categories/database"
	"expense-categories/identity"
	"expense-categories/services"
	"expense-categories/session"
	"expense-categories/sync"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestApp creates an app backed by a temporary SQLite document store.
// Requests authenticate with the development verifier: the bearer token is the user id.
func setupTestApp(t *testing.T) (*fiber.App, *app.App) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "expense-categories-test-*")
	require.NoError(t, err, "Failed to create temp directory")

	db, err := database.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err, "Failed to initialize test database")
	require.NoError(t, db.Migrate(), "Failed to run migrations")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := database.NewRepository(db)
	registry := services.NewRegistry(repo, logger, services.WithColorPicker(services.NewColorPicker(1)))
	sessionStore := session.NewStore(time.Hour)
	sessionStore.OnEnd(registry.Release)
	authService := services.NewAuthService(identity.DevVerifier{}, sessionStore, registry)
	worker := sync.NewWorker(registry, sessionStore, time.Minute, time.Minute)

	application := app.New(repo, registry, authService, worker, sessionStore, logger)

	fiberApp := fiber.New()
	setup.RegisterRoutes(fiberApp, application, identity.DevVerifier{})

	t.Cleanup(func() {
		registry.CloseAll()
		repo.Close()
		os.RemoveAll(tmpDir)
	})

	return fiberApp, application
}

func doRequest(t *testing.T, fiberApp *fiber.App, method, path, token string, body any) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := fiberApp.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]interface{}
	err = json.NewDecoder(resp.Body).Decode(&decoded)
	require.NoError(t, err)

	return resp.StatusCode, decoded
}

// listCategories waits until the listing satisfies cond and returns it
func listCategories(t *testing.T, fiberApp *fiber.App, token string, cond func([]interface{}) bool) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.Eventually(t, func() bool {
		status, b := doRequest(t, fiberApp, http.MethodGet, "/api/categories", token, nil)
		if status != http.StatusOK {
			return false
		}
		body = b
		return cond(b["categories"].([]interface{}))
	}, 3*time.Second, 20*time.Millisecond)
	return body
}

func TestCategoriesAPI(t *testing.T) {
	fiberApp, _ := setupTestApp(t)
	const token = "alice"

	status, body := doRequest(t, fiberApp, http.MethodGet, "/api/categories", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Missing authorization", body["error"])

	body = listCategories(t, fiberApp, token, func(c []interface{}) bool { return len(c) == 0 })
	assert.Equal(t, 0.0, body["total"])

	// Create
	status, body = doRequest(t, fiberApp, http.MethodPost, "/api/categories", token, map[string]string{"name": "", "color": "red"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation failed", body["error"])

	status, _ = doRequest(t, fiberApp, http.MethodPost, "/api/categories", token, map[string]string{"name": "Food", "icon": "fast-food"})
	require.Equal(t, http.StatusAccepted, status)

	body = listCategories(t, fiberApp, token, func(c []interface{}) bool { return len(c) == 1 })
	food := body["categories"].([]interface{})[0].(map[string]interface{})
	categoryID := food["id"].(string)
	assert.Equal(t, "Food", food["name"])
	assert.Contains(t, services.Palette, food["color"])
	assert.Equal(t, []interface{}{}, food["expenses"])

	// Expenses
	status, _ = doRequest(t, fiberApp, http.MethodPost, "/api/categories/missing/expenses", token, map[string]any{"amount": 3})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, fiberApp, http.MethodPost, "/api/categories/"+categoryID+"/expenses", token, map[string]any{"amount": 3, "date": "last week"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, fiberApp, http.MethodPost, "/api/categories/"+categoryID+"/expenses", token, map[string]any{"amount": 12.5, "description": "Lunch"})
	require.Equal(t, http.StatusAccepted, status)
	status, _ = doRequest(t, fiberApp, http.MethodPost, "/api/categories/"+categoryID+"/expenses", token, map[string]any{"amount": 7.5, "date": "2025-10-17T09:30:00.000Z"})
	require.Equal(t, http.StatusAccepted, status)

	body = listCategories(t, fiberApp, token, func(c []interface{}) bool {
		return len(c[0].(map[string]interface{})["expenses"].([]interface{})) == 2
	})
	assert.Equal(t, 20.0, body["total"])
	food = body["categories"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 20.0, food["total"])
	lunch := food["expenses"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Lunch", lunch["description"])
	assert.NotEmpty(t, lunch["id"])

	status, _ = doRequest(t, fiberApp, http.MethodDelete, "/api/categories/"+categoryID+"/expenses/"+lunch["id"].(string), token, nil)
	require.Equal(t, http.StatusAccepted, status)
	listCategories(t, fiberApp, token, func(c []interface{}) bool {
		return len(c[0].(map[string]interface{})["expenses"].([]interface{})) == 1
	})

	// Update
	status, _ = doRequest(t, fiberApp, http.MethodPatch, "/api/categories/"+categoryID, token, map[string]string{"name": "Groceries"})
	require.Equal(t, http.StatusAccepted, status)
	body = listCategories(t, fiberApp, token, func(c []interface{}) bool {
		return c[0].(map[string]interface{})["name"] == "Groceries"
	})
	assert.Equal(t, "fast-food", body["categories"].([]interface{})[0].(map[string]interface{})["icon"])

	status, _ = doRequest(t, fiberApp, http.MethodPatch, "/api/categories/missing", token, map[string]string{"name": "Nope"})
	assert.Equal(t, http.StatusNotFound, status)

	// Other users see nothing
	listCategories(t, fiberApp, "bob", func(c []interface{}) bool { return len(c) == 0 })

	// Delete
	status, _ = doRequest(t, fiberApp, http.MethodDelete, "/api/categories/"+categoryID, token, nil)
	require.Equal(t, http.StatusAccepted, status)
	listCategories(t, fiberApp, token, func(c []interface{}) bool { return len(c) == 0 })
}

func TestStreamCategories(t *testing.T) {
	fiberApp, application := setupTestApp(t)
	const token = "dave"

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/api/categories/stream", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := fiberApp.Test(req, -1)
		if err != nil {
			done <- result{err: err}
			return
		}
		raw, err := io.ReadAll(resp.Body)
		done <- result{body: string(raw), err: err}
	}()

	require.Eventually(t, func() bool { return application.Registry.Held(token) }, 3*time.Second, 10*time.Millisecond)

	// Bearer clients have no stored session; the open stream keeps the store alive
	application.SyncWorker.Sweep(context.Background())
	store, ok := application.Registry.Get(token)
	require.True(t, ok)
	assert.True(t, store.Running())

	status, _ := doRequest(t, fiberApp, http.MethodPost, "/api/categories", token, map[string]string{"name": "Food"})
	require.Equal(t, http.StatusAccepted, status)
	require.Eventually(t, func() bool { return len(store.Categories()) == 1 }, 3*time.Second, 10*time.Millisecond)

	// Closing the store ends the stream with a final event
	application.Registry.CloseAll()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, strings.HasPrefix(r.body, "event: categories\n"))
		assert.Contains(t, r.body, `"name":"Food"`)
		assert.True(t, strings.HasSuffix(r.body, "event: closed\ndata: {}\n\n"))
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after the store closed")
	}
	assert.False(t, application.Registry.Held(token))
}

func TestAuthAPI(t *testing.T) {
	fiberApp, application := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := fiberApp.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"id_token":"carol"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = fiberApp.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, []string{"carol"}, application.Registry.Users())

	// Session cookie authenticates API calls
	req = httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	req.AddCookie(cookie)
	resp, err = fiberApp.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	resp, err = fiberApp.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Logout ends the session and releases the store
	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(cookie)
	resp, err = fiberApp.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, application.Registry.Users())
	assert.False(t, application.SessionStore.HasUser("carol"))

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	resp, err = fiberApp.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	fiberApp, _ := setupTestApp(t)

	resp, err := fiberApp.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
