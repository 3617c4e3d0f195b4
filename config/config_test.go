package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "STORE_BACKEND", "DB_PATH", "SESSION_TTL", "SYNC_INTERVAL", "SYNC_MAX_INTERVAL", "PALETTE_SEED", "RATE_LIMIT", "RATE_LIMIT_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "./data/categories.db", cfg.DBPath)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 5*time.Minute, cfg.SyncMaxInterval)
	assert.Equal(t, uint64(0), cfg.PaletteSeed)
	assert.Equal(t, 200, cfg.RateLimit)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.True(t, cfg.IsDevelopment())
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		errorMsg string
	}{
		{
			name:     "Unknown backend",
			env:      map[string]string{"STORE_BACKEND": "mongo"},
			errorMsg: "STORE_BACKEND",
		},
		{
			name:     "Firestore without project",
			env:      map[string]string{"STORE_BACKEND": "firestore", "FIREBASE_PROJECT_ID": ""},
			errorMsg: "FIREBASE_PROJECT_ID",
		},
		{
			name:     "Bad duration",
			env:      map[string]string{"SYNC_INTERVAL": "soon"},
			errorMsg: "SYNC_INTERVAL",
		},
		{
			name:     "Max interval below base",
			env:      map[string]string{"SYNC_INTERVAL": "10m", "SYNC_MAX_INTERVAL": "1m"},
			errorMsg: "SYNC_MAX_INTERVAL",
		},
		{
			name:     "Zero rate limit",
			env:      map[string]string{"RATE_LIMIT": "0"},
			errorMsg: "RATE_LIMIT",
		},
		{
			name:     "Bad seed",
			env:      map[string]string{"PALETTE_SEED": "-1"},
			errorMsg: "PALETTE_SEED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("CATEGORIES_TEST_KEY", "value")
	assert.Equal(t, "value", GetEnv("CATEGORIES_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnv("CATEGORIES_TEST_MISSING", "fallback"))
}
