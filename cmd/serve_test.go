package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouterConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Auth:  config.AuthConfig{JWTSecret: "test-secret", TokenExpireHours: 1},
		Users: []config.User{{ID: 1, Email: "admin@example.com", Name: "Admin", Password: "password"}},
		Storage: config.StorageConfig{
			UploadDir:     filepath.Join(root, "uploads"),
			TempDir:       filepath.Join(root, "tmp"),
			MaxUploadSize: 1 << 20,
			RegistryFile:  "mock_pdfs.json",
		},
		Conversion:    config.ConversionConfig{Engine: "local", OutputFormat: "markdown", Workers: 1},
		Fetch:         config.FetchConfig{Timeout: time.Second},
		Conversations: config.ConversationsConfig{Backend: "memory"},
		RateLimit:     config.RateLimitConfig{Requests: 100, Window: time.Minute},
	}
}

func TestRouter(t *testing.T) {
	cfg := newTestRouterConfig(t)
	ctx := t.Context()

	users, err := service.NewUserStore(cfg.Users)
	require.NoError(t, err)
	pipeline, err := newPipeline(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)
	store, closeStore, err := newConversationStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(closeStore)

	router := newRouter(cfg, users, pipeline, service.NewConversationService(store, pipeline))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/pdf/list", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(`{"username":"admin@example.com","password":"password"}`))
	login.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, login)
	require.Equal(t, http.StatusOK, w.Code)

	var token struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))

	list := httptest.NewRequest("GET", "/api/pdf/list", nil)
	list.Header.Set("Authorization", "Bearer "+token.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, list)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	me := httptest.NewRequest("GET", "/api/auth/me", nil)
	me.Header.Set("Authorization", "Bearer "+token.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, me)
	assert.Contains(t, w.Body.String(), "admin@example.com")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/api/pdf/list", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNewEngineUnknown(t *testing.T) {
	cfg := newTestRouterConfig(t)
	cfg.Conversion.Engine = "marker"

	_, err := newEngine(t.Context(), cfg)
	assert.ErrorContains(t, err, "unknown conversion engine")

	cfg.Conversations.Backend = "sqlite"
	_, _, err = newConversationStore(t.Context(), cfg)
	assert.ErrorContains(t, err, "unknown conversations backend")
}
