package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunfall-smp/perkbridge/internal/auth"
	"github.com/sunfall-smp/perkbridge/internal/config"
	"github.com/sunfall-smp/perkbridge/internal/domain"
	"github.com/sunfall-smp/perkbridge/internal/gameserver"
	"github.com/sunfall-smp/perkbridge/internal/policy"
	"github.com/sunfall-smp/perkbridge/internal/probe"
	"github.com/sunfall-smp/perkbridge/internal/storage"
)

type noopPublisher struct{}

func (noopPublisher) Publish(string, any) error { return nil }

type apiFixture struct {
	router *Router
	store  *storage.Store
	auth   *auth.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	table, err := policy.Load(filepath.Join(t.TempDir(), "policy.json"))
	require.NoError(t, err)

	prober := probe.New("127.0.0.1:1", time.Second)
	game := gameserver.New(config.GameConfig{}, "127.0.0.1:1", prober, noopPublisher{})
	authService := auth.NewService("test-secret", time.Hour)

	return &apiFixture{
		router: NewRouter(store, table, game, prober, authService),
		store:  store,
		auth:   authService,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) adminToken(t *testing.T) string {
	t.Helper()
	token, err := f.auth.GenerateToken(1, "admin", true)
	require.NoError(t, err)
	return token
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "GET", "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status          string `json:"status"`
		GameConnected   bool   `json:"gameConnected"`
		ServerReachable bool   `json:"serverReachable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.False(t, body.GameConnected)
	assert.False(t, body.ServerReachable)
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCommandsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, "GET", "/commands", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body policy.File
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.AllowedCommands, "heal")
	assert.Contains(t, body.BannedCommands, "op")
	assert.Equal(t, 1, body.Ranks["VIP"])
}

func TestLogsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	for _, cmd := range []string{"heal", "feed", "fly"} {
		require.NoError(t, f.store.AppendAudit(ctx, &domain.AuditEntry{
			Handle: "Alice", Command: cmd, Accepted: true, Reason: "executed",
		}))
	}

	rec := f.do(t, "GET", "/logs?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "fly", entries[0].Command)

	rec = f.do(t, "GET", "/logs?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, "GET", "/logs?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty log still answers with an array
	f2 := newAPIFixture(t)
	rec = f2.do(t, "GET", "/logs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestLoginFlow(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateUser(ctx, "admin", hash, true))

	rec := f.do(t, "POST", "/api/auth/login", map[string]string{
		"username": "admin", "password": "hunter2",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Token)
	assert.True(t, body.IsAdmin)

	// The issued token opens the admin surface
	rec = f.do(t, "GET", "/api/donators", nil, body.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "admin", "wrong"},
		{"unknown user", "nobody", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/api/auth/login", map[string]string{
				"username": tt.username, "password": tt.password,
			}, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "GET", "/api/donators", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	nonAdmin, err := f.auth.GenerateToken(2, "viewer", false)
	require.NoError(t, err)
	rec = f.do(t, "GET", "/api/donators", nil, nonAdmin)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDonatorCRUDOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	token := f.adminToken(t)

	rec := f.do(t, "POST", "/api/donators", map[string]any{
		"handle": "Alice", "tier": "VIP",
	}, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, "POST", "/api/donators", map[string]any{
		"handle": "x", "tier": "VIP",
	}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "GET", "/api/donators", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var donators []domain.Donator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &donators))
	require.Len(t, donators, 1)
	assert.Equal(t, "Alice", donators[0].Handle)

	rec = f.do(t, "DELETE", "/api/donators/Alice", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, "DELETE", "/api/donators/Alice", nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, "OPTIONS", "/api/donators", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(t, "GET", "/health", nil, "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
