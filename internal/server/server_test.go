package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

type fakeVerifier struct {
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, req domain.Request) (*domain.Report, error) {
	f.calls++
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Report{
		ChainID: "1",
		Mode:    domain.ModeAll,
		Contracts: []domain.ContractReport{{
			Name:    req.Name,
			Address: req.Address,
			Success: true,
		}},
		Success:    true,
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Auth:      config.AuthConfig{Type: "api-key"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{MaxBodySizeMB: 1},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, storage.Store, *fakeVerifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	v := &fakeVerifier{}
	return New(cfg, store, v, logger), store, v
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestReadyz_StoreClosed(t *testing.T) {
	srv, store, _ := newTestServer(t, testConfig())
	require.NoError(t, store.Close())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerify_RequiresAPIKey(t *testing.T) {
	srv, _, v := newTestServer(t, testConfig())

	body := `{"name":"DssSpell","address":"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verifications/", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, v.calls)
}

func TestVerify_RecordsReport(t *testing.T) {
	srv, store, v := newTestServer(t, testConfig())
	key, err := store.CreateAPIKey(context.Background(), "ci")
	require.NoError(t, err)

	body := `{"name":"DssSpell","address":"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/verifications/", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, v.calls)

	var report domain.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotEmpty(t, report.ID)

	// the stored report is readable without a key
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/verifications/"+report.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/verifications/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), report.ID)
}

func TestVerify_AuthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Type = "none"
	srv, _, v := newTestServer(t, cfg)

	body := `{"name":"DssSpell","address":"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verifications/", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, v.calls)
}

func TestBodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Type = "none"
	srv, _, v := newTestServer(t, cfg)

	body := bytes.Repeat([]byte("a"), 2*1024*1024)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/verifications/", bytes.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "BODY_TOO_LARGE")
	assert.Zero(t, v.calls)
}

func TestRateLimit_ExemptsHealth(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, BurstSize: 1}
	srv, _, _ := newTestServer(t, cfg)

	for range 3 {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	codes := make([]int, 0, 2)
	for range 2 {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/verifications/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server = config.ServerConfig{Host: "127.0.0.1", Port: 0}
	srv, _, _ := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
