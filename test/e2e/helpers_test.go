//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/sourcify"
	"github.com/pendergraft/contraverify/pkg/client"
)

// Addresses the fake chain and the fake Sourcify server know about.
const (
	spellAddress    = "0x1111111111111111111111111111111111111111"
	actionAddress   = "0x2222222222222222222222222222222222222222"
	rejectedAddress = "0x3333333333333333333333333333333333333333"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Sourcify          *fakeSourcify
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("contraverify"),
		postgres.WithUsername("contraverify"),
		postgres.WithPassword("contraverify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// fakeSourcify answers /verify with a perfect match for every address
// except rejectedAddress.
type fakeSourcify struct {
	*httptest.Server

	mu        sync.Mutex
	submitted []string
}

func newFakeSourcify() *fakeSourcify {
	f := &fakeSourcify{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Address string `json:"address"`
			Chain   string `json:"chain"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.submitted = append(f.submitted, req.Address)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if strings.EqualFold(req.Address, rejectedAddress) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "Bytecode does not match"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]string{{"address": req.Address, "chainId": req.Chain, "status": "perfect"}},
		})
	}))
	return f
}

func (f *fakeSourcify) Submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

// fakeChain stands in for the RPC node. Every primary contract reports
// actionAddress as its action contract.
type fakeChain struct{}

func (fakeChain) ChainID(context.Context) (string, error) { return "1", nil }

func (fakeChain) Library(context.Context) (domain.Library, error) { return domain.Library{}, nil }

func (fakeChain) ActionAddress(_ context.Context, primary string) (string, error) {
	return actionAddress, nil
}

// staticSources returns the same source for every contract.
type staticSources struct{}

func (staticSources) Source(_ context.Context, sourcePath, contract string) (foundry.Source, error) {
	return foundry.Source{
		Code: "// SPDX-License-Identifier: AGPL-3.0\npragma solidity 0.8.16;\ncontract " + contract + " {}\n",
		Metadata: foundry.Metadata{
			CompilerVersion:  "v0.8.16+commit.07a7930e",
			EVMVersion:       "london",
			OptimizerEnabled: true,
			OptimizerRuns:    200,
			LicenseName:      "AGPL-3.0",
		},
	}, nil
}

// startServerE starts the server in-process against Postgres, verifying
// through the fake Sourcify server.
func startServerE(connString, sourcifyURL string) (*httptest.Server, storage.Store, error) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Storage: config.StorageConfig{
			Type:     "postgres",
			Postgres: config.PostgresConfig{URL: connString},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{MaxBodySizeMB: 1},
	}

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	policy := retry.Policy{MaxRetries: 1, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2}
	backend := sourcify.NewVerifier(sourcifyURL, staticSources{}, policy, logger)
	svc := domain.NewService(fakeChain{}, []domain.Backend{backend}, domain.WithLogger(logger))

	srv := server.New(cfg, store, svc, logger)
	return httptest.NewServer(srv.Handler()), store, nil
}

// createTestAPIKey creates an API key for testing
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	t.Helper()
	key, err := store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err)
	return key
}

// newClient creates an API client for the test server
func newClient(server *httptest.Server, apiKey string) *client.Client {
	return client.New(server.URL, apiKey)
}
