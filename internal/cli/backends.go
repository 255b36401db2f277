package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pendergraft/contraverify/internal/command"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/etherscan"
	"github.com/pendergraft/contraverify/internal/verification/explorer"
	"github.com/pendergraft/contraverify/internal/verification/forge"
	"github.com/pendergraft/contraverify/internal/verification/sourcify"
)

// ErrUnknownVerifier is returned for a VERIFIERS entry with no backend.
var ErrUnknownVerifier = errors.New("unknown verifier")

// verifierNames lists every name accepted in VERIFIERS.
var verifierNames = []string{"etherscan", "sourcify", "forge-etherscan", "forge-sourcify", "forge-blockscout"}

// retryPolicy returns the configured policy, counting retries under component.
func retryPolicy(cfg *config.Config, component string) retry.Policy {
	p := cfg.Retry.Policy()
	p.OnRetry = func(int, error) {
		metrics.RetryAttempt(component)
	}
	return p
}

// buildBackends creates the configured backends in order. Backends that
// need an Etherscan API key are skipped with a warning when none is set.
func buildBackends(cfg *config.Config, sources explorer.SourceProvider, runner command.Runner, logger *slog.Logger) ([]domain.Backend, error) {
	var backends []domain.Backend
	for _, name := range cfg.Verify.Verifiers {
		b, err := newBackend(name, cfg, sources, runner, logger)
		if errors.Is(err, etherscan.ErrNoAPIKey) {
			logger.Warn("ETHERSCAN_API_KEY not set, skipping verifier", "backend", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		backends = append(backends, domain.InstrumentBackend(b, observeBackend))
	}
	if len(backends) == 0 {
		return nil, domain.ErrNoBackends
	}
	return backends, nil
}

func newBackend(name string, cfg *config.Config, sources explorer.SourceProvider, runner command.Runner, logger *slog.Logger) (domain.Backend, error) {
	switch name {
	case "etherscan":
		return etherscan.New(cfg.Etherscan.APIKey, sources, etherscan.Config{
			NotFoundAttempts: cfg.Etherscan.NotFoundAttempts,
			NotFoundInterval: cfg.Etherscan.NotFoundInterval,
			PollAttempts:     cfg.Etherscan.PollAttempts,
			PollInterval:     cfg.Etherscan.PollInterval,
			DiagnosticsDir:   cfg.Verify.DiagnosticsDir,
		}, logger,
			etherscan.WithBaseURL(cfg.Etherscan.APIURL),
			etherscan.WithRateLimit(cfg.Etherscan.RateLimitRPS),
			etherscan.WithRetryPolicy(retryPolicy(cfg, name)),
		)
	case "sourcify":
		return sourcify.NewVerifier(cfg.Sourcify.ServerURL, sources, retryPolicy(cfg, name), logger), nil
	case "forge-sourcify":
		fc := forge.SourcifyConfig()
		fc.Chains = cfg.Sourcify.Chains
		return forge.NewVerifier(fc, runner, retryPolicy(cfg, name), logger), nil
	case "forge-etherscan":
		if cfg.Etherscan.APIKey == "" {
			return nil, etherscan.ErrNoAPIKey
		}
		fc := forge.Config{
			Verifier: forge.Etherscan,
			Chains:   []string{"1", "11155111"},
			APIKey:   cfg.Etherscan.APIKey,
		}
		return forge.NewVerifier(fc, runner, retryPolicy(cfg, name), logger), nil
	case "forge-blockscout":
		if cfg.Blockscout.URL == "" {
			return nil, fmt.Errorf("%w: BLOCKSCOUT_URL for forge-blockscout", config.ErrMissingSetting)
		}
		fc := forge.Config{
			Verifier:    forge.Blockscout,
			Chains:      cfg.Blockscout.Chains,
			VerifierURL: cfg.Blockscout.URL,
			ExplorerURL: explorerBase(cfg.Blockscout.URL),
		}
		return forge.NewVerifier(fc, runner, retryPolicy(cfg, name), logger), nil
	}
	return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownVerifier, name, verifierNames)
}

// explorerBase turns a Blockscout API URL such as https://x/api/ into the
// explorer root https://x.
func explorerBase(apiURL string) string {
	return strings.TrimSuffix(strings.TrimSuffix(apiURL, "/"), "/api")
}

func observeBackend(backend string, status domain.Status, d time.Duration) {
	metrics.BackendOutcome(backend, string(status), d)
}
