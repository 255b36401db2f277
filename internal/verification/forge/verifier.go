// Package forge delegates verification to `forge verify-contract`.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/pendergraft/contraverify/internal/command"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// Verifier names understood by forge.
const (
	Sourcify   = "sourcify"
	Etherscan  = "etherscan"
	Blockscout = "blockscout"
)

// Config describes one forge-backed verifier.
type Config struct {
	// Verifier is passed to --verifier.
	Verifier string
	// Chains lists the chain IDs the verifier is used for.
	Chains []string
	// APIKey is passed as --etherscan-api-key when set.
	APIKey string
	// VerifierURL is passed as --verifier-url when set, e.g. for Blockscout.
	VerifierURL string
	// ExplorerURL is the base of result links for verifiers without a
	// well-known explorer.
	ExplorerURL string
}

// SourcifyConfig is the default Sourcify instance.
func SourcifyConfig() Config {
	return Config{Verifier: Sourcify, Chains: []string{"1"}}
}

// Verifier is a CLI-delegated backend.
type Verifier struct {
	cfg    Config
	runner command.Runner
	policy retry.Policy
	logger *slog.Logger
}

var _ domain.Backend = (*Verifier)(nil)

// NewVerifier creates a backend that runs forge through runner.
func NewVerifier(cfg Config, runner command.Runner, policy retry.Policy, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Retryable == nil {
		policy.Retryable = isRetryable
	}
	return &Verifier{
		cfg:    cfg,
		runner: runner,
		policy: policy,
		logger: logger.With("backend", "forge-"+cfg.Verifier),
	}
}

// Name is the verifier name prefixed with forge.
func (v *Verifier) Name() string      { return "forge-" + v.cfg.Verifier }
func (v *Verifier) Kind() domain.Kind { return domain.KindCLIDelegated }

func (v *Verifier) IsAvailable(chainID string) bool {
	return slices.Contains(v.cfg.Chains, chainID)
}

// ResultURL returns where the verified source can be viewed.
func (v *Verifier) ResultURL(chainID, address string) string {
	switch v.cfg.Verifier {
	case Sourcify:
		return "https://sourcify.dev/#/lookup/" + address
	case Etherscan:
		sub := ""
		if chainID == "11155111" {
			sub = "sepolia."
		}
		return fmt.Sprintf("https://%setherscan.io/address/%s#code", sub, address)
	}
	if v.cfg.ExplorerURL != "" {
		return strings.TrimSuffix(v.cfg.ExplorerURL, "/") + "/address/" + address
	}
	return ""
}

// Args returns the forge arguments used to verify c.
func (v *Verifier) Args(c domain.Contract) []string {
	args := []string{
		"verify-contract",
		c.Address,
		c.SourcePath + ":" + c.Name,
		"--verifier", v.cfg.Verifier,
	}
	if v.cfg.VerifierURL != "" {
		args = append(args, "--verifier-url", v.cfg.VerifierURL)
	}
	if v.cfg.APIKey != "" {
		args = append(args, "--etherscan-api-key", v.cfg.APIKey)
	}
	args = append(args, "--flatten", "--watch")
	if c.ConstructorArgs != "" {
		args = append(args, "--constructor-args", c.ConstructorArgs)
	}
	if !c.Library.IsZero() {
		args = append(args, "--libraries", c.Library.Path+":"+c.Library.Name+":"+c.Library.Address)
	}
	return args
}

// Verify runs forge verify-contract. Runs that could not start or produced no
// exit status are retried under the policy; a non-zero exit is final.
func (v *Verifier) Verify(ctx context.Context, c domain.Contract) (domain.Outcome, error) {
	logger := v.logger.With("contract", c.Name, "address", c.Address)
	resultURL := v.ResultURL(c.ChainID, c.Address)
	args := v.Args(c)

	logger.Info("running forge verify-contract")
	already, err := retry.Do(ctx, v.policy, logger, func(ctx context.Context) (bool, error) {
		res, err := v.runner.Run(ctx, "forge", args...)
		if alreadyVerified(res) {
			return true, nil
		}
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			return false, retry.NonRetryable(err)
		}
		return false, err
	})
	switch {
	case err == nil && already:
		logger.Info("contract already verified")
		return domain.AlreadyVerified(resultURL), nil
	case err == nil:
		logger.Info("contract verified", "url", resultURL)
		return domain.Verified(resultURL), nil
	}

	if ctx.Err() != nil {
		return domain.Outcome{}, ctx.Err()
	}
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) {
		reason := lastLine(exitErr.Result.Combined())
		logger.Warn("forge verification failed", "exit_code", exitErr.Result.ExitCode, "output", reason)
		return domain.Failed(reason), nil
	}
	return domain.Outcome{}, fmt.Errorf("running forge: %w", err)
}

func alreadyVerified(res command.Result) bool {
	return strings.Contains(strings.ToLower(res.Combined()), "already verified")
}

// isRetryable retries runs that did not reach an exit status, except a
// missing binary.
func isRetryable(err error) bool {
	return retry.IsRetryable(err) && !errors.Is(err, command.ErrNotFound)
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "forge verify-contract failed"
}
