package etherscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/explorer"
)

// Name identifies this backend in reports.
const Name = "etherscan"

// Explorer hosts by chain ID.
var subdomains = map[string]string{
	"1":        "",
	"11155111": "sepolia.",
}

// ErrNoAPIKey is returned by New when no API key is configured.
var ErrNoAPIKey = errors.New("etherscan API key not configured")

// Config controls the submit and poll loops.
type Config struct {
	// NotFoundAttempts is how many times a submission is repeated while the
	// explorer has not indexed the contract yet.
	NotFoundAttempts int
	NotFoundInterval time.Duration
	PollAttempts     int
	PollInterval     time.Duration
	// DiagnosticsDir receives the submitted source when a job fails.
	DiagnosticsDir string
}

// DefaultConfig returns the loop settings used against the public API.
func DefaultConfig() Config {
	return Config{
		NotFoundAttempts: 5,
		NotFoundInterval: 15 * time.Second,
		PollAttempts:     20,
		PollInterval:     15 * time.Second,
		DiagnosticsDir:   ".",
	}
}

// Verifier is the Explorer-API backend for Etherscan.
type Verifier struct {
	client  *Client
	sources explorer.SourceProvider
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

var _ domain.Backend = (*Verifier)(nil)

// New builds the backend and its API client. It returns ErrNoAPIKey when
// apiKey is empty so callers can skip the backend.
func New(apiKey string, sources explorer.SourceProvider, cfg Config, logger *slog.Logger, opts ...Option) (*Verifier, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewVerifier(NewClient(apiKey, opts...), sources, cfg, logger), nil
}

// NewVerifier creates the Etherscan backend.
func NewVerifier(client *Client, sources explorer.SourceProvider, cfg Config, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		client:  client,
		sources: sources,
		cfg:     cfg,
		logger:  logger.With("backend", Name),
		now:     time.Now,
	}
}

func (v *Verifier) Name() string      { return Name }
func (v *Verifier) Kind() domain.Kind { return domain.KindExplorerAPI }

// IsAvailable reports whether Etherscan serves chainID.
func (v *Verifier) IsAvailable(chainID string) bool {
	_, ok := subdomains[chainID]
	return ok
}

// ResultURL returns the explorer page showing the verified code.
func (v *Verifier) ResultURL(chainID, address string) string {
	return fmt.Sprintf("https://%setherscan.io/address/%s#code", subdomains[chainID], address)
}

// Verify submits c and polls until the job finishes.
func (v *Verifier) Verify(ctx context.Context, c domain.Contract) (domain.Outcome, error) {
	logger := v.logger.With("contract", c.Name, "address", c.Address)
	resultURL := v.ResultURL(c.ChainID, c.Address)

	src, err := v.sources.Source(ctx, c.SourcePath, c.Name)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: preparing source: %w", domain.ErrFatal, err)
	}

	logger.Info("submitting source")
	state, err := v.submit(ctx, logger, c.ChainID, buildForm(c, src))
	if err != nil {
		return domain.Outcome{}, err
	}
	if state.Terminal() {
		return state.Outcome(resultURL), nil
	}

	logger.Info("verification submitted", "guid", state.JobID)
	state, err = v.poll(ctx, logger, c.ChainID, state.JobID, src.Code)
	if err != nil {
		return domain.Outcome{}, err
	}
	return state.Outcome(resultURL), nil
}

func buildForm(c domain.Contract, src foundry.Source) url.Values {
	form := url.Values{}
	form.Set("contractaddress", c.Address)
	form.Set("sourceCode", src.Code)
	form.Set("codeformat", "solidity-single-file")
	form.Set("contractname", c.Name)
	form.Set("compilerversion", src.Metadata.CompilerVersion)
	form.Set("optimizationUsed", boolFlag(src.Metadata.OptimizerEnabled))
	form.Set("runs", strconv.Itoa(src.Metadata.OptimizerRuns))
	form.Set("evmversion", src.Metadata.EVMVersion)
	form.Set("licenseType", strconv.Itoa(LicenseCode(src.Metadata.LicenseName)))
	if c.ConstructorArgs != "" {
		// the misspelling is part of the API
		form.Set("constructorArguements", strings.TrimPrefix(c.ConstructorArgs, "0x"))
	}
	if !c.Library.IsZero() {
		form.Set("libraryname1", c.Library.Name)
		form.Set("libraryaddress1", c.Library.Address)
	}
	return form
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// submit sends the form, resubmitting while the contract is not indexed.
func (v *Verifier) submit(ctx context.Context, logger *slog.Logger, chainID string, form url.Values) (domain.AttemptState, error) {
	resp, err := v.client.Submit(ctx, chainID, form)
	if err != nil {
		return domain.AttemptState{}, fmt.Errorf("submitting verification: %w", err)
	}

	for attempt := 1; notIndexed(resp); attempt++ {
		if attempt > v.cfg.NotFoundAttempts {
			logger.Warn("contract not found by explorer", "attempts", v.cfg.NotFoundAttempts)
			return domain.AttemptState{Phase: domain.PhaseFailed, Reason: "not-found"}, nil
		}
		logger.Info("contract not indexed yet, waiting",
			"result", resp.Result,
			"attempt", attempt,
			"max_attempts", v.cfg.NotFoundAttempts,
			"delay", v.cfg.NotFoundInterval,
		)
		if err := retry.Sleep(ctx, v.cfg.NotFoundInterval); err != nil {
			return domain.AttemptState{}, err
		}
		resp, err = v.client.Submit(ctx, chainID, form)
		if err != nil {
			return domain.AttemptState{}, fmt.Errorf("resubmitting verification: %w", err)
		}
	}

	switch {
	case resp.OK():
		return domain.Submitted(resp.Result), nil
	case alreadyVerified(resp):
		logger.Info("contract already verified")
		return domain.AttemptState{Phase: domain.PhaseAlreadyVerified}, nil
	default:
		logger.Warn("submission rejected", "result", resp.Result)
		return domain.AttemptState{Phase: domain.PhaseFailed, Reason: resp.Result}, nil
	}
}

// poll checks the job until it leaves the pending state. The whole loop is
// bounded by PollAttempts*PollInterval.
func (v *Verifier) poll(ctx context.Context, logger *slog.Logger, chainID, guid, code string) (domain.AttemptState, error) {
	pollCtx := ctx
	if budget := time.Duration(v.cfg.PollAttempts) * v.cfg.PollInterval; budget > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	timedOut := func(err error) (domain.AttemptState, error) {
		if ctx.Err() != nil {
			return domain.AttemptState{}, ctx.Err()
		}
		if pollCtx.Err() != nil {
			logger.Warn("verification timed out", "guid", guid)
			return domain.AttemptState{Phase: domain.PhaseFailed, Reason: "timeout"}, nil
		}
		return domain.AttemptState{}, err
	}

	state := domain.Submitted(guid)
	var lastErr error
	for attempt := 1; attempt <= v.cfg.PollAttempts; attempt++ {
		if attempt > 1 {
			if err := retry.Sleep(pollCtx, v.cfg.PollInterval); err != nil {
				return timedOut(err)
			}
		}

		resp, err := v.client.CheckStatus(pollCtx, chainID, guid)
		if err != nil {
			if pollCtx.Err() != nil {
				return timedOut(err)
			}
			logger.Warn("checking verification status failed", "attempt", attempt, "error", err)
			lastErr = err
			continue
		}
		lastErr = nil

		if pending(resp) {
			state = domain.AttemptState{Phase: domain.PhasePending, JobID: guid}
			logger.Info("verification pending",
				"result", resp.Result,
				"attempt", attempt,
				"max_attempts", v.cfg.PollAttempts,
			)
			continue
		}

		switch {
		case resp.OK():
			return domain.AttemptState{Phase: domain.PhaseVerified, JobID: guid}, nil
		case alreadyVerified(resp):
			return domain.AttemptState{Phase: domain.PhaseAlreadyVerified, JobID: guid}, nil
		default:
			v.writeDiagnostics(logger, code)
			return domain.AttemptState{Phase: domain.PhaseFailed, JobID: guid, Reason: resp.Result}, nil
		}
	}

	if lastErr != nil {
		return domain.AttemptState{}, fmt.Errorf("checking verification status: %w", lastErr)
	}
	logger.Warn("verification still pending after polling", "guid", guid, "phase", state.Phase)
	return domain.AttemptState{Phase: domain.PhaseFailed, JobID: guid, Reason: "timeout"}, nil
}

// writeDiagnostics saves the submitted source so a failed job can be
// reproduced by hand. Each failure gets its own file.
func (v *Verifier) writeDiagnostics(logger *slog.Logger, code string) {
	f, err := os.CreateTemp(v.cfg.DiagnosticsDir, fmt.Sprintf("verify-%d-*.log", v.now().Unix()))
	if err != nil {
		logger.Warn("writing diagnostics failed", "dir", v.cfg.DiagnosticsDir, "error", err)
		return
	}
	path := f.Name()
	_, err = f.WriteString(code)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Warn("writing diagnostics failed", "path", path, "error", err)
		return
	}
	logger.Warn("submitted source logged", "path", path)
}

func notIndexed(r Response) bool {
	return strings.Contains(strings.ToLower(r.Result), "unable to locate")
}

func pending(r Response) bool {
	return strings.Contains(strings.ToLower(r.Result), "pending")
}

func alreadyVerified(r Response) bool {
	return strings.Contains(strings.ToLower(r.Result), "already verified")
}
