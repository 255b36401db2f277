package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/pendergraft/contraverify/internal/validation"
)

// Common errors returned by the verification service.
var (
	ErrInvalidAddress     = validation.ErrInvalidAddress
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidMode        = errors.New("invalid mode, must be all or first-success")
	ErrNoBackends         = errors.New("no verification backends configured")
	ErrNoBackendsForChain = errors.New("no verification backends available for chain")
	ErrChainContext       = errors.New("resolving chain context")
	ErrActionAddress      = errors.New("could not determine action contract address")
	ErrFatal              = errors.New("fatal verification error")
	ErrVerificationFailed = errors.New("verification failed on every backend")
)

// DefaultActionContract is the contract name used for the action address.
const DefaultActionContract = "DssSpellAction"

// ChainContext supplies chain facts needed to pick and parametrize backends.
type ChainContext interface {
	// ChainID returns the decimal chain ID. It is stable for one run.
	ChainID(ctx context.Context) (string, error)
	// Library returns the linked library. A zero Library means none.
	Library(ctx context.Context) (Library, error)
	// ActionAddress reads the action contract address from the primary contract.
	ActionAddress(ctx context.Context, primary string) (string, error)
}

// Backend verifies contracts on one explorer.
type Backend interface {
	Name() string
	Kind() Kind
	IsAvailable(chainID string) bool
	// Verify runs the full protocol for c. A returned error is treated as a
	// failure of this backend only, unless it wraps ErrFatal or the context
	// is done, which end the run.
	Verify(ctx context.Context, c Contract) (Outcome, error)
}

// Option configures the service.
type Option func(*service)

// WithMode sets the orchestration mode.
func WithMode(m Mode) Option {
	return func(s *service) {
		s.mode = m
	}
}

// WithActionContract sets the name of the action contract. An empty name
// disables action contract verification.
func WithActionContract(name string) Option {
	return func(s *service) {
		s.actionContract = name
	}
}

// WithSourcePath sets the source file both contracts are compiled from.
// By default it is <source dir>/<Name>.sol of the primary contract.
func WithSourcePath(path string) Option {
	return func(s *service) {
		s.sourcePath = path
	}
}

// WithSourceDir sets the directory the default source path is built from.
func WithSourceDir(dir string) Option {
	return func(s *service) {
		s.sourceDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

type service struct {
	chain          ChainContext
	backends       []Backend
	mode           Mode
	actionContract string
	sourcePath     string
	sourceDir      string
	logger         *slog.Logger
	now            func() time.Time
}

// NewService creates a new verification service. Backends are attempted in
// the order given.
func NewService(chain ChainContext, backends []Backend, opts ...Option) *service {
	s := &service{
		chain:          chain,
		backends:       backends,
		mode:           ModeAll,
		actionContract: DefaultActionContract,
		sourceDir:      "src",
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify verifies the requested contract and then its action contract on
// every available backend. The returned report is non-nil once input
// validation has passed. A non-nil error means the run failed.
func (s *service) Verify(ctx context.Context, req Request) (*Report, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, err
	}
	if err := validation.ValidateContractName(req.Name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateConstructorArgs(req.ConstructorArgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(s.backends) == 0 {
		return nil, ErrNoBackends
	}

	report := &Report{Mode: s.mode, StartedAt: s.now()}
	err := s.run(ctx, req, report)
	report.FinishedAt = s.now()
	if err != nil {
		report.Success = false
		report.Error = err.Error()
		return report, err
	}
	report.Success = true
	return report, nil
}

func (s *service) run(ctx context.Context, req Request, report *Report) error {
	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: chain ID: %v", ErrChainContext, err)
	}
	report.ChainID = chainID

	lib, err := s.chain.Library(ctx)
	if err != nil {
		return fmt.Errorf("%w: library: %v", ErrChainContext, err)
	}
	if lib.IsZero() {
		s.logger.Warn("no library configured, assuming the contract links none")
	} else {
		s.logger.Info("using library", "library", lib.Name, "address", lib.Address)
	}

	backends := s.available(chainID)
	if len(backends) == 0 {
		return fmt.Errorf("%w: %s", ErrNoBackendsForChain, chainID)
	}

	sourcePath := s.sourcePath
	if sourcePath == "" {
		sourcePath = path.Join(s.sourceDir, req.Name+".sol")
	}

	primary := Contract{
		Name:            req.Name,
		Address:         req.Address,
		ChainID:         chainID,
		SourcePath:      sourcePath,
		ConstructorArgs: req.ConstructorArgs,
		Library:         lib,
	}
	if err := s.verifyContract(ctx, backends, primary, report); err != nil {
		return err
	}

	if s.actionContract == "" {
		return nil
	}

	actionAddr, err := s.chain.ActionAddress(ctx, req.Address)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrActionAddress, err)
	}
	if err := validation.ValidateAddress(actionAddr); err != nil {
		return fmt.Errorf("%w: %v", ErrActionAddress, err)
	}
	s.logger.Info("resolved action contract", "contract", s.actionContract, "address", actionAddr)

	action := Contract{
		Name:       s.actionContract,
		Address:    actionAddr,
		ChainID:    chainID,
		SourcePath: sourcePath,
		Library:    lib,
	}
	return s.verifyContract(ctx, backends, action, report)
}

// available returns the backends serving chainID, in configured order.
func (s *service) available(chainID string) []Backend {
	var out []Backend
	for _, b := range s.backends {
		if b.IsAvailable(chainID) {
			s.logger.Info("verifier available", "backend", b.Name(), "chain_id", chainID)
			out = append(out, b)
			continue
		}
		s.logger.Info("verifier not available", "backend", b.Name(), "chain_id", chainID)
	}
	return out
}

// verifyContract runs the backend fan-out for one contract and appends its
// report. It returns an error when the contract could not be verified or a
// fatal error ended the run.
func (s *service) verifyContract(ctx context.Context, backends []Backend, c Contract, report *Report) error {
	report.Contracts = append(report.Contracts, ContractReport{Name: c.Name, Address: c.Address})
	cr := &report.Contracts[len(report.Contracts)-1]
	logger := s.logger.With("contract", c.Name, "address", c.Address)

	for i, b := range backends {
		if err := ctx.Err(); err != nil {
			cr.Reason = err.Error()
			return err
		}

		logger.Info("attempting verification", "backend", b.Name(), "attempt", i+1, "of", len(backends))
		start := s.now()
		out, err := b.Verify(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				cr.Reason = ctx.Err().Error()
				return ctx.Err()
			}
			if errors.Is(err, ErrFatal) {
				cr.Reason = err.Error()
				return err
			}
			out = Failed(err.Error())
		}

		cr.Results = append(cr.Results, BackendResult{
			Backend:  b.Name(),
			Kind:     b.Kind(),
			Status:   out.Status,
			Reason:   out.Reason,
			URL:      out.URL,
			Duration: s.now().Sub(start),
		})

		if !out.OK() {
			logger.Warn("verification failed", "backend", b.Name(), "reason", out.Reason)
			continue
		}
		logger.Info("verification succeeded", "backend", b.Name(), "status", out.Status, "url", out.URL)
		if s.mode == ModeFirstSuccess {
			break
		}
	}

	succeeded := cr.Succeeded()
	cr.Success = succeeded > 0
	switch failed := cr.Failed(); {
	case !cr.Success:
		cr.Reason = fmt.Sprintf("failed on all %d attempted backends", len(cr.Results))
		logger.Error("contract verification failed", "attempted", len(cr.Results))
		return fmt.Errorf("%w: %s at %s", ErrVerificationFailed, c.Name, c.Address)
	case len(failed) > 0:
		logger.Warn("contract only partially verified",
			"succeeded", succeeded,
			"attempted", len(cr.Results),
			"failed_backends", strings.Join(failed, ","),
		)
	default:
		logger.Info("contract verified", "succeeded", succeeded, "attempted", len(cr.Results))
	}
	return nil
}
