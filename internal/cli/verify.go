package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// ErrPrecheckFailed is returned when the deployed code does not match the
// local build.
var ErrPrecheckFailed = errors.New("deployed bytecode does not match the local build")

type verifyOptions struct {
	name            string
	address         string
	constructorArgs string
	mode            string
	verifiers       []string
	precheck        bool
	output          string
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify <contract> <address> [constructorArgs]",
		Short: "Verify a deployed contract and its action contract",
		Long: `Verify the source of a deployed contract on every configured explorer,
then verify the action contract whose address the contract reports.

The command exits non-zero unless every contract was verified by at least
one explorer.

ENVIRONMENT:
  ETH_RPC_URL         RPC endpoint used to read the chain ID and action address (required)
  ETHERSCAN_API_KEY   enables the etherscan verifiers
  VERIFIERS           comma-separated verifier order (default: etherscan,sourcify)
  VERIFY_MODE         all or first-success (default: all)

EXAMPLES:
  contraverify verify DssSpell 0x1234567890abcdef1234567890abcdef12345678
  contraverify verify DssSpell 0x1234...5678 0x000000000000000000000000000000000000000000000000000000000000002a
  contraverify verify DssSpell 0x1234...5678 --mode first-success --output json
`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.name, opts.address = args[0], args[1]
			if len(args) == 3 {
				opts.constructorArgs = args[2]
			}
			return runVerify(cmd.Context(), cmd.OutOrStdout(), os.Stderr, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "all or first-success (default from VERIFY_MODE)")
	cmd.Flags().StringSliceVar(&opts.verifiers, "verifiers", nil, "verifiers to try, in order (default from VERIFIERS)")
	cmd.Flags().BoolVar(&opts.precheck, "precheck", false, "compare the deployed bytecode with the local build first")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputText, "report format: text, json or yaml")

	return cmd
}

func runVerify(ctx context.Context, stdout, stderr io.Writer, opts verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// input errors are reported before anything touches the network
	if err := validation.ValidateAddress(opts.address); err != nil {
		return err
	}
	if err := validateOutput(opts.output); err != nil {
		return err
	}

	cfg, project, _, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.mode != "" {
		cfg.Verify.Mode = opts.mode
	}
	if len(opts.verifiers) > 0 {
		cfg.Verify.Verifiers = opts.verifiers
	}
	if opts.precheck {
		cfg.Verify.Precheck = true
	}
	mode, err := domain.ParseMode(cfg.Verify.Mode)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForVerify(); err != nil {
		return err
	}

	logger := setupLogger(stderr, cfg.Logging.Level, cfg.Logging.Format)
	metrics.Init(cfg.Metrics.Enabled || cfg.Metrics.PushgatewayURL != "", "contraverify")

	eng, err := newEngine(ctx, cfg, project, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	sourcePath := project.SourcePath(opts.name)
	if cfg.Verify.Precheck {
		if err := precheck(ctx, eng.resolver, opts, sourcePath, logger); err != nil {
			return err
		}
	}

	svc := eng.service(mode, cfg, logger, domain.WithSourcePath(sourcePath))
	svc = domain.LoggingMiddleware(logger)(svc)
	svc = domain.InstrumentingMiddleware(metrics.VerificationRun)(svc)

	store, err := openStore(ctx, cfg.Storage, false, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		svc = domain.RecordingMiddleware(domain.NewHistory(store), logger)(svc)
	}

	report, runErr := svc.Verify(ctx, domain.Request{
		Name:            opts.name,
		Address:         opts.address,
		ConstructorArgs: opts.constructorArgs,
	})
	if report != nil {
		if err := writeReport(stdout, report, opts.output); err != nil {
			logger.Warn("writing report failed", "error", err)
		}
	}

	if cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, "contraverify"); err != nil {
			logger.Warn("pushing metrics failed", "error", err)
		}
		cancel()
	}

	return runErr
}

// precheck compares the deployed code of the primary contract with the
// local build artifact. A partial match only logs a warning.
func precheck(ctx context.Context, resolver *evm.Resolver, opts verifyOptions, sourcePath string, logger *slog.Logger) error {
	lib, err := resolver.Library(ctx)
	if err != nil {
		return fmt.Errorf("%w: library: %v", domain.ErrChainContext, err)
	}

	match, err := resolver.Precheck(ctx, domain.Contract{
		Name:       opts.name,
		Address:    opts.address,
		SourcePath: sourcePath,
		Library:    lib,
	})
	if err != nil {
		return fmt.Errorf("bytecode precheck: %w", err)
	}

	switch match.Kind {
	case evm.MatchFull:
		logger.Info("bytecode precheck passed", "match", match.Kind)
	case evm.MatchPartial:
		logger.Warn("bytecode precheck: metadata differs", "match", match.Kind, "detail", match.Message)
	default:
		return fmt.Errorf("%w: %s", ErrPrecheckFailed, match.Message)
	}
	return nil
}
