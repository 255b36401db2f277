package cli

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/command"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

// engine is everything a verification run needs besides the request.
type engine struct {
	client   *ethclient.Client
	resolver *evm.Resolver
	backends []domain.Backend
}

// newEngine dials the RPC endpoint and builds the configured backends.
// Close releases the RPC connection.
func newEngine(ctx context.Context, cfg *config.Config, project *foundry.Project, logger *slog.Logger) (*engine, error) {
	client, err := evm.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}

	runner := command.NewExecRunner(project.Dir, logger)
	sources := foundry.NewSources(project, foundry.NewFlattener(project, runner), logger)
	backends, err := buildBackends(cfg, sources, runner, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	return &engine{
		client:   client,
		resolver: evm.NewResolver(client, project, cfg.Verify.LibraryName, retryPolicy(cfg, "rpc"), logger),
		backends: backends,
	}, nil
}

func (e *engine) service(mode domain.Mode, cfg *config.Config, logger *slog.Logger, opts ...domain.Option) domain.Verifier {
	opts = append([]domain.Option{
		domain.WithMode(mode),
		domain.WithActionContract(cfg.Verify.ActionContract),
		domain.WithLogger(logger),
	}, opts...)
	return domain.NewService(e.resolver, e.backends, opts...)
}

func (e *engine) Close() {
	e.client.Close()
}
