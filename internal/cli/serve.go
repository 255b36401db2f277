package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

func createServeCmd(version string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start an HTTP server that runs verifications on request and keeps their
reports.

ROUTES:
  POST /api/v1/verifications        start a verification (API key required)
  GET  /api/v1/verifications        list stored reports
  GET  /api/v1/verifications/{id}   get one report
  GET  /health, /readyz, /metrics

Reports are stored in SQLite unless STORAGE_TYPE or DATABASE_URL say
otherwise. Create API keys with 'contraverify keys create'.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, version, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from PORT)")

	return cmd
}

func runServe(ctx context.Context, version string, port int) error {
	cfg, project, _, err := loadConfig()
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	mode, err := domain.ParseMode(cfg.Verify.Mode)
	if err != nil {
		return err
	}
	if err := cfg.ValidateForVerify(); err != nil {
		return err
	}

	logger := setupLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	metrics.Init(cfg.Metrics.Enabled, "contraverify")
	logger.Info("starting contraverify server", "version", version, "metrics", metrics.Enabled())

	store, err := openStore(ctx, cfg.Storage, true, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	eng, err := newEngine(ctx, cfg, project, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc := eng.service(mode, cfg, logger, domain.WithSourceDir(project.SrcDir))
	return server.New(cfg, store, svc, logger).Run(ctx)
}
