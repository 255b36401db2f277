package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/verification/domain"
)

type historyOptions struct {
	chainID string
	address string
	failed  bool
	limit   int
	cursor  string
	output  string
}

func createHistoryCmd() *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past verification runs",
		Long: `List stored verification reports, newest first.

Reports are stored when STORAGE_TYPE is set (sqlite or postgres).

EXAMPLES:
  contraverify history
  contraverify history --chain 1 --address 0x1234...
  contraverify history --failed --output json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.chainID, "chain", "", "filter by chain ID")
	cmd.Flags().StringVar(&opts.address, "address", "", "filter by primary contract address")
	cmd.Flags().BoolVar(&opts.failed, "failed", false, "only show failed runs")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().StringVar(&opts.cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().StringVarP(&opts.output, "output", "o", outputText, "output format: text, json or yaml")

	return cmd
}

func runHistory(ctx context.Context, w io.Writer, opts historyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateOutput(opts.output); err != nil {
		return err
	}

	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(os.Stderr, "error", cfg.Logging.Format)

	store, err := openStore(ctx, cfg.Storage, true, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := domain.HistoryFilter{ChainID: opts.chainID, Address: opts.address}
	if opts.failed {
		success := false
		filter.Success = &success
	}

	page, err := domain.NewHistory(store).List(ctx, filter, opts.limit, opts.cursor)
	if err != nil {
		return err
	}
	return writeHistory(w, page, opts.output)
}

// quietLogger is used by commands that only print results.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
