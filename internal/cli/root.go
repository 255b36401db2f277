package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contraverify",
		Short: "Verify deployed contract sources on block explorers",
		Long: `contraverify submits the source of a deployed contract to several block
explorers, retries transient failures, and reports which explorers verified it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: contraverify.toml or cv.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default from LOG_FORMAT, text on a terminal)")

	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createHistoryCmd())
	rootCmd.AddCommand(createServeCmd(version))
	rootCmd.AddCommand(createKeysCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// setupLogger builds the process logger. Flags win over the configured
// values. Without a format, terminals get text and everything else JSON.
func setupLogger(w io.Writer, level, format string) *slog.Logger {
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	if format == "" {
		format = "json"
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
