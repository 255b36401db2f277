package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/storage"
)

func createKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys for the HTTP API",
	}

	cmd.AddCommand(createKeysCreateCmd())
	cmd.AddCommand(createKeysListCmd())
	cmd.AddCommand(createKeysRevokeCmd())

	return cmd
}

func createKeysCreateCmd() *cobra.Command {
	var name, outputFile string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create an API key that may start verifications through the HTTP API.

By default the key is written to ./contraverify-key-<name>.txt with mode 0600.
The key is only shown once and cannot be retrieved later.

EXAMPLES:
  contraverify keys create --name ci
  contraverify keys create --name ci --quiet | gh secret set CONTRAVERIFY_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeysCreate(cmd.Context(), cmd.OutOrStdout(), store, name, outputFile, quiet)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write key to file (default: ./contraverify-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func createKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeysList(cmd.Context(), cmd.OutOrStdout(), store)
		},
	}
}

func createKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key. The ID may be shortened to its first 8 characters
as shown by 'contraverify keys list'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeysRevoke(cmd.Context(), cmd.OutOrStdout(), store, keyID)
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func openKeyStore(ctx context.Context) (storage.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return openStore(ctx, cfg.Storage, true, quietLogger())
}

func runKeysCreate(ctx context.Context, w io.Writer, store storage.APIKeyStore, name, outputFile string, quiet bool) error {
	key, err := store.CreateAPIKey(ctx, name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	if quiet {
		fmt.Fprintln(w, key)
		return nil
	}

	if outputFile == "" {
		outputFile = fmt.Sprintf("./contraverify-key-%s.txt", name)
	}
	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Fprintf(w, "API key created: %s\n", name)
	fmt.Fprintf(w, "  Written to: %s (mode 0600)\n", outputFile)
	fmt.Fprintln(w, "  This key cannot be retrieved later. Keep it safe!")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Usage:")
	fmt.Fprintf(w, "    curl -H \"X-API-Key: $(cat %s)\" -d '{\"name\":\"DssSpell\",\"address\":\"0x...\"}' http://localhost:8080/api/v1/verifications\n", outputFile)
	return nil
}

func runKeysList(ctx context.Context, w io.Writer, store storage.APIKeyStore) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No API keys found")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Create one with: contraverify keys create --name \"my-key\"")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != "" {
			lastUsed = k.LastUsedAt
		}
		id := k.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, k.Name, k.CreatedAt, lastUsed)
	}
	return tw.Flush()
}

func runKeysRevoke(ctx context.Context, w io.Writer, store storage.APIKeyStore, keyID string) error {
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	var matches []string
	for _, k := range keys {
		if k.ID == keyID {
			matches = []string{k.ID}
			break
		}
		if len(keyID) >= 8 && strings.HasPrefix(k.ID, keyID) {
			matches = append(matches, k.ID)
		}
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("key not found: %s", keyID)
	case 1:
	default:
		return fmt.Errorf("key ID %s is ambiguous, use more characters", keyID)
	}

	if err := store.RevokeAPIKey(ctx, matches[0]); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}
	fmt.Fprintf(w, "API key revoked: %s\n", matches[0])
	return nil
}
