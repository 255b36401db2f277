package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/config"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"contraverify.toml", "cv.toml"}

// ProjectConfig is the project-level TOML configuration. Environment
// variables override every field.
type ProjectConfig struct {
	SrcDir         string   `toml:"src_dir,omitempty"`
	OutDir         string   `toml:"out_dir,omitempty"`
	ActionContract *string  `toml:"action_contract,omitempty"`
	LibraryName    *string  `toml:"library_name,omitempty"`
	Verifiers      []string `toml:"verifiers,omitempty"`
	Mode           string   `toml:"mode,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a contraverify.toml configuration file in the current directory.

The file records the Foundry layout, the action and library contract names,
and the order in which verifiers are tried.

EXAMPLES:
  contraverify config init
  contraverify config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), "contraverify.toml", force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration a verify run would use, after merging the
project file and the environment. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, project, path, err := loadConfig()
			if err != nil {
				return err
			}
			return runConfigShow(cmd.OutOrStdout(), cfg, project, path)
		},
	}
}

const projectConfigTemplate = `# contraverify project configuration
# Environment variables (VERIFIERS, VERIFY_MODE, ACTION_CONTRACT, ...) override these values.

src_dir = "src"
out_dir = "out"

# Contract whose address is read from the primary contract's action() getter.
# Set to "" to verify only the primary contract.
action_contract = "DssSpellAction"

# Library linked into the contracts; looked up in foundry.toml, then <name>.address
library_name = "DssExecLib"

# Tried in this order. Available: etherscan, sourcify, forge-etherscan, forge-sourcify, forge-blockscout
verifiers = ["etherscan", "sourcify"]

# "all" tries every verifier, "first-success" stops at the first that succeeds
mode = "all"
`

func runConfigInit(w io.Writer, path string, force bool) error {
	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", name)
		}
	}

	if err := os.WriteFile(path, []byte(projectConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n", path)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintf(w, "  1. Edit %s to customize settings\n", path)
	fmt.Fprintln(w, "  2. export ETH_RPC_URL=... ETHERSCAN_API_KEY=...")
	fmt.Fprintln(w, "  3. Run 'contraverify verify <Contract> <address>'")
	return nil
}

// effectiveConfig is what config show prints.
type effectiveConfig struct {
	ProjectFile    string   `yaml:"project_file"`
	ProjectDir     string   `yaml:"project_dir"`
	SrcDir         string   `yaml:"src_dir"`
	OutDir         string   `yaml:"out_dir"`
	RPCURL         string   `yaml:"rpc_url"`
	Mode           string   `yaml:"mode"`
	Verifiers      []string `yaml:"verifiers"`
	ActionContract string   `yaml:"action_contract"`
	LibraryName    string   `yaml:"library_name"`
	EtherscanKey   string   `yaml:"etherscan_api_key"`
	Storage        string   `yaml:"storage"`
	Retry          struct {
		MaxRetries int     `yaml:"max_retries"`
		BaseDelay  string  `yaml:"base_delay"`
		MaxDelay   string  `yaml:"max_delay"`
		Factor     float64 `yaml:"factor"`
		Jitter     float64 `yaml:"jitter"`
	} `yaml:"retry"`
}

func runConfigShow(w io.Writer, cfg *config.Config, project *foundry.Project, path string) error {
	out := effectiveConfig{
		ProjectFile:    path,
		ProjectDir:     project.Dir,
		SrcDir:         project.SrcDir,
		OutDir:         project.OutDir,
		RPCURL:         cfg.Chain.RPCURL,
		Mode:           cfg.Verify.Mode,
		Verifiers:      cfg.Verify.Verifiers,
		ActionContract: cfg.Verify.ActionContract,
		LibraryName:    cfg.Verify.LibraryName,
		EtherscanKey:   "(not set)",
		Storage:        cfg.Storage.Type,
	}
	if out.ProjectFile == "" {
		out.ProjectFile = "(not found)"
	}
	if cfg.Etherscan.APIKey != "" {
		out.EtherscanKey = maskAPIKey(cfg.Etherscan.APIKey)
	}
	if out.Storage == "" {
		out.Storage = "(disabled)"
	}
	out.Retry.MaxRetries = cfg.Retry.MaxRetries
	out.Retry.BaseDelay = cfg.Retry.BaseDelay.String()
	out.Retry.MaxDelay = cfg.Retry.MaxDelay.String()
	out.Retry.Factor = cfg.Retry.BackoffFactor
	out.Retry.Jitter = cfg.Retry.JitterFraction

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// loadConfig loads the environment configuration and merges the project
// file into it. path is empty when no project file was found.
func loadConfig() (*config.Config, *foundry.Project, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading config: %w", err)
	}

	pc, path, err := loadProjectConfig()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, path, err
	}

	project := foundry.NewProject(cfg.Project.Dir)
	if pc != nil {
		applyProjectConfig(cfg, project, pc)
		if err := cfg.Validate(); err != nil {
			return nil, nil, path, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg, project, path, nil
}

// applyProjectConfig copies project file values into cfg for every setting
// whose environment variable is unset.
func applyProjectConfig(cfg *config.Config, project *foundry.Project, pc *ProjectConfig) {
	unset := func(key string) bool {
		_, ok := os.LookupEnv(key)
		return !ok
	}

	if pc.SrcDir != "" {
		project.SrcDir = pc.SrcDir
	}
	if pc.OutDir != "" {
		project.OutDir = pc.OutDir
	}
	if pc.ActionContract != nil && unset("ACTION_CONTRACT") {
		cfg.Verify.ActionContract = *pc.ActionContract
	}
	if pc.LibraryName != nil && unset("LIBRARY_NAME") {
		cfg.Verify.LibraryName = *pc.LibraryName
	}
	if len(pc.Verifiers) > 0 && unset("VERIFIERS") {
		cfg.Verify.Verifiers = pc.Verifiers
	}
	if pc.Mode != "" && unset("VERIFY_MODE") {
		cfg.Verify.Mode = pc.Mode
	}
}

// loadProjectConfig loads the project config from --config or the first
// matching file. It returns os.ErrNotExist when there is none.
func loadProjectConfig() (*ProjectConfig, string, error) {
	if cfgFile != "" {
		pc, err := loadProjectConfigFromPath(cfgFile)
		if errors.Is(err, os.ErrNotExist) {
			return nil, cfgFile, fmt.Errorf("config file %s not found", cfgFile)
		}
		return pc, cfgFile, err
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			pc, err := loadProjectConfigFromPath(name)
			return pc, name, err
		}
	}
	return nil, "", os.ErrNotExist
}

func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	var pc ProjectConfig
	md, err := toml.DecodeFile(path, &pc)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing %s: unknown key %q", path, undecoded[0].String())
	}
	return &pc, nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
