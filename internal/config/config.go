package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pendergraft/contraverify/internal/retry"
)

// ErrMissingSetting is returned when a required setting is not configured.
var ErrMissingSetting = errors.New("missing required setting")

// Config holds all configuration for the CLI and the server
type Config struct {
	Chain      ChainConfig
	Verify     VerifyConfig
	Etherscan  EtherscanConfig
	Sourcify   SourcifyConfig
	Blockscout BlockscoutConfig
	Retry      RetryConfig
	Project    ProjectConfig
	Server     ServerConfig
	Storage    StorageConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	RateLimit  RateLimitConfig
	Security   SecurityConfig
	Proxy      ProxyConfig
}

// ChainConfig holds the RPC endpoint used to resolve chain context
type ChainConfig struct {
	RPCURL string
}

// VerifyConfig holds orchestration settings
type VerifyConfig struct {
	Mode           string   // "all" or "first-success"
	Verifiers      []string // backend names in the order they are tried
	ActionContract string   // empty disables action contract verification
	LibraryName    string
	DiagnosticsDir string
	Precheck       bool
}

// EtherscanConfig holds Etherscan API settings
type EtherscanConfig struct {
	APIKey           string
	APIURL           string
	RateLimitRPS     float64
	PollAttempts     int
	PollInterval     time.Duration
	NotFoundAttempts int
	NotFoundInterval time.Duration
}

// SourcifyConfig holds Sourcify settings
type SourcifyConfig struct {
	ServerURL string
	Chains    []string // chains for the forge-driven Sourcify verifier
}

// BlockscoutConfig holds settings for the forge-driven Blockscout verifier
type BlockscoutConfig struct {
	URL    string // API endpoint passed to --verifier-url
	Chains []string
}

// RetryConfig holds the backoff policy for remote calls
type RetryConfig struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
}

// ProjectConfig locates the Foundry project
type ProjectConfig struct {
	Dir string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "", "sqlite" or "postgres"; empty disables report storage
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string // "none" or "api-key"
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text", "json" or empty to pick by terminal
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled        bool
	PushgatewayURL string
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	CleanupMinutes int
}

// SecurityConfig holds request limits
type SecurityConfig struct {
	MaxBodySizeMB int
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool
	TrustedProxies []string // CIDR notation
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Chain: ChainConfig{
			RPCURL: getEnv("ETH_RPC_URL", ""),
		},
		Verify: VerifyConfig{
			Mode:           getEnv("VERIFY_MODE", "all"),
			Verifiers:      getEnvStringSlice("VERIFIERS", []string{"etherscan", "sourcify"}),
			ActionContract: getEnv("ACTION_CONTRACT", "DssSpellAction"),
			LibraryName:    getEnv("LIBRARY_NAME", "DssExecLib"),
			DiagnosticsDir: getEnv("DIAGNOSTICS_DIR", "."),
			Precheck:       getEnvBool("VERIFY_PRECHECK", false),
		},
		Etherscan: EtherscanConfig{
			APIKey:           getEnv("ETHERSCAN_API_KEY", ""),
			APIURL:           getEnv("ETHERSCAN_API_URL", "https://api.etherscan.io/v2/api"),
			RateLimitRPS:     getEnvFloat("ETHERSCAN_RATE_LIMIT_RPS", 5),
			PollAttempts:     getEnvInt("POLL_ATTEMPTS", 20),
			PollInterval:     getEnvDuration("POLL_INTERVAL", 15*time.Second),
			NotFoundAttempts: getEnvInt("NOT_FOUND_ATTEMPTS", 5),
			NotFoundInterval: getEnvDuration("NOT_FOUND_INTERVAL", 15*time.Second),
		},
		Sourcify: SourcifyConfig{
			ServerURL: getEnv("SOURCIFY_SERVER_URL", "https://sourcify.dev/server"),
			Chains:    getEnvStringSlice("SOURCIFY_FORGE_CHAINS", []string{"1"}),
		},
		Blockscout: BlockscoutConfig{
			URL:    getEnv("BLOCKSCOUT_URL", ""),
			Chains: getEnvStringSlice("BLOCKSCOUT_CHAINS", []string{"1"}),
		},
		Retry: RetryConfig{
			MaxRetries:     getEnvInt("RETRY_MAX", retry.DefaultMaxRetries),
			BaseDelay:      getEnvDuration("RETRY_BASE_DELAY", retry.DefaultBaseDelay),
			MaxDelay:       getEnvDuration("RETRY_MAX_DELAY", retry.DefaultMaxDelay),
			BackoffFactor:  getEnvFloat("RETRY_FACTOR", retry.DefaultBackoffFactor),
			JitterFraction: getEnvFloat("RETRY_JITTER", retry.DefaultJitterFraction),
		},
		Project: ProjectConfig{
			Dir: getEnv("PROJECT_DIR", "."),
		},
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 960), // above RequestTimeout
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 900),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", ""),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/contraverify.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "api-key"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		Metrics: MetricsConfig{
			Enabled:        getEnvBool("METRICS_ENABLED", false),
			PushgatewayURL: getEnv("METRICS_PUSHGATEWAY_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 30),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 10),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 1),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have a fixed set of values.
func (c *Config) Validate() error {
	switch c.Verify.Mode {
	case "all", "first-success":
	default:
		return fmt.Errorf("VERIFY_MODE must be all or first-success, got %q", c.Verify.Mode)
	}
	switch c.Storage.Type {
	case "", "sqlite":
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required for postgres storage", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX must not be negative, got %d", c.Retry.MaxRetries)
	}
	return nil
}

// ValidateForVerify checks the settings a verification run needs.
func (c *Config) ValidateForVerify() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("%w: ETH_RPC_URL (get a public one at https://chainlist.org/)", ErrMissingSetting)
	}
	if len(c.Verify.Verifiers) == 0 {
		return fmt.Errorf("%w: VERIFIERS", ErrMissingSetting)
	}
	return nil
}

// Policy returns the retry policy described by the configuration.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:     r.MaxRetries,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		BackoffFactor:  r.BackoffFactor,
		JitterFraction: r.JitterFraction,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
