package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/joho/godotenv"
)

// Upload backends.
const (
	UploadBackendFilesystem = "filesystem"
	UploadBackendIPFS       = "ipfs"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Ledger configuration
	Network              string
	RPCURL               string // optional override of the network's public endpoint
	Commitment           string
	ConfirmTimeout       time.Duration
	ConfirmPollInterval  time.Duration
	LamportsPerSignature uint64
	SkipPreflight        bool

	// Identity configuration: names of the environment variables holding secrets,
	// never the secrets themselves.
	SecretKeyVar      string
	SecretMnemonicVar string

	// Upload configuration
	UploadBackend           string
	UploadDir               string
	UploadBaseURL           string
	BlockfrostIPFSProjectID string
	IPFSGatewayURL          string

	// Optional journal and receipts
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Metrics endpoint; empty disables it
	MetricsAddr string

	// HTTP API listen address
	ServerAddr string
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every missing or invalid setting.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Ledger configuration
	cfg.Network = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	cfg.RPCURL = os.Getenv("SOLANA_RPC_URL")
	cfg.Commitment = getEnvOrDefault("COMMITMENT", "confirmed")

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	fee, err := parseUint("LAMPORTS_PER_SIGNATURE", solana.DefaultLamportsPerSignature)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LamportsPerSignature = fee
	}

	skip, err := parseBool("SKIP_PREFLIGHT", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SkipPreflight = skip
	}

	// Identity configuration
	cfg.SecretKeyVar = getEnvOrDefault("SECRET_KEY_VAR", "SECRET_KEY")
	cfg.SecretMnemonicVar = os.Getenv("SECRET_MNEMONIC_VAR")

	// Upload configuration
	cfg.UploadBackend = getEnvOrDefault("UPLOAD_BACKEND", UploadBackendFilesystem)
	cfg.UploadDir = getEnvOrDefault("UPLOAD_DIR", "./uploads")
	cfg.UploadBaseURL = getEnvOrDefault("UPLOAD_BASE_URL", "http://localhost:8000")
	cfg.BlockfrostIPFSProjectID = os.Getenv("BLOCKFROST_IPFS_PROJECT_ID")
	cfg.IPFSGatewayURL = getEnvOrDefault("IPFS_GATEWAY_URL", "https://ipfs.blockfrost.dev/ipfs")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "ledgerlab-transfers")

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if _, err := solana.ResolveNetwork(c.Network, c.RPCURL); err != nil {
		errs = append(errs, err)
	}

	if _, err := solana.ParseConfirmationLevel(c.Commitment); err != nil {
		errs = append(errs, err)
	}

	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be positive"))
	}

	if c.ConfirmPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be positive"))
	} else if c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) cannot be greater than CONFIRM_TIMEOUT (%v)",
			c.ConfirmPollInterval, c.ConfirmTimeout))
	}

	if c.SecretKeyVar == "" && c.SecretMnemonicVar == "" {
		errs = append(errs, fmt.Errorf("one of SECRET_KEY_VAR or SECRET_MNEMONIC_VAR is required"))
	}

	switch c.UploadBackend {
	case UploadBackendFilesystem:
		if c.UploadDir == "" {
			errs = append(errs, fmt.Errorf("UPLOAD_DIR is required for the filesystem backend"))
		}
	case UploadBackendIPFS:
		if c.BlockfrostIPFSProjectID == "" {
			errs = append(errs, fmt.Errorf("BLOCKFROST_IPFS_PROJECT_ID is required for the ipfs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPLOAD_BACKEND must be %q or %q, got %q",
			UploadBackendFilesystem, UploadBackendIPFS, c.UploadBackend))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Level returns the parsed confirmation level. Call after Validate.
func (c *Config) Level() solana.ConfirmationLevel {
	level, err := solana.ParseConfirmationLevel(c.Commitment)
	if err != nil {
		return solana.LevelConfirmed
	}
	return level
}

// SubmitterConfig returns the submission tuning derived from c.
func (c *Config) SubmitterConfig() solana.SubmitterConfig {
	return solana.SubmitterConfig{
		ConfirmTimeout:       c.ConfirmTimeout,
		PollInterval:         c.ConfirmPollInterval,
		LamportsPerSignature: c.LamportsPerSignature,
		SkipPreflight:        c.SkipPreflight,
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseUint parses an unsigned integer from an environment variable or uses a default.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}
