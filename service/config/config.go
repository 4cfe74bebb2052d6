package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/instapay/service/evm"
	"github.com/ethereum/go-ethereum/common"
)

// Defaults used when the environment leaves a setting unset.
const (
	DefaultRelayURL       = "http://localhost:3000"
	DefaultTokenAddress   = "0x1B5336949072F738D31Bc650B7723DAcc0bb3659"
	DefaultSpenderAddress = "0x7632C8C0b1C1B35E3F634A7fe642362B561D2c78"
	DefaultApprovalAmount = "1000"
	DefaultTokenDecimals  = 6

	DefaultRelayTimeout        = 30 * time.Second
	DefaultReceiptPollInterval = time.Second
	DefaultNotificationTTL     = 3 * time.Second
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel string

	// Relay configuration
	RelayURL     string
	RelayTimeout time.Duration

	// Chain configuration
	RPCURL              string
	PrivateKey          string // empty means no wallet is available
	ReceiptPollInterval time.Duration

	// Approval configuration
	TokenAddress   common.Address
	SpenderAddress common.Address
	ApprovalAmount string // whole tokens, decimal string
	TokenDecimals  int

	// Notification configuration
	NotificationTTL time.Duration
	NATSURL         string // empty disables NATS fan-out

	// Metrics configuration
	MetricsAddr string // empty disables the /metrics listener
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Relay configuration
	cfg.RelayURL = getEnvOrDefault("RELAY_URL", DefaultRelayURL)

	relayTimeout, err := parseDuration("RELAY_TIMEOUT", DefaultRelayTimeout.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RelayTimeout = relayTimeout
	}

	// Chain configuration
	cfg.RPCURL = os.Getenv("ETH_RPC_URL")
	if cfg.RPCURL == "" {
		errs = append(errs, fmt.Errorf("ETH_RPC_URL is required"))
	}
	cfg.PrivateKey = os.Getenv("WALLET_PRIVATE_KEY")

	pollInterval, err := parseDuration("RECEIPT_POLL_INTERVAL", DefaultReceiptPollInterval.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReceiptPollInterval = pollInterval
	}

	// Approval configuration
	token, err := parseAddress("TOKEN_ADDRESS", DefaultTokenAddress)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenAddress = token
	}

	spender, err := parseAddress("SPENDER_ADDRESS", DefaultSpenderAddress)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SpenderAddress = spender
	}

	cfg.ApprovalAmount = getEnvOrDefault("APPROVAL_AMOUNT", DefaultApprovalAmount)

	decimals, err := parseInt("TOKEN_DECIMALS", DefaultTokenDecimals)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenDecimals = decimals
	}

	// Notification configuration
	ttl, err := parseDuration("NOTIFICATION_TTL", DefaultNotificationTTL.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NotificationTTL = ttl
	}
	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env, and
// after command-line flags have overridden loaded values.
func (c *Config) Validate() error {
	var errs []error

	if c.RelayURL == "" {
		errs = append(errs, fmt.Errorf("RelayURL is required"))
	}

	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPCURL is required"))
	}

	if c.RelayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RelayTimeout must be positive"))
	}

	if c.ReceiptPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ReceiptPollInterval must be positive"))
	}

	if c.NotificationTTL <= 0 {
		errs = append(errs, fmt.Errorf("NotificationTTL must be positive"))
	}

	if c.TokenAddress == (common.Address{}) {
		errs = append(errs, fmt.Errorf("TokenAddress is required"))
	}

	if c.SpenderAddress == (common.Address{}) {
		errs = append(errs, fmt.Errorf("SpenderAddress is required"))
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		errs = append(errs, fmt.Errorf("TokenDecimals must be between 0 and 36"))
	} else if amount, err := c.ApprovalAmountUnits(); err != nil {
		errs = append(errs, fmt.Errorf("ApprovalAmount: %w", err))
	} else if amount.Sign() == 0 {
		errs = append(errs, fmt.Errorf("ApprovalAmount must be greater than zero"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// ApprovalAmountUnits is ApprovalAmount in the token's base units,
// e.g. "1000" at 6 decimals is 1000000000.
func (c *Config) ApprovalAmountUnits() (*big.Int, error) {
	return evm.ParseUnits(c.ApprovalAmount, int32(c.TokenDecimals))
}

// HasWallet reports whether a signing key is configured.
func (c *Config) HasWallet() bool {
	return c.PrivateKey != ""
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

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseAddress parses a hex account address from an environment variable or uses a default.
func parseAddress(key, defaultValue string) (common.Address, error) {
	value := getEnvOrDefault(key, defaultValue)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, value)
	}
	return common.HexToAddress(value), nil
}
