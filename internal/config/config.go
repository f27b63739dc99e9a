package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the service
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Chain         ChainConfig
	Custody       CustodyConfig
	Notifications NotificationConfig
	Worker        WorkerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Driver        string // "postgres" or "memory"
	Host          string
	Port          int
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationPath string
}

// ChainConfig holds configuration for the EVM chain transfers settle on
type ChainConfig struct {
	ChainID     string
	Name        string
	RPCEndpoint string
	ExplorerURL string // tx URL prefix, e.g. https://sepolia.arbiscan.io/tx/

	// Verification policy
	VerifyAttempts   int
	VerifyInterval   time.Duration
	ConfirmTimeout   time.Duration
	MinConfirmations uint64
	AmountTolerance  string // fraction of the expected amount that must arrive, e.g. "0.99"

	// Fee policy for outgoing transfers
	FeeMultiplier    int64 // multiplier applied to the suggested gas price
	GasBufferPercent uint64

	// Static estimate returned when fee estimation RPCs fail
	FallbackGasLimit     uint64
	FallbackGasPriceGwei string
	FallbackCostETH      string
}

// ContactPolicy decides what RecordContactChannel does for unknown handles
type ContactPolicy string

const (
	ContactPolicyCreate ContactPolicy = "create"
	ContactPolicyIgnore ContactPolicy = "ignore"
)

// CustodyConfig holds custodial key handling configuration
type CustodyConfig struct {
	KeyEncryptionSecret string // hex-encoded 32 bytes; empty stores keys unsealed
	ContactPolicy       ContactPolicy
}

// NotificationConfig holds notification publisher configuration
type NotificationConfig struct {
	AMQPURL     string
	Exchange    string
	RoutingKey  string
	FrontendURL string
}

// WorkerConfig holds background re-verification configuration
type WorkerConfig struct {
	Enabled         bool
	PollInterval    time.Duration
	MinAge          time.Duration // pending transfers touched more recently are left to the request path
	MaxRetries      int
	BatchSize       int
	ReverifyTimeout time.Duration // bound on one re-verification
}

// VerifyBudget is the longest a single verification can take: every
// transaction lookup plus the wait for confirmations
func (c *ChainConfig) VerifyBudget() time.Duration {
	return time.Duration(c.VerifyAttempts)*c.VerifyInterval + c.ConfirmTimeout
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 3001),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvInt("DB_PORT", 5432),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", "postgres"),
			DBName:        getEnv("DB_NAME", "pingpay"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			MigrationPath: getEnv("MIGRATION_PATH", "internal/database/migrations/001_schema.sql"),
		},
		Chain: ChainConfig{
			ChainID:              getEnv("ETH_CHAIN_ID", "421614"),
			Name:                 getEnv("ETH_CHAIN_NAME", "Arbitrum Sepolia"),
			RPCEndpoint:          getEnv("ETH_RPC_ENDPOINT", ""),
			ExplorerURL:          getEnv("ETH_EXPLORER_URL", "https://sepolia.arbiscan.io/tx/"),
			VerifyAttempts:       getEnvInt("VERIFY_ATTEMPTS", 10),
			VerifyInterval:       getEnvDuration("VERIFY_INTERVAL", 2*time.Second),
			ConfirmTimeout:       getEnvDuration("CONFIRM_TIMEOUT", 2*time.Minute),
			MinConfirmations:     uint64(getEnvInt("MIN_CONFIRMATIONS", 1)),
			AmountTolerance:      getEnv("AMOUNT_TOLERANCE", "0.99"),
			FeeMultiplier:        int64(getEnvInt("FEE_MULTIPLIER", 2)),
			GasBufferPercent:     uint64(getEnvInt("GAS_BUFFER_PERCENT", 20)),
			FallbackGasLimit:     uint64(getEnvInt("FALLBACK_GAS_LIMIT", 21000)),
			FallbackGasPriceGwei: getEnv("FALLBACK_GAS_PRICE_GWEI", "0.1"),
			FallbackCostETH:      getEnv("FALLBACK_GAS_COST_ETH", "0.00001"),
		},
		Custody: CustodyConfig{
			KeyEncryptionSecret: getEnv("KEY_ENCRYPTION_SECRET", ""),
			ContactPolicy:       ContactPolicy(strings.ToLower(getEnv("CONTACT_POLICY", string(ContactPolicyCreate)))),
		},
		Notifications: NotificationConfig{
			AMQPURL:     getEnv("AMQP_URL", ""),
			Exchange:    getEnv("NOTIFY_EXCHANGE", "pingpay_events"),
			RoutingKey:  getEnv("NOTIFY_ROUTING_KEY", "transfer.confirmed"),
			FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		},
		Worker: WorkerConfig{
			Enabled:      getEnvBool("WORKER_ENABLED", true),
			PollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 30*time.Second),
			MaxRetries:   getEnvInt("WORKER_MAX_RETRIES", 5),
			BatchSize:    getEnvInt("WORKER_BATCH_SIZE", 50),
		},
	}

	// Both default to a margin over one request's verification budget
	budget := cfg.Chain.VerifyBudget()
	cfg.Worker.MinAge = getEnvDuration("WORKER_MIN_AGE", budget+time.Minute)
	cfg.Worker.ReverifyTimeout = budget + 30*time.Second

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("ETH_RPC_ENDPOINT is required")
	}

	if c.Chain.VerifyAttempts <= 0 {
		return fmt.Errorf("verify attempts must be positive: %d", c.Chain.VerifyAttempts)
	}
	if c.Chain.VerifyInterval <= 0 {
		return fmt.Errorf("verify interval must be positive")
	}
	if c.Chain.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	if c.Chain.MinConfirmations == 0 {
		return fmt.Errorf("at least one confirmation is required")
	}

	tolerance, err := decimal.NewFromString(c.Chain.AmountTolerance)
	if err != nil {
		return fmt.Errorf("invalid amount tolerance %q: %w", c.Chain.AmountTolerance, err)
	}
	if tolerance.LessThanOrEqual(decimal.Zero) || tolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("amount tolerance must be in (0, 1]: %s", c.Chain.AmountTolerance)
	}

	// Fee spikes between estimation and inclusion need headroom
	if c.Chain.FeeMultiplier < 2 {
		return fmt.Errorf("fee multiplier must be at least 2: %d", c.Chain.FeeMultiplier)
	}
	if c.Chain.GasBufferPercent < 20 {
		return fmt.Errorf("gas buffer must be at least 20%%: %d", c.Chain.GasBufferPercent)
	}

	if c.Custody.KeyEncryptionSecret != "" {
		secret, err := hex.DecodeString(strings.TrimPrefix(c.Custody.KeyEncryptionSecret, "0x"))
		if err != nil || len(secret) != 32 {
			return fmt.Errorf("KEY_ENCRYPTION_SECRET must be 32 hex-encoded bytes")
		}
	}

	switch c.Custody.ContactPolicy {
	case ContactPolicyCreate, ContactPolicyIgnore:
	default:
		return fmt.Errorf("unsupported contact policy: %q", c.Custody.ContactPolicy)
	}

	if c.Worker.Enabled {
		if c.Worker.PollInterval <= 0 {
			return fmt.Errorf("worker poll interval must be positive")
		}
		if c.Worker.MaxRetries <= 0 {
			return fmt.Errorf("worker max retries must be positive")
		}
		// A transfer still being verified by its confirm request must not be picked up
		if budget := c.Chain.VerifyBudget(); c.Worker.MinAge < budget {
			return fmt.Errorf("worker min age %s is shorter than the verification budget %s", c.Worker.MinAge, budget)
		}
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s") or bare seconds ("2")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
