// Package config loads and validates Relayer and Indexer configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ChainConfig binds one EVM chain the service watches or submits to.
type ChainConfig struct {
	Name          string `yaml:"name" validate:"required"`
	ChainID       uint64 `yaml:"chain_id" validate:"required"`
	RPCURL        string `yaml:"rpc_url" validate:"required,url"`
	BridgeAddress string `yaml:"bridge_address" validate:"required"`
	StartBlock    uint64 `yaml:"start_block"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required" default:"localhost"`
	Port     int    `yaml:"port" validate:"required" default:"5432"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" default:"disable"`
}

// GetConnectionString returns a PostgreSQL connection string for database/sql + lib/pq.
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ServerConfig contains HTTP server settings for the Query Surface.
type ServerConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"8080"`
}

// MonitoringConfig contains Prometheus exposition settings.
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains zap logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"json"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// ShutdownConfig bounds the graceful shutdown grace period.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// WatcherConfig controls the per-chain Chain Watcher loop (§4.2).
type WatcherConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" default:"12s"`
	MinConfirmations uint64        `yaml:"min_confirmations" default:"12"`
	BatchSize        uint64        `yaml:"batch_size" default:"1000"`
	MaxBackoff       time.Duration `yaml:"max_backoff" default:"24s"`
}

// GasConfig controls target-chain transaction submission gas discipline (§4.4).
type GasConfig struct {
	MaxGasPriceGwei    uint64  `yaml:"max_gas_price_gwei" default:"100"`
	GasLimitMultiplier float64 `yaml:"gas_limit_multiplier" default:"1.2"`
}

// ReconciliationConfig controls the relaying-row reconciliation pass (§7).
type ReconciliationConfig struct {
	Interval time.Duration `yaml:"interval" default:"5m"`
}

// SubmitMode selects how the Relayer finalizes a validated withdrawal (§9).
type SubmitMode string

const (
	// SubmitModeDirect submits the withdraw transaction directly.
	SubmitModeDirect SubmitMode = "direct"
	// SubmitModeSignatureOnly stops after persisting a ValidatorSignature,
	// leaving submission to an out-of-band withdrawal-claiming UI.
	SubmitModeSignatureOnly SubmitMode = "signature-only"
)

// RelayerConfig is the top-level configuration for the Relayer process.
type RelayerConfig struct {
	Chains              []ChainConfig        `yaml:"chains" validate:"required,min=2,dive"`
	ValidatorPrivateKey string               `yaml:"validator_private_key" validate:"required"`
	SubmitMode          SubmitMode           `yaml:"submit_mode" default:"direct"`
	Server              ServerConfig         `yaml:"server"`
	Database            DatabaseConfig       `yaml:"database"`
	Watcher             WatcherConfig        `yaml:"watcher"`
	Gas                 GasConfig            `yaml:"gas"`
	Reconciliation      ReconciliationConfig `yaml:"reconciliation"`
	Monitoring          MonitoringConfig     `yaml:"monitoring"`
	Logging             LoggingConfig        `yaml:"logging"`
	Shutdown            ShutdownConfig       `yaml:"shutdown"`
}

// IndexerConfig is the top-level configuration for the Indexer process.
type IndexerConfig struct {
	Chains     []ChainConfig    `yaml:"chains" validate:"required,min=1,dive"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
}

var validate = validator.New()

// LoadRelayer reads, defaults, env-overrides and validates the Relayer config.
func LoadRelayer(path string) (*RelayerConfig, error) {
	var cfg RelayerConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	overrideDatabaseEnv(&cfg.Database, "RELAYER_DATABASE")
	if v := os.Getenv("RELAYER_VALIDATOR_PRIVATE_KEY"); v != "" {
		cfg.ValidatorPrivateKey = v
	}
	if v := os.Getenv("RELAYER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("relayer config validation failed: %w", err)
	}
	if err := validateDistinctChainPairs(cfg.Chains); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadIndexer reads, defaults, env-overrides and validates the Indexer config.
func LoadIndexer(path string) (*IndexerConfig, error) {
	var cfg IndexerConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	overrideDatabaseEnv(&cfg.Database, "INDEXER_DATABASE")
	if v := os.Getenv("INDEXER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("indexer config validation failed: %w", err)
	}
	return &cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func overrideDatabaseEnv(db *DatabaseConfig, prefix string) {
	if v := os.Getenv(prefix + "_HOST"); v != "" {
		db.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			db.Port = port
		}
	}
	if v := os.Getenv(prefix + "_USER"); v != "" {
		db.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		db.Password = v
	}
	if v := os.Getenv(prefix + "_NAME"); v != "" {
		db.Database = v
	}
}

// validateDistinctChainPairs enforces the Relayer's "at least two chains with
// distinct (sourceChainId, targetChainId) pairings" requirement (§6.5).
func validateDistinctChainPairs(chains []ChainConfig) error {
	seen := make(map[uint64]bool, len(chains))
	for _, c := range chains {
		if seen[c.ChainID] {
			return fmt.Errorf("duplicate chain_id %d in relayer chains", c.ChainID)
		}
		seen[c.ChainID] = true
	}
	if len(seen) < 2 {
		return fmt.Errorf("relayer requires at least two distinct chains")
	}
	return nil
}
