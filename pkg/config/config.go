// Package config provides a reusable loader for this service's environment
// configuration. It is versioned so the daemon and the CLI utility can
// depend on a stable API contract.
//
// Version: v0.2.0
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bsv-watch/address-tracker/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config is the unified, immutable configuration for a tracker process. It
// mirrors the environment variables enumerated in spec.md §6.
type Config struct {
	RPC struct {
		Host     string        `mapstructure:"host"`
		Port     int           `mapstructure:"port"`
		User     string        `mapstructure:"user"`
		Password string        `mapstructure:"password"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"rpc"`

	ZMQ struct {
		RawTxEndpoint     string `mapstructure:"rawtx_endpoint"`
		HashBlockEndpoint string `mapstructure:"hashblock_endpoint"`
	} `mapstructure:"zmq"`

	Store struct {
		MongoURL string `mapstructure:"mongo_url"`
		Database string `mapstructure:"database"`
	} `mapstructure:"store"`

	API struct {
		Port           int    `mapstructure:"port"`
		Host           string `mapstructure:"host"`
		RequireAPIKey  bool   `mapstructure:"require_api_key"`
		APIKey         string `mapstructure:"api_key"`
		MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	} `mapstructure:"api"`

	Network struct {
		BSVNetwork string `mapstructure:"bsv_network"` // mainnet | testnet
	} `mapstructure:"network"`

	Tracker struct {
		AutoArchiveAfter      int           `mapstructure:"auto_archive_after"`
		ConfirmationBatchSize int           `mapstructure:"confirmation_batch_size"`
		RPCConcurrency        int           `mapstructure:"rpc_concurrency"`
		RPCBatchInterval      time.Duration `mapstructure:"rpc_batch_interval"`
		RetryDelay            time.Duration `mapstructure:"retry_delay"`
		MaxRetries            int           `mapstructure:"max_retries"`
		RetryBatchSize        int           `mapstructure:"retry_batch_size"`
		PendingTxLimit        int           `mapstructure:"pending_tx_limit"`
	} `mapstructure:"tracker"`

	Backfill struct {
		MaxHistoryPerAddress int `mapstructure:"max_history_per_address"`
	} `mapstructure:"backfill"`

	Explorer struct {
		BaseURL        string        `mapstructure:"base_url"`
		APIKey         string        `mapstructure:"api_key"`
		RateLimit      time.Duration `mapstructure:"rate_limit"`
		PageSize       int           `mapstructure:"page_size"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"explorer"`

	Tx struct {
		MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	} `mapstructure:"tx"`

	Webhook struct {
		Enabled            bool          `mapstructure:"enabled"`
		BatchSize          int           `mapstructure:"batch_size"`
		ProcessingInterval time.Duration `mapstructure:"processing_interval"`
		Timeout            time.Duration `mapstructure:"timeout"`
		MaxRetries         int           `mapstructure:"max_retries"`
		CleanupDays        int           `mapstructure:"cleanup_days"`
	} `mapstructure:"webhook"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// AppConfig holds the configuration loaded via Load. Components should
// prefer the struct returned by Load; AppConfig exists so the CLI utility
// can reach configuration without threading it through every call when it
// loads it once at startup before any component is constructed.
var AppConfig Config

// Load reads an optional .env file, then the process environment, into a
// Config. It returns an error wrapping ErrConfigInvalid if the result
// violates one of the cross-field invariants spec.md §7 names as fatal.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	if err := preflight(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// preflight runs a handful of typed env reads ahead of viper's unmarshal so
// the most common misconfiguration (API auth turned on with no key) fails
// before the heavier viper/mapstructure path even starts. Kept separate from
// validate, which re-checks the same invariant against the fully bound
// Config once nested keys, defaults, and env overrides have all merged.
func preflight() error {
	requireAPIKey := utils.EnvOrDefault("REQUIRE_API_KEY", "false") == "true"
	apiKey := utils.EnvOrDefault("API_KEY", "")
	if requireAPIKey && apiKey == "" {
		return utils.Wrap(ErrConfigInvalid, "REQUIRE_API_KEY is true but API_KEY is empty")
	}

	if n := utils.EnvOrDefaultInt("RPC_CONCURRENCY", 4); n < 1 {
		return utils.Wrap(ErrConfigInvalid, "RPC_CONCURRENCY must be at least 1")
	}

	if n := utils.EnvOrDefaultUint64("MAX_TX_SIZE_BYTES", 4*1024*1024); n == 0 {
		return utils.Wrap(ErrConfigInvalid, "MAX_TX_SIZE_BYTES must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.host", "127.0.0.1")
	v.SetDefault("rpc.port", 8332)
	v.SetDefault("rpc.timeout", 5*time.Second)

	v.SetDefault("zmq.rawtx_endpoint", "tcp://127.0.0.1:28332")
	v.SetDefault("zmq.hashblock_endpoint", "tcp://127.0.0.1:28333")

	v.SetDefault("store.database", "bsv_tracker")

	v.SetDefault("api.port", 3000)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.require_api_key", false)
	v.SetDefault("api.metrics_enabled", true)

	v.SetDefault("network.bsv_network", "mainnet")

	v.SetDefault("tracker.auto_archive_after", 144)
	v.SetDefault("tracker.confirmation_batch_size", 100)
	v.SetDefault("tracker.rpc_concurrency", 4)
	v.SetDefault("tracker.rpc_batch_interval", 200*time.Millisecond)
	v.SetDefault("tracker.retry_delay", 30*time.Second)
	v.SetDefault("tracker.max_retries", 3)
	v.SetDefault("tracker.retry_batch_size", 10)
	v.SetDefault("tracker.pending_tx_limit", 50)

	v.SetDefault("backfill.max_history_per_address", 500)

	v.SetDefault("explorer.base_url", "https://api.whatsonchain.com/v1/bsv")
	v.SetDefault("explorer.rate_limit", time.Second)
	v.SetDefault("explorer.page_size", 100)
	v.SetDefault("explorer.request_timeout", 10*time.Second)

	v.SetDefault("tx.max_size_bytes", int64(4*1024*1024))

	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.batch_size", 10)
	v.SetDefault("webhook.processing_interval", 5*time.Second)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_retries", 5)
	v.SetDefault("webhook.cleanup_days", 7)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// bindEnv wires the flat environment variable names spec.md §6 specifies
// onto the nested viper keys above; BindEnv keys don't derive automatically
// from names that don't match the struct path.
func bindEnv(v *viper.Viper) {
	binds := map[string]string{
		"rpc.host":                         "SVNODE_RPC_HOST",
		"rpc.port":                         "SVNODE_RPC_PORT",
		"rpc.user":                         "SVNODE_RPC_USER",
		"rpc.password":                     "SVNODE_RPC_PASSWORD",
		"zmq.rawtx_endpoint":               "SVNODE_ZMQ_RAWTX",
		"zmq.hashblock_endpoint":           "SVNODE_ZMQ_HASHBLOCK",
		"store.mongo_url":                  "MONGODB_URL",
		"api.port":                         "API_PORT",
		"api.host":                         "API_HOST",
		"api.require_api_key":              "REQUIRE_API_KEY",
		"api.api_key":                      "API_KEY",
		"network.bsv_network":              "BSV_NETWORK",
		"tracker.auto_archive_after":       "AUTO_ARCHIVE_AFTER",
		"tracker.confirmation_batch_size":  "CONFIRMATION_BATCH_SIZE",
		"tracker.rpc_concurrency":          "RPC_CONCURRENCY",
		"backfill.max_history_per_address": "MAX_HISTORY_PER_ADDRESS",
		"explorer.base_url":                "WOC_BASE_URL",
		"explorer.api_key":                 "WOC_API_KEY",
		"explorer.rate_limit":              "WOC_RATE_LIMIT_MS",
		"tx.max_size_bytes":                "MAX_TX_SIZE_BYTES",
		"webhook.enabled":                  "ENABLE_WEBHOOKS",
		"webhook.batch_size":               "WEBHOOK_BATCH_SIZE",
		"webhook.processing_interval":      "WEBHOOK_PROCESSING_INTERVAL",
		"webhook.timeout":                  "WEBHOOK_TIMEOUT",
		"webhook.max_retries":              "WEBHOOK_MAX_RETRIES",
		"webhook.cleanup_days":             "WEBHOOK_CLEANUP_DAYS",
		"logging.level":                    "LOG_LEVEL",
		"logging.format":                   "LOG_FORMAT",
	}
	for key, env := range binds {
		_ = v.BindEnv(key, env)
	}
}

func (c *Config) validate() error {
	if c.API.RequireAPIKey && c.API.APIKey == "" {
		return utils.Wrap(ErrConfigInvalid, "REQUIRE_API_KEY is true but API_KEY is empty")
	}
	if c.Store.MongoURL == "" {
		return utils.Wrap(ErrConfigInvalid, "MONGODB_URL is required")
	}
	if c.Network.BSVNetwork != "mainnet" && c.Network.BSVNetwork != "testnet" {
		return utils.Wrap(ErrConfigInvalid, fmt.Sprintf("BSV_NETWORK must be mainnet or testnet, got %q", c.Network.BSVNetwork))
	}
	if c.Explorer.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Explorer.BaseURL); err != nil {
			return utils.Wrap(ErrConfigInvalid, "WOC_BASE_URL is invalid")
		}
	}
	if c.Tx.MaxSizeBytes <= 0 {
		return utils.Wrap(ErrConfigInvalid, "MAX_TX_SIZE_BYTES must be positive")
	}
	return nil
}
