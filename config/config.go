package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Stream   StreamConfig   `yaml:"stream"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Trading  TradingConfig  `yaml:"trading"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ExchangeConfig holds endpoint locations for the target exchange.
type ExchangeConfig struct {
	APIBaseURL string        `yaml:"api_base_url"`
	StreamURL  string        `yaml:"stream_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StreamConfig controls reconnection and resync behaviour.
type StreamConfig struct {
	ReconnectBase   time.Duration `yaml:"reconnect_base"`
	ReconnectMax    time.Duration `yaml:"reconnect_max"`
	MaxRetries      int           `yaml:"max_retries"`
	SnapshotsPerSec float64       `yaml:"snapshots_per_sec"`
}

// ThrottleConfig sets per-class dissemination intervals.
type ThrottleConfig struct {
	BBOInterval    time.Duration `yaml:"bbo_interval"`
	BookInterval   time.Duration `yaml:"book_interval"`
	TradesInterval time.Duration `yaml:"trades_interval"`
	PriceInterval  time.Duration `yaml:"price_interval"`
}

// TradingConfig carries order construction parameters. SlippageMode selects
// between the two deployed market-order pricing variants: "bidask" buffers off
// the best bid/ask, "mark" buffers off the mark price.
type TradingConfig struct {
	TakerFeeRate    string        `yaml:"taker_fee_rate"`
	MakerFeeRate    string        `yaml:"maker_fee_rate"`
	SlippageMode    string        `yaml:"slippage_mode"`
	SlippagePercent string        `yaml:"slippage_percent"`
	SigningBuffer   time.Duration `yaml:"signing_buffer"`
	DefaultExpiry   time.Duration `yaml:"default_expiry"`
	DomainName      string        `yaml:"domain_name"`
	DomainVersion   string        `yaml:"domain_version"`
	DomainChainID   string        `yaml:"domain_chain_id"`
	DomainRevision  string        `yaml:"domain_revision"`
}

// LoggingConfig mirrors logger.Configure arguments.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Credentials holds the authenticated account session loaded from environment.
type Credentials struct {
	APIKey     string
	PublicKey  string
	PrivateKey string
	Vault      uint64
}

// Default returns a configuration with all tunables at their defaults.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			APIBaseURL: "https://api.starknet.extended.exchange/api/v1",
			StreamURL:  "wss://api.starknet.extended.exchange/stream.extended.exchange/v1",
			Timeout:    10 * time.Second,
		},
		Stream: StreamConfig{
			ReconnectBase:   1 * time.Second,
			ReconnectMax:    60 * time.Second,
			MaxRetries:      10,
			SnapshotsPerSec: 2,
		},
		Throttle: ThrottleConfig{
			BBOInterval:    30 * time.Millisecond,
			BookInterval:   500 * time.Millisecond,
			TradesInterval: 500 * time.Millisecond,
			PriceInterval:  100 * time.Millisecond,
		},
		Trading: TradingConfig{
			TakerFeeRate:    "0.0005",
			MakerFeeRate:    "0.0002",
			SlippageMode:    "bidask",
			SlippagePercent: "0.05",
			SigningBuffer:   14 * 24 * time.Hour,
			DefaultExpiry:   1 * time.Hour,
			DomainName:      "Perpetuals",
			DomainVersion:   "v0",
			DomainChainID:   "SN_MAIN",
			DomainRevision:  "1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse YAML: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Trading.SlippageMode {
	case "bidask", "mark":
	default:
		return fmt.Errorf("invalid slippage_mode '%s'", c.Trading.SlippageMode)
	}
	if c.Stream.MaxRetries < 1 {
		return fmt.Errorf("stream max_retries must be positive")
	}
	return nil
}

// LoadCredentials reads account credentials from the environment, consulting a
// .env file first when present.
func LoadCredentials() (*Credentials, error) {
	_ = godotenv.Load()

	apiKey := strings.TrimSpace(os.Getenv("PERPS_API_KEY"))
	publicKey := strings.TrimSpace(os.Getenv("PERPS_PUBLIC_KEY"))
	privateKey := strings.TrimSpace(os.Getenv("PERPS_PRIVATE_KEY"))
	vaultStr := strings.TrimSpace(os.Getenv("PERPS_VAULT"))

	if apiKey == "" || publicKey == "" || privateKey == "" || vaultStr == "" {
		return nil, fmt.Errorf("PERPS_API_KEY, PERPS_PUBLIC_KEY, PERPS_PRIVATE_KEY and PERPS_VAULT must be set")
	}

	vault, err := strconv.ParseUint(vaultStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("PERPS_VAULT invalid: %w", err)
	}

	return &Credentials{
		APIKey:     apiKey,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Vault:      vault,
	}, nil
}
