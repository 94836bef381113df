package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

// MasterKeyEnv names the variable holding the credential encryption key.
const MasterKeyEnv = "BLAZEALERT_MASTER_KEY"

// Config represents the blazealert configuration.
type Config struct {
	Database    DatabaseConfig   `yaml:"database"`
	Provider    string           `yaml:"provider"`     // alert provider name (default: default)
	FrontendURL string           `yaml:"frontend_url"` // base for deep links
	Definitions string           `yaml:"definitions"`  // definitions file applied on serve start
	Engine      EngineConfig     `yaml:"engine"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Silence     SilenceConfig    `yaml:"silence"`
	Anomaly     AnomalyConfig    `yaml:"anomaly"`
	Notifier    NotifierConfig   `yaml:"notifier"`
	HTTP        HTTPConfig       `yaml:"http"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Log         logging.Config   `yaml:"log"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: ./data/blazealert.db
}

// EngineConfig contains evaluation settings.
type EngineConfig struct {
	Concurrency      int           `yaml:"concurrency"`       // default: 16
	SourceTimeout    time.Duration `yaml:"source_timeout"`    // default: 30s
	Tick             time.Duration `yaml:"tick"`              // default: 1m
	HistoryRetention time.Duration `yaml:"history_retention"` // default: 0, history is kept
}

// ClickHouseConfig contains client settings shared by every connection.
type ClickHouseConfig struct {
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	Compression  bool          `yaml:"compression"`
}

// SilenceConfig contains silence token settings.
type SilenceConfig struct {
	Secret   string        `yaml:"secret"`    // HMAC secret; empty disables tokens
	TokenTTL time.Duration `yaml:"token_ttl"` // default: 1h
	Duration time.Duration `yaml:"duration"`  // default: 30m
}

// AnomalyConfig selects the anomaly scorer.
type AnomalyConfig struct {
	Scorer  string        `yaml:"scorer"` // local or http (default: local)
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"` // default: 10s
}

// NotifierConfig contains webhook delivery settings.
type NotifierConfig struct {
	RateLimit    int           `yaml:"rate_limit"` // per webhook per minute, 0 = unlimited
	BlockedHosts []string      `yaml:"blocked_hosts"`
	Timeout      time.Duration `yaml:"timeout"` // default: 10s
}

// HTTPConfig contains silence API settings.
type HTTPConfig struct {
	Address        string `yaml:"address"`    // default: :8080
	APIToken       string `yaml:"api_token"`  // bearer token for management routes
	PublicURL      string `yaml:"public_url"` // externally reachable base for silence links
	RateLimitPerIP int    `yaml:"rate_limit_per_ip"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Address string `yaml:"address"` // default: :9090, "-" disables
}

// LoadConfig loads configuration from a YAML file, expanding ${VAR} and
// ${VAR:-default} references first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses and validates configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(config.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "./data/blazealert.db"
	}
	if c.Provider == "" {
		c.Provider = "default"
	}
	if c.Engine.Concurrency == 0 {
		c.Engine.Concurrency = 16
	}
	if c.Engine.SourceTimeout == 0 {
		c.Engine.SourceTimeout = 30 * time.Second
	}
	if c.Engine.Tick == 0 {
		c.Engine.Tick = time.Minute
	}
	if c.Silence.TokenTTL == 0 {
		c.Silence.TokenTTL = time.Hour
	}
	if c.Silence.Duration == 0 {
		c.Silence.Duration = 30 * time.Minute
	}
	if c.Anomaly.Scorer == "" {
		c.Anomaly.Scorer = "local"
	}
	if c.Anomaly.Timeout == 0 {
		c.Anomaly.Timeout = 10 * time.Second
	}
	if c.Notifier.Timeout == 0 {
		c.Notifier.Timeout = 10 * time.Second
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.Concurrency < 0 {
		return fmt.Errorf("engine.concurrency must not be negative")
	}
	if c.Engine.Tick < time.Second {
		return fmt.Errorf("engine.tick must be at least 1s")
	}
	if c.Engine.HistoryRetention < 0 {
		return fmt.Errorf("engine.history_retention must not be negative")
	}
	switch c.Anomaly.Scorer {
	case "local":
	case "http":
		if c.Anomaly.URL == "" {
			return fmt.Errorf("anomaly.url is required when anomaly.scorer is http")
		}
	default:
		return fmt.Errorf("anomaly.scorer must be local or http, got %q", c.Anomaly.Scorer)
	}
	if c.Notifier.RateLimit < 0 {
		return fmt.Errorf("notifier.rate_limit must not be negative")
	}
	if c.HTTP.PublicURL != "" && !strings.HasPrefix(c.HTTP.PublicURL, "http://") && !strings.HasPrefix(c.HTTP.PublicURL, "https://") {
		return fmt.Errorf("http.public_url must be an http(s) URL")
	}
	if c.Silence.Secret != "" && len(c.Silence.Secret) < 32 {
		return fmt.Errorf("silence.secret must be at least 32 characters")
	}
	return nil
}

// masterKey reads the credential encryption key from the environment.
func masterKey() ([]byte, error) {
	key := os.Getenv(MasterKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s environment variable is required", MasterKeyEnv)
	}
	return []byte(key), nil
}

// loadConfig loads the --config file, or defaults when none is given.
func loadConfig() (*Config, error) {
	if configFile == "" {
		return DefaultConfig(), nil
	}
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
