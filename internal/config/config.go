// Package config loads the control plane configuration. Values come from
// built-in defaults, then an optional TOML file, then CLAWPAY_* environment
// variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the ClawPay control plane.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Auth      AuthConfig      `toml:"auth"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Community CommunityConfig `toml:"community"`
	LLM       LLMConfig       `toml:"llm"`
	Social    SocialConfig    `toml:"social"`
	Chain     ChainConfig     `toml:"chain"`
	Notify    NotifyConfig    `toml:"notify"`
	Retention RetentionConfig `toml:"retention"`
}

type ServerConfig struct {
	Port    int    `toml:"port"`
	Version string `toml:"version"`
	// PublicURL is the dashboard base used in claim links.
	PublicURL   string   `toml:"public_url"`
	CORSOrigins []string `toml:"cors_origins"`
}

type DatabaseConfig struct {
	// URL selects PostgreSQL. Empty means the in-memory store.
	URL            string `toml:"url"`
	MaxConnections int    `toml:"max_connections"`
	// DataDir holds the memory store snapshot. Empty disables snapshots.
	DataDir string `toml:"data_dir"`
}

type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

type AuthConfig struct {
	AdminKeys []string `toml:"admin_keys"`
	// DefaultQuota applies to credentials without their own rate limit.
	DefaultQuota int           `toml:"default_quota"`
	Window       time.Duration `toml:"window"`
	// PublicQuota limits unauthenticated routes per client IP.
	PublicQuota int `toml:"public_quota"`
	// RedisURL shares limiter windows across replicas when set.
	RedisURL string `toml:"redis_url"`
}

type DiscoveryConfig struct {
	Enabled        bool          `toml:"enabled"`
	Interval       time.Duration `toml:"interval"`
	CycleTimeout   time.Duration `toml:"cycle_timeout"`
	Query          string        `toml:"query"`
	MaxRewards     int           `toml:"max_rewards_per_cycle"`
	CooldownHours  int           `toml:"cooldown_hours"`
	MinScore       int           `toml:"min_score"`
	SampleSize     int           `toml:"sample_size"`
	SelfHandle     string        `toml:"self_handle"`
	TreasuryHandle string        `toml:"treasury_handle"`
	TreasuryWallet string        `toml:"treasury_wallet"`
}

// Cooldown returns CooldownHours as a duration.
func (d DiscoveryConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownHours) * time.Hour
}

type CommunityConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Feed      string `toml:"feed"`
	MinLength int    `toml:"min_length"`
}

type LLMConfig struct {
	APIKey  string        `toml:"api_key"`
	BaseURL string        `toml:"base_url"`
	Model   string        `toml:"model"`
	Timeout time.Duration `toml:"timeout"`
}

type SocialConfig struct {
	BaseURL     string `toml:"base_url"`
	BearerToken string `toml:"bearer_token"`
}

type ChainConfig struct {
	// Mode is "sim" or "relayer".
	Mode          string        `toml:"mode"`
	RelayerURL    string        `toml:"relayer_url"`
	RelayerKey    string        `toml:"relayer_key"`
	Token         string        `toml:"token"`
	TokenDecimals int           `toml:"token_decimals"`
	Timeout       time.Duration `toml:"timeout"`
	LeaseTTL      time.Duration `toml:"lease_ttl"`
	// SimFunding seeds the treasury in sim mode, in whole tokens.
	SimFunding int64 `toml:"sim_funding"`
}

type NotifyConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Secret     string `toml:"secret"`
}

type RetentionConfig struct {
	Interval           time.Duration `toml:"interval"`
	AuditRetentionDays int           `toml:"audit_retention_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			Version:     "0.1.0",
			PublicURL:   "http://localhost:3000",
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			MaxConnections: 10,
			DataDir:        "data",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "clawpay-control-plane",
		},
		Auth: AuthConfig{
			DefaultQuota: 60,
			Window:       time.Minute,
			PublicQuota:  30,
		},
		Discovery: DiscoveryConfig{
			Enabled:        true,
			Interval:       30 * time.Minute,
			CycleTimeout:   10 * time.Minute,
			MaxRewards:     5,
			CooldownHours:  24,
			MinScore:       40,
			SampleSize:     10,
			SelfHandle:     "clawpay",
			TreasuryHandle: "clawpay",
		},
		Community: CommunityConfig{
			Feed:      "general",
			MinLength: 80,
		},
		LLM: LLMConfig{
			Timeout: 15 * time.Second,
		},
		Social: SocialConfig{
			BaseURL: "https://api.twitter.com",
		},
		Chain: ChainConfig{
			Mode:          "sim",
			TokenDecimals: 6,
			Timeout:       30 * time.Second,
			LeaseTTL:      2 * time.Minute,
			SimFunding:    1000,
		},
		Retention: RetentionConfig{
			Interval:           time.Hour,
			AuditRetentionDays: 30,
		},
	}
}

// Load builds the configuration. path names a TOML file; when empty the
// CLAWPAY_CONFIG variable is used. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CLAWPAY_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Chain.Mode {
	case "sim":
	case "relayer":
		if c.Chain.RelayerURL == "" {
			return fmt.Errorf("config: chain.relayer_url is required in relayer mode")
		}
	default:
		return fmt.Errorf("config: unknown chain.mode %q", c.Chain.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 36 {
		return fmt.Errorf("config: invalid chain.token_decimals %d", c.Chain.TokenDecimals)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Server.Port = envInt("CLAWPAY_PORT", c.Server.Port)
	c.Server.Version = envStr("CLAWPAY_VERSION", c.Server.Version)
	c.Server.PublicURL = envStr("CLAWPAY_PUBLIC_URL", c.Server.PublicURL)
	c.Server.CORSOrigins = envList("CLAWPAY_CORS_ORIGINS", c.Server.CORSOrigins)

	c.Database.URL = envStr("DATABASE_URL", c.Database.URL)
	c.Database.MaxConnections = envInt("DATABASE_MAX_CONNECTIONS", c.Database.MaxConnections)
	c.Database.DataDir = envStr("CLAWPAY_DATA_DIR", c.Database.DataDir)

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)

	c.Auth.AdminKeys = envList("CLAWPAY_ADMIN_KEYS", c.Auth.AdminKeys)
	c.Auth.DefaultQuota = envInt("CLAWPAY_RATE_LIMIT", c.Auth.DefaultQuota)
	c.Auth.Window = envDur("CLAWPAY_RATE_WINDOW", c.Auth.Window)
	c.Auth.PublicQuota = envInt("CLAWPAY_PUBLIC_RATE_LIMIT", c.Auth.PublicQuota)
	c.Auth.RedisURL = envStr("REDIS_URL", c.Auth.RedisURL)

	c.Discovery.Enabled = envBool("CLAWPAY_DISCOVERY_ENABLED", c.Discovery.Enabled)
	c.Discovery.Interval = envDur("CLAWPAY_DISCOVERY_INTERVAL", c.Discovery.Interval)
	c.Discovery.CycleTimeout = envDur("CLAWPAY_CYCLE_TIMEOUT", c.Discovery.CycleTimeout)
	c.Discovery.Query = envStr("CLAWPAY_DISCOVERY_QUERY", c.Discovery.Query)
	c.Discovery.MaxRewards = envInt("CLAWPAY_MAX_REWARDS_PER_CYCLE", c.Discovery.MaxRewards)
	c.Discovery.CooldownHours = envInt("CLAWPAY_COOLDOWN_HOURS", c.Discovery.CooldownHours)
	c.Discovery.MinScore = envInt("CLAWPAY_MIN_SCORE", c.Discovery.MinScore)
	c.Discovery.SampleSize = envInt("CLAWPAY_SAMPLE_SIZE", c.Discovery.SampleSize)
	c.Discovery.SelfHandle = envStr("CLAWPAY_SELF_HANDLE", c.Discovery.SelfHandle)
	c.Discovery.TreasuryHandle = envStr("CLAWPAY_TREASURY_HANDLE", c.Discovery.TreasuryHandle)
	c.Discovery.TreasuryWallet = envStr("CLAWPAY_TREASURY_WALLET", c.Discovery.TreasuryWallet)

	c.Community.Enabled = envBool("CLAWPAY_COMMUNITY_ENABLED", c.Community.Enabled)
	c.Community.BaseURL = envStr("CLAWPAY_COMMUNITY_URL", c.Community.BaseURL)
	c.Community.APIKey = envStr("CLAWPAY_COMMUNITY_API_KEY", c.Community.APIKey)
	c.Community.Feed = envStr("CLAWPAY_COMMUNITY_FEED", c.Community.Feed)
	c.Community.MinLength = envInt("CLAWPAY_COMMUNITY_MIN_LENGTH", c.Community.MinLength)

	c.LLM.APIKey = envStr("ANTHROPIC_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = envStr("CLAWPAY_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = envStr("CLAWPAY_LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout = envDur("CLAWPAY_LLM_TIMEOUT", c.LLM.Timeout)

	c.Social.BaseURL = envStr("CLAWPAY_SOCIAL_URL", c.Social.BaseURL)
	c.Social.BearerToken = envStr("CLAWPAY_SOCIAL_BEARER_TOKEN", c.Social.BearerToken)

	c.Chain.Mode = envStr("CLAWPAY_CHAIN_MODE", c.Chain.Mode)
	c.Chain.RelayerURL = envStr("CLAWPAY_RELAYER_URL", c.Chain.RelayerURL)
	c.Chain.RelayerKey = envStr("CLAWPAY_RELAYER_KEY", c.Chain.RelayerKey)
	c.Chain.Token = envStr("CLAWPAY_TOKEN_ADDRESS", c.Chain.Token)
	c.Chain.TokenDecimals = envInt("CLAWPAY_TOKEN_DECIMALS", c.Chain.TokenDecimals)
	c.Chain.Timeout = envDur("CLAWPAY_CHAIN_TIMEOUT", c.Chain.Timeout)
	c.Chain.LeaseTTL = envDur("CLAWPAY_LEASE_TTL", c.Chain.LeaseTTL)

	c.Notify.WebhookURL = envStr("CLAWPAY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.Secret = envStr("CLAWPAY_WEBHOOK_SECRET", c.Notify.Secret)

	c.Retention.Interval = envDur("CLAWPAY_RETENTION_INTERVAL", c.Retention.Interval)
	c.Retention.AuditRetentionDays = envInt("CLAWPAY_AUDIT_RETENTION_DAYS", c.Retention.AuditRetentionDays)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
