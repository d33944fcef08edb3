// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/affiliate-crawler/internal/export"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Search    SearchConfig    `mapstructure:"search"`
	Affiliate AffiliateConfig `mapstructure:"affiliate"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Export    ExportConfig    `mapstructure:"export"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LinkCheck LinkCheckConfig `mapstructure:"linkcheck"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SearchConfig bounds each search and paces page turns.
type SearchConfig struct {
	MaxPages     int           `mapstructure:"max_pages"`
	MaxProducts  int           `mapstructure:"max_products"`
	PageDelayMin time.Duration `mapstructure:"page_delay_min"`
	PageDelayMax time.Duration `mapstructure:"page_delay_max"`
	BaseURL      string        `mapstructure:"base_url"`
	SearchPath   string        `mapstructure:"search_path"`
}

// AffiliateConfig holds the tracking identifier merged into product links.
type AffiliateConfig struct {
	Tag string `mapstructure:"tag"`
}

// GatewayConfig selects the fetch backend and identity pool.
type GatewayConfig struct {
	Backend    string   `mapstructure:"backend"`
	UserAgents []string `mapstructure:"user_agents"`
}

// PacingConfig spaces consecutive requests.
type PacingConfig struct {
	Floor    time.Duration `mapstructure:"floor"`
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// FetchConfig configures the static backend.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the rendered backend.
type HeadlessConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Headless      bool          `mapstructure:"headless"`
	MarkerTimeout time.Duration `mapstructure:"marker_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ExecPath      string        `mapstructure:"exec_path"`
}

// CacheConfig enables the Redis page cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// ExportConfig chooses output formats and where exports land.
type ExportConfig struct {
	Formats   []string `mapstructure:"formats"`
	Output    string   `mapstructure:"output"`
	Backend   string   `mapstructure:"backend"`
	BaseDir   string   `mapstructure:"base_dir"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	Prefix    string   `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LinkCheckConfig tunes the link-health checker.
type LinkCheckConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	CacheSize     int           `mapstructure:"cache_size"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AFFILIATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("search.max_pages", 3)
	v.SetDefault("search.max_products", 50)
	v.SetDefault("search.page_delay_min", "1s")
	v.SetDefault("search.page_delay_max", "2s")
	v.SetDefault("search.base_url", "https://www.amazon.com")
	v.SetDefault("search.search_path", "/s")
	v.SetDefault("affiliate.tag", "cyberheroes-20")
	v.SetDefault("gateway.backend", "static")
	v.SetDefault("gateway.user_agents", []string{})
	v.SetDefault("pacing.floor", "1s")
	v.SetDefault("pacing.min_delay", "1s")
	v.SetDefault("pacing.max_delay", "3s")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.marker_timeout", "10s")
	v.SetDefault("headless.settle_delay", "2s")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "15m")
	v.SetDefault("export.formats", []string{"all"})
	v.SetDefault("export.output", export.DefaultBaseName)
	v.SetDefault("export.backend", "local")
	v.SetDefault("export.base_dir", ".")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "product_records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("linkcheck.timeout", "10s")
	v.SetDefault("linkcheck.rate_per_second", 1.0)
	v.SetDefault("linkcheck.cache_size", 1024)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Search.MaxPages <= 0 {
		return fmt.Errorf("search.max_pages must be > 0")
	}
	if c.Search.MaxProducts <= 0 {
		return fmt.Errorf("search.max_products must be > 0")
	}
	if c.Search.PageDelayMax < c.Search.PageDelayMin {
		return fmt.Errorf("search.page_delay_max must be >= search.page_delay_min")
	}
	switch c.Gateway.Backend {
	case "static", "rendered":
	default:
		return fmt.Errorf("gateway.backend must be static or rendered, got %q", c.Gateway.Backend)
	}
	if c.Pacing.Floor < 0 || c.Pacing.MinDelay < 0 {
		return fmt.Errorf("pacing durations must be >= 0")
	}
	if c.Pacing.MaxDelay < c.Pacing.MinDelay {
		return fmt.Errorf("pacing.max_delay must be >= pacing.min_delay")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MarkerTimeout <= 0 {
		return fmt.Errorf("headless.marker_timeout must be > 0 when headless is enabled")
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when the cache is enabled")
	}
	if _, err := export.ParseFormats(c.Export.Formats); err != nil {
		return fmt.Errorf("export.formats: %w", err)
	}
	switch c.Export.Backend {
	case "local", "memory":
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set when export.backend is gcs")
		}
	default:
		return fmt.Errorf("export.backend must be local, memory or gcs, got %q", c.Export.Backend)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.QueueDepth <= 0 {
		return fmt.Errorf("server.queue_depth must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.LinkCheck.RatePerSecond <= 0 {
		return fmt.Errorf("linkcheck.rate_per_second must be > 0")
	}
	if c.LinkCheck.CacheSize <= 0 {
		return fmt.Errorf("linkcheck.cache_size must be > 0")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Formats returns the parsed export formats.
func (c Config) Formats() []export.Format {
	formats, err := export.ParseFormats(c.Export.Formats)
	if err != nil {
		return export.AllFormats
	}
	return formats
}
