// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Collector CollectorConfig `mapstructure:"collector"`
	DB        DBConfig        `mapstructure:"db"`
	Writer    WriterConfig    `mapstructure:"writer"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior. The request timeout covers
// status, cancel and health routes only; synchronous job submission blocks
// until the job is terminal.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CollectorConfig governs access to the external collection provider.
// Credentials and polling cadence only; no effect on data semantics.
type CollectorConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	PageSize            int    `mapstructure:"page_size"`
	NetworkRetries      int    `mapstructure:"network_retries"`
	MaxReviewsDefault   int    `mapstructure:"max_reviews_default"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// WriterConfig configures persistence retry behavior.
type WriterConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// DispatchConfig sizes the asynchronous execution pool.
type DispatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// PubSubConfig holds metadata for terminal-job notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects the raw payload archive backend.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"` // memory, local or gcs
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("collector.poll_interval_seconds", 5)
	v.SetDefault("collector.page_size", 100)
	v.SetDefault("collector.network_retries", 3)
	// 0 means unlimited; the provider decides when to stop.
	v.SetDefault("collector.max_reviews_default", 0)
	v.SetDefault("writer.max_retries", 3)
	v.SetDefault("writer.backoff_initial_ms", 250)
	v.SetDefault("writer.backoff_max_ms", 2000)
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("dispatch.queue_depth", 64)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("server.request_timeout_seconds must be >= 0")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be > 0")
	}
	if c.Collector.PollIntervalSeconds <= 0 {
		return fmt.Errorf("collector.poll_interval_seconds must be > 0")
	}
	if c.Collector.NetworkRetries < 0 {
		return fmt.Errorf("collector.network_retries must be >= 0")
	}
	if c.Writer.MaxRetries < 0 {
		return fmt.Errorf("writer.max_retries must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Archive.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("archive.backend must be one of memory, local, gcs")
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
	}
	if c.Archive.Backend == "local" && c.Archive.LocalDir == "" {
		return fmt.Errorf("archive.local_dir must be set for the local backend")
	}
	return nil
}

// RequestTimeout converts the HTTP request timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// PollInterval converts the collector polling cadence into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Collector.PollIntervalSeconds) * time.Second
}

// WriterBackoff returns the initial and maximum writer backoff durations.
func (c Config) WriterBackoff() (initial, max time.Duration) {
	return time.Duration(c.Writer.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Writer.BackoffMaxMs) * time.Millisecond
}
