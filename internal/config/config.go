// Package config loads and validates frontier configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	DB       DBConfig       `mapstructure:"db"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres. An empty DSN selects the
// in-memory store.
type DBConfig struct {
	DSN                 string `mapstructure:"dsn"`
	Table               string `mapstructure:"table"`
	MaxConns            int32  `mapstructure:"max_conns"`
	MinConns            int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMins int    `mapstructure:"max_conn_lifetime_minutes"`
}

// FrontierConfig governs lease, retry, and sweep policy.
type FrontierConfig struct {
	LeaseMinutes         int `mapstructure:"lease_minutes"`
	MaxRetries           int `mapstructure:"max_retries"`
	BackoffBaseSeconds   int `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds    int `mapstructure:"backoff_max_seconds"`
	DispatchBatch        int `mapstructure:"dispatch_batch"`
	DispatchOverfetch    int `mapstructure:"dispatch_overfetch"`
	SweepBatch           int `mapstructure:"sweep_batch"`
	ReclaimIntervalSecs  int `mapstructure:"reclaim_interval_seconds"`
	RequeueIntervalSecs  int `mapstructure:"requeue_interval_seconds"`
	MaxBatchEnqueueSize  int `mapstructure:"max_batch_enqueue_size"`
}

// PubSubConfig holds metadata for lifecycle event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRONTIER")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("db.table", "frontier_urls")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("frontier.lease_minutes", 30)
	v.SetDefault("frontier.max_retries", 3)
	v.SetDefault("frontier.backoff_base_seconds", 60)
	v.SetDefault("frontier.backoff_max_seconds", 3600)
	v.SetDefault("frontier.dispatch_batch", 10)
	v.SetDefault("frontier.dispatch_overfetch", 4)
	v.SetDefault("frontier.sweep_batch", 500)
	v.SetDefault("frontier.reclaim_interval_seconds", 300)
	v.SetDefault("frontier.requeue_interval_seconds", 60)
	v.SetDefault("frontier.max_batch_enqueue_size", 100)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Frontier.LeaseMinutes <= 0 {
		return fmt.Errorf("frontier.lease_minutes must be > 0")
	}
	if c.Frontier.MaxRetries <= 0 {
		return fmt.Errorf("frontier.max_retries must be > 0")
	}
	if c.Frontier.BackoffBaseSeconds <= 0 {
		return fmt.Errorf("frontier.backoff_base_seconds must be > 0")
	}
	if c.Frontier.BackoffMaxSeconds < c.Frontier.BackoffBaseSeconds {
		return fmt.Errorf("frontier.backoff_max_seconds must be >= frontier.backoff_base_seconds")
	}
	if c.Frontier.DispatchBatch <= 0 {
		return fmt.Errorf("frontier.dispatch_batch must be > 0")
	}
	if c.Frontier.MaxBatchEnqueueSize <= 0 {
		return fmt.Errorf("frontier.max_batch_enqueue_size must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// Lease returns the configured lease duration.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Frontier.LeaseMinutes) * time.Minute
}

// BackoffBase returns the configured base retry delay.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Frontier.BackoffBaseSeconds) * time.Second
}

// BackoffCeiling returns the configured maximum retry delay.
func (c Config) BackoffCeiling() time.Duration {
	return time.Duration(c.Frontier.BackoffMaxSeconds) * time.Second
}

// ReclaimInterval returns how often the lease-reclaim sweep runs.
func (c Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Frontier.ReclaimIntervalSecs) * time.Second
}

// RequeueInterval returns how often the retry-requeue sweep runs.
func (c Config) RequeueInterval() time.Duration {
	return time.Duration(c.Frontier.RequeueIntervalSecs) * time.Second
}
