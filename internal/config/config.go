// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Poll      PollConfig      `mapstructure:"poll"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	StreamRefreshSeconds   int `mapstructure:"stream_refresh_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DispatchConfig sizes the task queue and worker pool.
type DispatchConfig struct {
	Concurrency           int    `mapstructure:"concurrency"`
	QueueDepth            int    `mapstructure:"queue_depth"`
	DefaultMaxPages       int    `mapstructure:"default_max_pages"`
	MaxPagesCap           int    `mapstructure:"max_pages_cap"`
	EnqueueTimeoutSeconds int    `mapstructure:"enqueue_timeout_seconds"`
	ArtifactPrefix        string `mapstructure:"artifact_prefix"`
}

// AnalyzerConfig describes the external Analyzer process.
type AnalyzerConfig struct {
	Command        []string `mapstructure:"command"`
	WorkDir        string   `mapstructure:"work_dir"`
	Env            []string `mapstructure:"env"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxOutputBytes int64    `mapstructure:"max_output_bytes"`
}

// RateLimitConfig spaces Analyzer launches per host.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// ReconcileConfig drives the stale-job sweep.
type ReconcileConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Schedule          string `mapstructure:"schedule"`
	StaleAfterSeconds int    `mapstructure:"stale_after_seconds"`
}

// StorageConfig selects where raw Analyzer output is archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DatabaseConfig controls the job store.
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// RedisConfig enables the Redis event broker used by SSE streams.
type RedisConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// PubSubConfig holds metadata for terminal notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize         int `mapstructure:"buffer_size"`
	MaxBatchEvents     int `mapstructure:"max_batch_events"`
	MaxBatchWaitMillis int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSeconds int `mapstructure:"sink_timeout_seconds"`
}

// PollConfig is used by CLI commands that talk to a running server.
type PollConfig struct {
	ServerURL       string `mapstructure:"server_url"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	MaxErrors       int    `mapstructure:"max_errors"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDITOR")
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
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("server.stream_refresh_seconds", 3)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("dispatch.queue_depth", 256)
	v.SetDefault("dispatch.default_max_pages", 0)
	v.SetDefault("dispatch.max_pages_cap", 500)
	v.SetDefault("dispatch.enqueue_timeout_seconds", 5)
	v.SetDefault("dispatch.artifact_prefix", "audits")
	v.SetDefault("analyzer.command", []string{"python3", "run_audit.py"})
	v.SetDefault("analyzer.work_dir", ".")
	v.SetDefault("analyzer.timeout_seconds", 300)
	v.SetDefault("analyzer.max_output_bytes", 8<<20)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 0.2)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.schedule", "@every 1m")
	v.SetDefault("reconcile.stale_after_seconds", 600)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.base_dir", "artifacts")
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel_prefix", "auditor")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_seconds", 10)
	v.SetDefault("poll.server_url", "http://localhost:8080")
	v.SetDefault("poll.interval_seconds", 3)
	v.SetDefault("poll.max_errors", 3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be > 0")
	}
	if c.Dispatch.QueueDepth <= 0 {
		return fmt.Errorf("dispatch.queue_depth must be > 0")
	}
	if c.Dispatch.MaxPagesCap <= 0 {
		return fmt.Errorf("dispatch.max_pages_cap must be > 0")
	}
	if c.Dispatch.DefaultMaxPages < 0 || c.Dispatch.DefaultMaxPages > c.Dispatch.MaxPagesCap {
		return fmt.Errorf("dispatch.default_max_pages must be between 0 and dispatch.max_pages_cap")
	}
	if len(c.Analyzer.Command) == 0 || strings.TrimSpace(c.Analyzer.Command[0]) == "" {
		return fmt.Errorf("analyzer.command is required")
	}
	if c.Analyzer.TimeoutSeconds <= 0 {
		return fmt.Errorf("analyzer.timeout_seconds must be > 0")
	}
	if c.Analyzer.MaxOutputBytes <= 0 {
		return fmt.Errorf("analyzer.max_output_bytes must be > 0")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be > 0 when rate limiting is enabled")
	}
	if c.Reconcile.Enabled {
		if _, err := cron.ParseStandard(c.Reconcile.Schedule); err != nil {
			return fmt.Errorf("reconcile.schedule: %w", err)
		}
		if c.Reconcile.StaleAfterSeconds <= 0 {
			return fmt.Errorf("reconcile.stale_after_seconds must be > 0")
		}
	}
	// The sweep must never fail a job whose Analyzer may still be running.
	if c.Reconcile.StaleAfterSeconds > 0 && c.Reconcile.StaleAfterSeconds <= c.Analyzer.TimeoutSeconds {
		return fmt.Errorf("reconcile.stale_after_seconds (%d) must exceed analyzer.timeout_seconds (%d)",
			c.Reconcile.StaleAfterSeconds, c.Analyzer.TimeoutSeconds)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory, local or gcs", c.Storage.Backend)
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q must be memory or postgres", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// AnalyzerTimeout returns the per-invocation Analyzer deadline.
func (c Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Analyzer.TimeoutSeconds) * time.Second
}

// StaleAfter returns how long a job may run before the sweep fails it.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Reconcile.StaleAfterSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown of the HTTP server and workers.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// PollInterval returns the CLI polling cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}
