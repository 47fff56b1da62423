// Package config provides the typed configuration for the mirror service,
// loaded and validated on top of the Viper bootstrap in pkg/config.
package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/mirrorlab/sitemirror/pkg/config"
)

// Config captures all service configuration knobs.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Output    OutputConfig    `mapstructure:"output"`
	Enrich    EnrichConfig    `mapstructure:"enrich"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig holds default crawl parameters and traversal policy.
type CrawlerConfig struct {
	MaxDepth       int      `mapstructure:"max_depth"`
	MaxPages       int      `mapstructure:"max_pages"`
	Concurrency    int      `mapstructure:"concurrency"`
	SameDomainOnly bool     `mapstructure:"same_domain_only"`
	WaitSeconds    float64  `mapstructure:"wait_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// AssetsConfig bounds asset downloads.
type AssetsConfig struct {
	MaxBytes       int64 `mapstructure:"max_bytes"`
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
	Concurrency    int   `mapstructure:"concurrency"`
}

// OutputConfig locates the snapshot area on disk.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// EnrichConfig configures the AI metadata generator. An empty APIKey
// selects the heuristic fallback.
type EnrichConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	Model           string `mapstructure:"model"`
	DefaultLanguage string `mapstructure:"default_language"`
}

// RateLimitConfig controls per-domain politeness pacing.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int  `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// ServerConfig controls the serve-mode HTTP listener. An empty APIKey
// leaves the API open.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// QueueConfig selects the job queue backend and pool size.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	Depth   int    `mapstructure:"depth"`
	Workers int    `mapstructure:"workers"`
}

// PubSubConfig names the Google Pub/Sub resources for the pubsub queue
// backend and the completion publisher.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
	ResultsTopic string `mapstructure:"results_topic"`
}

// MirrorConfig selects where finished snapshots are mirrored.
type MirrorConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig controls the Postgres run index. An empty DSN disables it.
type DatabaseConfig struct {
	DSN       string `mapstructure:"dsn"`
	RunsTable string `mapstructure:"runs_table"`
}

// ProgressConfig tunes the progress event hub. Topic, when set alongside
// a Pub/Sub publisher, carries run lifecycle notices. LogEvents turns on
// the per-event log sink, which is loud and meant for debugging.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMS int                 `mapstructure:"sink_timeout_ms"`
	Topic         string              `mapstructure:"topic"`
	LogEvents     bool                `mapstructure:"log_events"`
}

// ProgressBatchConfig bounds hub flush batching.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMS int `mapstructure:"max_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v, err := pkgconfig.New(path)
	if err != nil {
		return Config{}, err
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

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.WaitSeconds < 0 {
		return fmt.Errorf("crawler.wait_seconds must be >= 0")
	}
	if c.Assets.MaxBytes <= 0 {
		return fmt.Errorf("assets.max_bytes must be > 0")
	}
	if c.Assets.TimeoutSeconds <= 0 {
		return fmt.Errorf("assets.timeout_seconds must be > 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must be set")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("ratelimit.default_rps must be > 0 when ratelimit is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Queue.Backend {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.Topic == "" || c.PubSub.Subscription == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.topic and pubsub.subscription must be set for the pubsub queue")
		}
	default:
		return fmt.Errorf("queue.backend must be memory or pubsub, got %q", c.Queue.Backend)
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	switch c.Mirror.Backend {
	case "", "none", "memory":
	case "local":
		if c.Mirror.LocalDir == "" {
			return fmt.Errorf("mirror.local_dir must be set for the local mirror")
		}
	case "gcs":
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket must be set for the gcs mirror")
		}
	default:
		return fmt.Errorf("mirror.backend must be none, memory, local or gcs, got %q", c.Mirror.Backend)
	}
	if c.Progress.Enabled {
		if c.Progress.BufferSize <= 0 {
			return fmt.Errorf("progress.buffer_size must be > 0")
		}
		if c.Progress.Batch.MaxEvents <= 0 {
			return fmt.Errorf("progress.batch.max_events must be > 0")
		}
		if c.Progress.Batch.MaxWaitMS <= 0 {
			return fmt.Errorf("progress.batch.max_wait_ms must be > 0")
		}
	}
	return nil
}

// AssetTimeout returns the per-download timeout as a duration.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Assets.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// BatchMaxWait returns the progress hub flush interval.
func (c Config) BatchMaxWait() time.Duration {
	return time.Duration(c.Progress.Batch.MaxWaitMS) * time.Millisecond
}

// SinkTimeout returns the per-sink flush timeout.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMS) * time.Millisecond
}
