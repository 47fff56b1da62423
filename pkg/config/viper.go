// Package config bootstraps Viper for the mirror service: search paths,
// environment binding, and the full default set. The typed view lives in
// internal/config; this package only produces the raw Viper instance so
// the logger can be built from config without a chicken-and-egg problem.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// New builds a Viper instance with defaults and environment binding
// applied. When path is empty the usual search paths are tried and a
// missing config file is fine; an explicit path must exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("sitemirror")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sitemirror/")
	v.AddConfigPath("$HOME/.sitemirror")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.same_domain_only", true)
	v.SetDefault("crawler.wait_seconds", 5)
	v.SetDefault("crawler.user_agent", "sitemirror/1.0 (+https://github.com/mirrorlab/sitemirror)")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.blocked_domains", []string{})

	v.SetDefault("assets.max_bytes", 10<<20)
	v.SetDefault("assets.timeout_seconds", 30)
	v.SetDefault("assets.concurrency", 8)

	v.SetDefault("output.dir", "./crawls")

	v.SetDefault("enrich.api_key", "")
	v.SetDefault("enrich.base_url", "")
	v.SetDefault("enrich.model", "")
	v.SetDefault("enrich.default_language", "en")

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.default_rps", 1)
	v.SetDefault("ratelimit.default_burst", 1)

	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.promotion_threshold", 200)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.workers", 2)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.results_topic", "")

	v.SetDefault("mirror.backend", "none")
	v.SetDefault("mirror.local_dir", "")
	v.SetDefault("mirror.bucket", "")
	v.SetDefault("mirror.prefix", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.runs_table", "crawl_runs")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.topic", "")
	v.SetDefault("progress.log_events", false)

	v.SetDefault("logging.development", false)
}
