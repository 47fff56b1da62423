package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Crawler.MaxDepth != 2 || cfg.Crawler.MaxPages != 500 {
		t.Fatalf("unexpected crawler defaults: %+v", cfg.Crawler)
	}
	if !cfg.Crawler.SameDomainOnly || !cfg.Crawler.RespectRobots {
		t.Fatalf("expected conservative traversal defaults: %+v", cfg.Crawler)
	}
	if cfg.Queue.Backend != "memory" || cfg.Queue.Depth != 64 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Mirror.Backend != "none" {
		t.Fatalf("expected mirror disabled by default, got %q", cfg.Mirror.Backend)
	}
	if cfg.Assets.MaxBytes != 10<<20 {
		t.Fatalf("expected 10MiB asset cap, got %d", cfg.Assets.MaxBytes)
	}
	if got := cfg.AssetTimeout(); got != 30*time.Second {
		t.Fatalf("expected 30s asset timeout, got %v", got)
	}
	if got := cfg.BatchMaxWait(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms batch wait, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
crawler:
  max_depth: 4
  max_pages: 50
  concurrency: 6
  same_domain_only: false
  wait_seconds: 1.5
  user_agent: mirror-agent
  respect_robots: false
  blocked_domains: ["ads.example.com"]
assets:
  max_bytes: 1048576
  timeout_seconds: 10
output:
  dir: /var/lib/sitemirror
queue:
  backend: pubsub
  depth: 128
  workers: 4
pubsub:
  project_id: proj
  topic: jobs
  subscription: jobs-sub
  results_topic: results
mirror:
  backend: local
  local_dir: /srv/mirror
database:
  dsn: postgres://localhost/mirror
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Crawler.MaxDepth != 4 || cfg.Crawler.SameDomainOnly {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Crawler.WaitSeconds != 1.5 {
		t.Fatalf("expected wait_seconds 1.5, got %v", cfg.Crawler.WaitSeconds)
	}
	if len(cfg.Crawler.BlockedDomains) != 1 || cfg.Crawler.BlockedDomains[0] != "ads.example.com" {
		t.Fatalf("expected blocked domains to load: %+v", cfg.Crawler.BlockedDomains)
	}
	if cfg.Queue.Backend != "pubsub" || cfg.Queue.Workers != 4 {
		t.Fatalf("expected queue overrides to apply: %+v", cfg.Queue)
	}
	if cfg.PubSub.ResultsTopic != "results" {
		t.Fatalf("expected results topic, got %q", cfg.PubSub.ResultsTopic)
	}
	if cfg.Mirror.Backend != "local" || cfg.Mirror.LocalDir != "/srv/mirror" {
		t.Fatalf("expected mirror overrides to apply: %+v", cfg.Mirror)
	}
	if cfg.Database.DSN != "postgres://localhost/mirror" {
		t.Fatalf("expected database DSN, got %q", cfg.Database.DSN)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging")
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  backend: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "queue.backend") {
		t.Fatalf("expected queue.backend error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler:  CrawlerConfig{MaxDepth: 2, MaxPages: 100, Concurrency: 4},
		Assets:   AssetsConfig{MaxBytes: 1 << 20, TimeoutSeconds: 10},
		Output:   OutputConfig{Dir: "./crawls"},
		Server:   ServerConfig{Port: 8080},
		Queue:    QueueConfig{Backend: "memory", Depth: 8, Workers: 1},
		Mirror:   MirrorConfig{Backend: "none"},
		Progress: ProgressConfig{},
	}

	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{
			name: "invalid port",
			mut:  func(c *Config) { c.Server.Port = 0 },
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			mut:  func(c *Config) { c.Crawler.Concurrency = 0 },
			want: "crawler.concurrency",
		},
		{
			name: "negative depth",
			mut:  func(c *Config) { c.Crawler.MaxDepth = -1 },
			want: "crawler.max_depth",
		},
		{
			name: "invalid asset cap",
			mut:  func(c *Config) { c.Assets.MaxBytes = 0 },
			want: "assets.max_bytes",
		},
		{
			name: "missing output dir",
			mut:  func(c *Config) { c.Output.Dir = "" },
			want: "output.dir",
		},
		{
			name: "unknown queue backend",
			mut:  func(c *Config) { c.Queue.Backend = "kafka" },
			want: "queue.backend",
		},
		{
			name: "pubsub queue without resources",
			mut:  func(c *Config) { c.Queue.Backend = "pubsub" },
			want: "pubsub.project_id",
		},
		{
			name: "no workers",
			mut:  func(c *Config) { c.Queue.Workers = 0 },
			want: "queue.workers",
		},
		{
			name: "local mirror without dir",
			mut:  func(c *Config) { c.Mirror.Backend = "local" },
			want: "mirror.local_dir",
		},
		{
			name: "gcs mirror without bucket",
			mut:  func(c *Config) { c.Mirror.Backend = "gcs" },
			want: "mirror.bucket",
		},
		{
			name: "headless missing max parallel",
			mut: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name: "ratelimit without rps",
			mut: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.DefaultRPS = 0
			},
			want: "ratelimit.default_rps",
		},
		{
			name: "progress enabled without buffer",
			mut: func(c *Config) {
				c.Progress.Enabled = true
				c.Progress.BufferSize = 0
			},
			want: "progress.buffer_size",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
