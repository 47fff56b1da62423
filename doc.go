// Package main hosts the sitemirror entrypoint.
//
// Architecture overview:
//   - CLI: a Cobra root command with two real modes. "crawl" performs a single
//     run end to end and prints a summary; "serve" runs the HTTP job service.
//     Both are assembled by internal/app from one resolved config.
//   - Traversal: internal/crawler walks the link graph breadth-first under a
//     concurrency bound, normalizing and deduplicating URLs, honoring depth,
//     page budget, and domain policy. Fetching starts static (Colly) and is
//     promoted per page to headless Chrome when the heuristic detector flags
//     thin content.
//   - Snapshot: each page directory gets raw HTML, raw and cleaned markdown,
//     and a metadata record; images and documents are downloaded once, named
//     by content digest, and shared across pages. A crawl summary ties the
//     run together.
//   - Enrichment: cleaned content flows through the metadata enricher and,
//     when an API key is configured, an OpenAI-compatible generator for
//     descriptions, keywords, and image alt text. Without a key the heuristic
//     fallbacks keep every field populated.
//   - Serve mode: chi HTTP API (submit/status/result/cancel, health probes,
//     /metrics), a bounded job queue (in-memory or Pub/Sub), a fixed worker
//     pool, and graceful drain on SIGTERM. Snapshots can be mirrored to local
//     disk or GCS, run metadata indexed in Postgres, and completion notices
//     published to Pub/Sub.
//   - Observability: zap structured logging throughout, Prometheus counters
//     and histograms for pages, assets, fetches, and HTTP traffic, plus a
//     buffered progress hub fanning crawl lifecycle events to pluggable
//     sinks.
//
// Operational notes:
//   - Concurrency model: per-run worker pool inside the engine plus a fixed
//     job worker pool in serve mode; headless fetches hold their own
//     semaphore. Shutdown propagates through context cancellation.
//   - Politeness: per-domain rate limiting when enabled, robots.txt
//     enforcement in the static fetcher, and a blocklist for domains that
//     must never be touched.
//   - Configuration: Viper resolves defaults, YAML file, and SITEMIRROR_*
//     environment overrides into one typed config validated at startup.
package main
