// Package api hosts the HTTP server, middleware wiring, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls for job submission, with status/result/cancel under
//     /v1/crawls/{job_id}.
//   - GET /v1/runs and /v1/runs/{run_id}/sites for progress reporting via the
//     ProgressRepository interface.
package api
