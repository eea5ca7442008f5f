// Package api hosts the HTTP server, middleware, and REST handlers for the
// audit orchestrator. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/audits and /v1/batches for submission.
//   - GET /v1/audits/{id}/status for polling, or /stream for server-sent
//     events that push status changes as they happen.
package api
