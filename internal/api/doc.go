// Package api hosts the HTTP server, middleware, and REST handlers that
// trigger store invocations and read back statistics. Notable routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/ingest, /v1/ingest/postings and /v1/rebuild for invocations.
//   - GET /v1/stats/... for live and archived statistics.
//   - /v1/applied for application click tracking.
package api
