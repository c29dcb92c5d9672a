// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /api/crawl and /api/clear-cache drive the cache-aware crawler.
//   - /api/exercises serves the Postgres-backed exercise catalog.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
