// Package api hosts the diagnostics HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/queue, /v1/hosts and /v1/filters to inspect the scheduler.
//   - PUT /v1/hosts/{domain} to retune a host throttle at runtime.
//   - POST /v1/orders to queue URLs by hand.
package api
