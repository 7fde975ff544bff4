// Package api hosts the operator HTTP surface of a running visitor. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for loop state (window, in-flight fetches, trail size).
//   - GET /v1/history for the most recent completed sessions.
package api
