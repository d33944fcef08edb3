// Package api hosts the HTTP server, middleware, and REST handlers of the
// search service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/searches to submit a keyword search.
//   - GET /v1/searches/{job_id} and /v1/searches/{job_id}/records for status
//     and results.
//   - POST /v1/searches/{job_id}/cancel to stop a queued or running search.
package api
