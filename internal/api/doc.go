// Package api hosts the status server started alongside long runs. Routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress and /v1/progress/{job} for counters of the running
//     harvest or validation, registered through Server.Track.
package api
