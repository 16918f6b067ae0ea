// Package api hosts the read-only status server of the harvester.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/webcams and /v1/webcams/{source}/{identifier} for cached
//     metadata, plus .../frames for the frames stored on disk.
//   - GET /v1/sessions and /v1/sessions/{session_id} for session history
//     when a SessionReader is configured.
package api
