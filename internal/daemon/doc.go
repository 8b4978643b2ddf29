// Package daemon coordinates the long-running Scene Plus process.
//
// It wires configuration, the scene store, the scene service and the update
// journal into a single lifecycle with flock-based locking to prevent multiple
// instances. Alongside the IPC socket served by package ipc, the daemon can
// expose an HTTP API:
//
//	GET  /api/entities?entity_id=scene.x   scene entity list
//	POST /api/update   {"entity_id": ...}  capture and merge
//	POST /api/reload                       ask Home Assistant to reload scenes
//	GET  /api/status                       daemon status
//	GET  /api/history?limit=N              update journal
//	GET  /metrics                          Prometheus metrics
//
// When paths.api_token is set every route requires a bearer token. The
// daemon also prunes journal rows older than journal.retention_days.
package daemon
