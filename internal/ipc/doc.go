// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// Methods are registered under the ScenePlus service name: GetEntities,
// Update, Reload, Status and History. Request and response types alias the
// api package DTOs so the socket and the HTTP API return identical payloads.
// Domain failures are reported inside the payload; an RPC error always means
// the call itself could not be completed.
package ipc
