// Package api implements the named scene operations and their wire types.
// The IPC server and the HTTP API both call into SceneService so the two
// transports answer identically.
//
// # Operations
//
// GetEntities: resolves the caller's scene entity to a scene id and lists the
// entity ids that scene declares. An entity that maps to no scene is a
// successful, empty answer with a null scene_id.
//
// Update: resolves the scene, captures a full state snapshot from the state
// provider, and hands both to the scene store. The store outcome is returned
// as is and, when a journal is configured, recorded there.
//
// Reload: asks the host to re-read the scenes document.
//
// History: reads the update journal, newest first.
//
// # Design Notes
//
// Responses carry success plus message or error rather than Go errors, so a
// failed update still yields a payload the caller can render. Every request
// gets a correlation id that appears in the response, the logs and the
// journal. Payloads use snake_case keys to match Home Assistant service
// responses.
package api
