// Package homeassistant implements the capture collaborators against the Home
// Assistant REST API: entity snapshots from /api/states, scene id resolution
// from a scene entity's id attribute, and the scene.reload service call.
package homeassistant
