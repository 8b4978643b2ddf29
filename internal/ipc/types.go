package ipc

import "sceneplus/internal/api"

// EntityRequest targets the scene controlled by the first entity id.
type EntityRequest = api.EntityRequest

// GetEntitiesResponse lists a scene's entity ids.
type GetEntitiesResponse = api.GetEntitiesResponse

// UpdateResponse reports a capture-and-merge result.
type UpdateResponse = api.UpdateResponse

// ReloadRequest asks Home Assistant to re-read the scenes document.
type ReloadRequest struct{}

// ReloadResponse reports the reload result.
type ReloadResponse = api.ReloadResponse

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon status information.
type StatusResponse = api.DaemonStatus

// HistoryRequest reads the update journal.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse contains journal entries, newest first.
type HistoryResponse = api.HistoryResponse
