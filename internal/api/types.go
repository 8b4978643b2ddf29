package api

import (
	"time"

	"sceneplus/internal/journal"
	"sceneplus/internal/scenestore"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// EntityRequest names the caller-facing scene entity a request targets. Only
// the first id is used; the list form matches how automations pass targets.
type EntityRequest struct {
	EntityIDs []string `json:"entity_id"`
}

// GetEntitiesResponse lists the entity ids a scene declares. SceneID is null
// when the caller's entity does not map to a scene.
type GetEntitiesResponse struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Entities  []string `json:"entities"`
	SceneID   *string  `json:"scene_id"`
	RequestID string   `json:"request_id,omitempty"`
}

// UpdateResponse reports the result of a capture-and-merge. Store outcomes
// use Message for both results; Error is reserved for requests rejected
// before the store is reached.
type UpdateResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	Error     string   `json:"error,omitempty"`
	SceneID   string   `json:"scene_id,omitempty"`
	NotFound  bool     `json:"not_found,omitempty"`
	Updated   []string `json:"updated,omitempty"`
	Phase     string   `json:"phase,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// ReloadResponse reports whether the host re-read the scenes document.
type ReloadResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// HomeAssistantStatus summarizes connectivity to the state provider.
type HomeAssistantStatus struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	Detail     string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running          bool                `json:"running"`
	PID              int                 `json:"pid"`
	StartedAt        string              `json:"started_at,omitempty"`
	ScenesPath       string              `json:"scenes_path"`
	SceneCount       int                 `json:"scene_count"`
	CrossProcessLock bool                `json:"cross_process_lock"`
	LockFilePath     string              `json:"lock_file_path"`
	SocketPath       string              `json:"socket_path,omitempty"`
	JournalPath      string              `json:"journal_path,omitempty"`
	HomeAssistant    HomeAssistantStatus `json:"home_assistant"`
	LastError        string              `json:"last_error,omitempty"`
}

// HistoryEntry is a journal row in a transport-friendly format.
type HistoryEntry struct {
	ID             string `json:"id"`
	RequestID      string `json:"request_id,omitempty"`
	Operation      string `json:"operation"`
	ClientEntityID string `json:"client_entity_id,omitempty"`
	SceneID        string `json:"scene_id,omitempty"`
	Success        bool   `json:"success"`
	NotFound       bool   `json:"not_found,omitempty"`
	Message        string `json:"message"`
	UpdatedCount   int    `json:"updated_count"`
	CreatedAt      string `json:"created_at"`
}

// HistoryResponse wraps journal entries, newest first.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// FromOutcome converts a store outcome into an update response.
func FromOutcome(out scenestore.Outcome) UpdateResponse {
	return UpdateResponse{
		Success:  out.Success,
		Message:  out.Message,
		SceneID:  out.SceneID,
		NotFound: out.NotFound,
		Updated:  append([]string(nil), out.Updated...),
		Phase:    string(out.Phase),
	}
}

// FromJournalEntry converts a journal row.
func FromJournalEntry(entry journal.Entry) HistoryEntry {
	return HistoryEntry{
		ID:             entry.ID,
		RequestID:      entry.RequestID,
		Operation:      entry.Operation,
		ClientEntityID: entry.ClientEntityID,
		SceneID:        entry.SceneID,
		Success:        entry.Success,
		NotFound:       entry.NotFound,
		Message:        entry.Message,
		UpdatedCount:   entry.UpdatedCount,
		CreatedAt:      formatTime(entry.CreatedAt),
	}
}

// FromJournalEntries converts a slice of journal rows, keeping order.
func FromJournalEntries(entries []journal.Entry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromJournalEntry(entry))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
