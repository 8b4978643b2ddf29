package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"sceneplus/internal/merge"
)

// ErrNotFound reports a client entity that does not map to a scene.
var ErrNotFound = errors.New("entity not found")

// StateProvider captures the current values of every known entity.
type StateProvider interface {
	SnapshotAll(ctx context.Context) (merge.Snapshot, error)
}

// Resolver maps a caller-facing entity id to the scene record id it controls.
type Resolver interface {
	Resolve(ctx context.Context, clientEntityID string) (string, error)
}

// Reloader asks the host to re-read the scenes document.
type Reloader interface {
	ReloadScenes(ctx context.Context) error
}

// State is one element of a state listing, as served by GET /api/states.
type State struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// DecodeStates reads a JSON array of states. Numbers are kept as json.Number
// so integer attributes stay integers in the scenes file.
func DecodeStates(r io.Reader) ([]State, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var states []State
	if err := dec.Decode(&states); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	return states, nil
}

// SnapshotFromStates indexes states by entity id. Later duplicates win.
func SnapshotFromStates(states []State) merge.Snapshot {
	snapshot := make(merge.Snapshot, len(states))
	for _, st := range states {
		id := strings.TrimSpace(st.EntityID)
		if id == "" {
			continue
		}
		snapshot[id] = merge.Capture{State: st.State, Attributes: st.Attributes}
	}
	return snapshot
}

// FileProvider serves snapshots from a JSON file in the /api/states format,
// for capturing without a running Home Assistant.
type FileProvider struct {
	Path string
}

// SnapshotAll re-reads the file on every call.
func (p FileProvider) SnapshotAll(ctx context.Context) (merge.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	states, err := DecodeStates(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Path, err)
	}
	return SnapshotFromStates(states), nil
}

// DirectResolver treats the client id as the scene id, verbatim.
type DirectResolver struct{}

func (DirectResolver) Resolve(_ context.Context, clientEntityID string) (string, error) {
	if strings.TrimSpace(clientEntityID) == "" {
		return "", ErrNotFound
	}
	return clientEntityID, nil
}
