package merge

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"sceneplus/internal/logging"
	"sceneplus/internal/scenefile"
)

// DefaultExclude lists attributes that carry runtime linkage and never belong
// in a scene.
var DefaultExclude = []string{"device_id", "area_id", "zone_id"}

// Capture is the state and raw attributes of one entity at snapshot time.
type Capture struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Snapshot maps entity ids to their captured values.
type Snapshot map[string]Capture

// Engine merges captured values into scene records.
type Engine struct {
	exclude map[string]struct{}
	logger  *slog.Logger
}

// NewEngine builds an engine that strips the exclude attributes. A nil
// exclude list uses DefaultExclude; an empty non-nil list excludes nothing.
func NewEngine(exclude []string, logger *slog.Logger) *Engine {
	if exclude == nil {
		exclude = DefaultExclude
	}
	set := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		set[name] = struct{}{}
	}
	return &Engine{exclude: set, logger: logging.NewComponentLogger(logger, "merge")}
}

// Excluded reports whether name is stripped from captured attributes.
func (e *Engine) Excluded(name string) bool {
	_, ok := e.exclude[name]
	return ok
}

// Attributes returns the persistable form of raw: excluded and nil values are
// omitted and every other value is converted. A value that cannot be
// converted is dropped with a warning.
func (e *Engine) Attributes(entityID string, raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if e.Excluded(key) {
			continue
		}
		value, err := Convert(raw[key])
		if err != nil {
			logging.WarnWithContext(e.logger, "dropping attribute that cannot be stored", "attribute_dropped",
				logging.String(logging.FieldEntityID, entityID),
				logging.String("attribute", key),
				logging.String("type", fmt.Sprintf("%T", raw[key])),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "expose the attribute as a scalar, list, or mapping"),
				logging.String(logging.FieldImpact, "attribute is not saved in the scene"),
			)
			continue
		}
		if value == nil {
			continue
		}
		out[key] = value
	}
	return out
}

// MergeEntry returns the entry for entityID after applying capture to
// existing. Keys other than state and attributes are kept; a flat entry is
// first converted to the nested shape. existing is not modified.
func (e *Engine) MergeEntry(entityID string, existing *yaml.Node, capture Capture) (*yaml.Node, error) {
	attrs := e.Attributes(entityID, capture.Attributes)
	attrsNode := &yaml.Node{}
	if err := attrsNode.Encode(attrs); err != nil {
		return nil, fmt.Errorf("encode attributes for %s: %w", entityID, err)
	}

	entry := scenefile.MappingNode()
	if existing != nil && existing.Kind == yaml.AliasNode {
		existing = existing.Alias
	}
	if existing != nil && existing.Kind == yaml.MappingNode {
		nested, _ := scenefile.NestEntry(existing)
		copied := *nested
		copied.Content = slices.Clone(nested.Content)
		entry = &copied
	} else if existing != nil {
		entry.HeadComment = existing.HeadComment
		entry.LineComment = existing.LineComment
		entry.FootComment = existing.FootComment
	}

	stateNode := scenefile.StringNode(capture.State)
	if prev := scenefile.Field(entry, "state"); prev != nil && prev.Kind == yaml.ScalarNode {
		stateNode.Style = prev.Style
		stateNode.LineComment = prev.LineComment
	}
	scenefile.SetField(entry, "state", stateNode)
	scenefile.SetField(entry, "attributes", attrsNode)
	return entry, nil
}

// MergeRecord merges snapshot into every entity record already declares and
// returns the ids that changed, in document order. Snapshot entries for
// entities the record does not declare are ignored.
func (e *Engine) MergeRecord(record *scenefile.Record, snapshot Snapshot) ([]string, error) {
	var updated []string
	for _, id := range record.EntityIDs() {
		capture, ok := snapshot[id]
		if !ok {
			continue
		}
		existing, _ := record.Entry(id)
		merged, err := e.MergeEntry(id, existing, capture)
		if err != nil {
			return updated, err
		}
		record.SetEntry(id, merged)
		updated = append(updated, id)
	}
	return updated, nil
}
