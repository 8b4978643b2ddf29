package scenefile

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"sceneplus/internal/logging"
)

const (
	keyState      = "state"
	keyAttributes = "attributes"
)

// Record is one scene definition inside a Document. Fields the package does
// not interpret are kept in the underlying node untouched.
type Record struct {
	node   *yaml.Node
	logger *slog.Logger
}

// Entry is the decoded form of one entity entry.
type Entry struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// EntitySet holds a record's entity entries keyed by entity id, with IDs in
// document order.
type EntitySet struct {
	IDs     []string
	Entries map[string]Entry
}

// NewRecord builds a record with an id, an optional name and an empty
// entities mapping.
func NewRecord(id, name string) *Record {
	node := MappingNode()
	node.Content = append(node.Content, StringNode(keyID), StringNode(id))
	if name != "" {
		node.Content = append(node.Content, StringNode(keyName), StringNode(name))
	}
	node.Content = append(node.Content, StringNode(keyEntities), MappingNode())
	return &Record{node: node}
}

// ID returns the record identifier.
func (r *Record) ID() string {
	if v := Field(r.node, keyID); v != nil {
		return v.Value
	}
	return ""
}

// Name returns the optional display name.
func (r *Record) Name() string {
	if v := Field(r.node, keyName); v != nil && v.Kind == yaml.ScalarNode {
		return v.Value
	}
	return ""
}

func (r *Record) log() *slog.Logger {
	if r.logger == nil {
		return logging.NewNop()
	}
	return r.logger
}

func (r *Record) entities() *yaml.Node {
	node := Field(r.node, keyEntities)
	if node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	return node
}

// EntityIDs lists the entity ids the record declares, in document order. A
// record whose entities field is absent or not a mapping declares none.
func (r *Record) EntityIDs() []string {
	entities := r.entities()
	if entities == nil {
		return nil
	}
	ids := make([]string, 0, len(entities.Content)/2)
	for i := 0; i+1 < len(entities.Content); i += 2 {
		ids = append(ids, entities.Content[i].Value)
	}
	return ids
}

// Entry returns the raw node stored for entityID.
func (r *Record) Entry(entityID string) (*yaml.Node, bool) {
	node := Field(r.entities(), entityID)
	return node, node != nil
}

// SetEntry stores node under entityID, replacing an existing entry in place
// or appending a new key.
func (r *Record) SetEntry(entityID string, node *yaml.Node) {
	entities := r.entities()
	if entities == nil {
		entities = MappingNode()
		SetField(r.node, keyEntities, entities)
	}
	SetField(entities, entityID, node)
}

// Entities decodes every entity entry. Flat entries are presented in the
// nested shape. An entry that cannot be decoded keeps its id with an empty
// value and is reported as a warning, so one bad entry does not hide the rest
// of the scene.
func (r *Record) Entities() EntitySet {
	set := EntitySet{Entries: map[string]Entry{}}
	for _, id := range r.EntityIDs() {
		node, _ := r.Entry(id)
		entry, err := DecodeEntry(node)
		if err != nil {
			line := 0
			if node != nil {
				line = node.Line
			}
			logging.WarnWithContext(r.log(), "skipping malformed scene entity entry", "scene_entry_skipped",
				logging.String(logging.FieldSceneID, r.ID()),
				logging.String(logging.FieldEntityID, id),
				logging.Int("line", line),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "give the entry a state and an attributes mapping"),
				logging.String(logging.FieldImpact, "entry is listed without state or attributes"),
			)
			entry = Entry{Attributes: map[string]any{}}
		}
		set.IDs = append(set.IDs, id)
		set.Entries[id] = entry
	}
	return set
}

// DecodeEntry converts an entity entry node into an Entry. A bare scalar is
// read as the state alone.
func DecodeEntry(node *yaml.Node) (Entry, error) {
	entry := Entry{Attributes: map[string]any{}}
	if node == nil {
		return entry, nil
	}
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			entry.State = node.Value
		}
		return entry, nil
	case yaml.MappingNode:
	default:
		return entry, fmt.Errorf("entry is a %s, expected a mapping", kindName(node.Kind))
	}

	node, _ = NestEntry(node)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case keyState:
			if value.Kind == yaml.ScalarNode && value.Tag != "!!null" {
				entry.State = value.Value
			}
		case keyAttributes:
			if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
				continue
			}
			var attrs map[string]any
			if err := value.Decode(&attrs); err != nil {
				return entry, fmt.Errorf("decode attributes: %w", err)
			}
			for k, v := range attrs {
				entry.Attributes[k] = v
			}
		default:
			var extra any
			if err := value.Decode(&extra); err != nil {
				return entry, fmt.Errorf("decode %s: %w", key, err)
			}
			if entry.Extra == nil {
				entry.Extra = map[string]any{}
			}
			entry.Extra[key] = extra
		}
	}
	return entry, nil
}

// IsFlat reports whether node is a legacy flat entry: a mapping with no
// attributes key and at least one key other than state.
func IsFlat(node *yaml.Node) bool {
	if node == nil || node.Kind != yaml.MappingNode {
		return false
	}
	if Field(node, keyAttributes) != nil {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != keyState {
			return true
		}
	}
	return false
}

// NestEntry converts a flat entry into the nested shape by moving every key
// other than state, in order, under a new attributes mapping. Nodes that are
// not flat are returned unchanged with false. The input is never mutated.
func NestEntry(node *yaml.Node) (*yaml.Node, bool) {
	if !IsFlat(node) {
		return node, false
	}
	nested := &yaml.Node{
		Kind:        yaml.MappingNode,
		Tag:         node.Tag,
		Style:       node.Style,
		HeadComment: node.HeadComment,
		LineComment: node.LineComment,
		FootComment: node.FootComment,
	}
	attrs := MappingNode()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value == keyState {
			nested.Content = append(nested.Content, key, value)
			continue
		}
		attrs.Content = append(attrs.Content, key, value)
	}
	nested.Content = append(nested.Content, StringNode(keyAttributes), attrs)
	return nested, true
}

// NestFlatEntries rewrites every flat entry of every record into the nested
// shape and returns the converted entries as "scene_id/entity_id".
func (d *Document) NestFlatEntries() []string {
	var converted []string
	for _, record := range d.Records() {
		for _, id := range record.EntityIDs() {
			node, _ := record.Entry(id)
			if nested, changed := NestEntry(node); changed {
				record.SetEntry(id, nested)
				converted = append(converted, record.ID()+"/"+id)
			}
		}
	}
	return converted
}
