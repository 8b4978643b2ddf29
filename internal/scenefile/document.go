package scenefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"sceneplus/internal/logging"
)

// ErrCorruptDocument reports a scenes file that exists but is not a YAML
// sequence of records.
var ErrCorruptDocument = errors.New("corrupt scenes document")

const (
	keyID       = "id"
	keyName     = "name"
	keyEntities = "entities"
)

// Document is the ordered list of scene records backed by a YAML node tree so
// comments, key order and unknown fields survive a rewrite.
type Document struct {
	root   *yaml.Node
	logger *slog.Logger
}

// Load reads and parses the scenes file at path. A missing file yields an
// empty document.
func Load(path string, logger *slog.Logger) (*Document, error) {
	logger = documentLogger(logger)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("scenes file not found; using empty document", logging.String(logging.FieldPath, path))
			return newEmpty(logger), nil
		}
		return nil, fmt.Errorf("read scenes file: %w", err)
	}
	doc, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse builds a document from raw YAML. Empty input and an explicit null are
// treated as an empty document.
func Parse(data []byte, logger *slog.Logger) (*Document, error) {
	logger = documentLogger(logger)
	if len(bytes.TrimSpace(data)) == 0 {
		return newEmpty(logger), nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return newEmpty(logger), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrCorruptDocument, err)
	}
	if err := rejectTrailingDocuments(dec); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return newEmpty(logger), nil
	}
	top := root.Content[0]
	switch {
	case top.Kind == yaml.SequenceNode:
	case top.Kind == yaml.ScalarNode && top.Tag == "!!null":
		root.Content[0] = emptySequence()
	default:
		return nil, fmt.Errorf("%w: top level is a %s, expected a sequence of records", ErrCorruptDocument, kindName(top.Kind))
	}
	return &Document{root: &root, logger: logger}, nil
}

// rejectTrailingDocuments fails when the stream holds a second document with
// content. A rewrite only carries the first document, so the rest would be
// lost.
func rejectTrailingDocuments(dec *yaml.Decoder) error {
	for {
		var next yaml.Node
		err := dec.Decode(&next)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("%w: %w", ErrCorruptDocument, err)
		case !isBlankDocument(&next):
			return fmt.Errorf("%w: more than one YAML document (another starts at line %d)", ErrCorruptDocument, next.Line)
		}
	}
}

// isBlankDocument reports a document with no content, such as the empty
// document after a trailing "---".
func isBlankDocument(node *yaml.Node) bool {
	if len(node.Content) == 0 {
		return true
	}
	top := node.Content[0]
	return top.Kind == yaml.ScalarNode && top.ShortTag() == "!!null" && top.Value == ""
}

func newEmpty(logger *slog.Logger) *Document {
	return &Document{
		root:   &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{emptySequence()}},
		logger: logger,
	}
}

func emptySequence() *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
}

func documentLogger(logger *slog.Logger) *slog.Logger {
	return logging.NewComponentLogger(logger, "scenefile")
}

func (d *Document) items() []*yaml.Node {
	return d.root.Content[0].Content
}

// Len returns the number of sequence items, well-formed or not.
func (d *Document) Len() int {
	return len(d.items())
}

// Records returns the well-formed records in document order. Malformed items
// are skipped with a warning.
func (d *Document) Records() []*Record {
	var records []*Record
	for idx, item := range d.items() {
		if record, ok := d.record(idx, item); ok {
			records = append(records, record)
		}
	}
	return records
}

// Find returns the first record whose id equals id.
func (d *Document) Find(id string) (*Record, bool) {
	for idx, item := range d.items() {
		record, ok := d.record(idx, item)
		if !ok {
			continue
		}
		if record.ID() == id {
			return record, true
		}
	}
	return nil, false
}

func (d *Document) record(idx int, item *yaml.Node) (*Record, bool) {
	if item.Kind != yaml.MappingNode {
		logging.WarnWithContext(d.logger, "skipping scenes entry that is not a mapping", "scene_record_skipped",
			logging.Int("index", idx),
			logging.String("kind", kindName(item.Kind)),
			logging.Int("line", item.Line),
			logging.String(logging.FieldErrorHint, "fix the entry in the scenes file"),
			logging.String(logging.FieldImpact, "entry is ignored by lookups and updates"),
		)
		return nil, false
	}
	idNode := Field(item, keyID)
	if idNode == nil || idNode.Kind != yaml.ScalarNode {
		logging.WarnWithContext(d.logger, "skipping scene record without a scalar id", "scene_record_skipped",
			logging.Int("index", idx),
			logging.Int("line", item.Line),
			logging.String(logging.FieldErrorHint, "give the scene a string id"),
			logging.String(logging.FieldImpact, "scene cannot be looked up or updated"),
		)
		return nil, false
	}
	return &Record{node: item, logger: d.logger}, true
}

// Append adds a record at the end of the document.
func (d *Document) Append(record *Record) {
	seq := d.root.Content[0]
	seq.Content = append(seq.Content, record.node)
}

// Encode serializes the document with two-space indentation.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, fmt.Errorf("encode scenes document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode scenes document: %w", err)
	}
	return buf.Bytes(), nil
}

// Field returns the value stored under key in a mapping node, or nil.
func Field(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// SetField replaces the value under key in place, appending the key when it
// is missing.
func SetField(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content, StringNode(key), value)
}

// StringNode returns a plain string scalar node.
func StringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// MappingNode returns an empty mapping node.
func MappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return fmt.Sprintf("kind %d", kind)
	}
}
