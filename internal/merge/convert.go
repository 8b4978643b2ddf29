package merge

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// ErrUnrepresentable reports an attribute value with no YAML form.
var ErrUnrepresentable = errors.New("value cannot be represented in the scenes file")

const maxDepth = 32

// Enumerated is implemented by enum-like values that persist as their
// underlying value rather than their Go type.
type Enumerated interface {
	EnumValue() any
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	integerLiteral = regexp.MustCompile(`^-?[0-9]+$`)
)

// Convert maps v onto the closed set of serializable variants: scalars
// (nil, string, bool, integers, floats), sequences, string-keyed mappings and
// enumerated values. time.Time becomes an RFC 3339 string and json.Number its
// numeric value (integers beyond 64 bits keep their exact digits as a YAML
// integer literal). Pointers and interfaces are followed. Anything else fails
// with ErrUnrepresentable.
//
// Inside mappings, keys whose value is nil are omitted; inside sequences nil
// elements are kept as null to preserve positions.
func Convert(v any) (any, error) {
	return convert(v, 0)
}

func convert(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnrepresentable, maxDepth)
	}
	switch val := v.(type) {
	case nil:
		return nil, nil
	case Enumerated:
		return convert(val.EnumValue(), depth+1)
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case json.Number:
		return convertNumber(val)
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case []byte:
		if !utf8.Valid(val) {
			return nil, fmt.Errorf("%w: binary data", ErrUnrepresentable)
		}
		return string(val), nil
	}
	return convertReflect(reflect.ValueOf(v), depth)
}

func convertNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	text := string(n)
	if integerLiteral.MatchString(text) {
		if u, err := strconv.ParseUint(text, 10, 64); err == nil {
			return u, nil
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: text}, nil
	}
	if f, err := n.Float64(); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("%w: malformed number %q", ErrUnrepresentable, text)
}

func convertReflect(rv reflect.Value, depth int) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return convert(rv.Elem().Interface(), depth+1)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := convert(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, elem)
		}
		return out, nil
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := mapKey(iter.Key())
			if err != nil {
				return nil, err
			}
			elem, err := convert(iter.Value().Interface(), depth+1)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", key, err)
			}
			if elem == nil {
				continue
			}
			out[key] = elem
		}
		return out, nil
	case reflect.Struct:
		if rv.Type() == timeType {
			return rv.Interface().(time.Time).Format(time.RFC3339Nano), nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported type %s", ErrUnrepresentable, rv.Type())
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", fmt.Errorf("%w: nil mapping key", ErrUnrepresentable)
		}
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(k.Interface()), nil
	}
	return "", fmt.Errorf("%w: mapping key of type %s", ErrUnrepresentable, k.Type())
}
