package rule

import (
	"fmt"
	"sort"

	yaml "gopkg.in/yaml.v3"
)

// MappingEntry is one key of a YAML mapping.
type MappingEntry struct {
	Key   string
	Value any
}

// Mapping is a YAML mapping that keeps its keys in document order. Nested
// values are Mapping, []any or decoded scalars.
type Mapping []MappingEntry

// Get returns the value stored under key.
func (m Mapping) Get(key string) (any, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// GetString returns the value under key when it is a string.
func (m Mapping) GetString(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

// decodeNode converts a yaml node into ordered Go values.
func decodeNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return decodeNode(n.Content[0])
	case yaml.AliasNode:
		return decodeNode(n.Alias)
	case yaml.MappingNode:
		m := make(Mapping, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: mapping key: %w", n.Content[i].Line, err)
			}
			val, err := decodeNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m = append(m, MappingEntry{Key: key, Value: val})
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := decodeNode(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
	}
}

// FromAny converts decoded values into ordered form. Plain maps are sorted
// by key since their order is lost.
func FromAny(v any) any {
	switch t := v.(type) {
	case Mapping:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := make(Mapping, 0, len(t))
		for _, k := range keys {
			m = append(m, MappingEntry{Key: k, Value: FromAny(t[k])})
		}
		return m
	case map[any]any:
		conv := make(map[string]any, len(t))
		for k, val := range t {
			conv[fmt.Sprint(k)] = val
		}
		return FromAny(conv)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = FromAny(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}
