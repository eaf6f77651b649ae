package configsync

import (
	"sort"
	"strings"
)

// Document is an immutable config tree. Updates return a new document and
// leave the receiver untouched.
type Document struct {
	root map[string]any
}

// NewDocument copies m into a document.
func NewDocument(m map[string]any) Document {
	return Document{root: copyMap(m)}
}

// IsZero reports whether the document holds no tree.
func (d Document) IsZero() bool {
	return d.root == nil
}

// Map returns a deep copy of the tree.
func (d Document) Map() map[string]any {
	return copyMap(d.root)
}

// Get returns the value at a dotted path.
func (d Document) Get(path string) (any, bool) {
	var node any = d.root
	for _, key := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[key]; !ok {
			return nil, false
		}
	}
	if v, ok := node.([]any); ok {
		return copySlice(v), true
	}
	return node, true
}

// With returns a copy of the document with the value at path replaced.
// The path must already exist.
func (d Document) With(path string, value any) (Document, error) {
	keys := strings.Split(path, ".")
	next := copyMap(d.root)
	node := next
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return Document{}, invalid("unknown config field %s", path)
		}
		node = child
	}
	last := keys[len(keys)-1]
	if _, ok := node[last]; !ok {
		return Document{}, invalid("unknown config field %s", path)
	}
	node[last] = value
	return Document{root: next}, nil
}

// Paths lists the leaf paths in sorted order.
func (d Document) Paths() []string {
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(path, child)
				continue
			}
			out = append(out, path)
		}
	}
	walk("", d.root)
	sort.Strings(out)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copySlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		return copySlice(t)
	default:
		return v
	}
}
