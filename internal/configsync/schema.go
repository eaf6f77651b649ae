package configsync

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/verte-zerg/lprdesk/internal/model"
)

// Kind is the value type of a config field.
type Kind int

const (
	// Raw fields use loose coercion: float, then integer, then the
	// text as given.
	Raw Kind = iota
	Int
	Float
	// Pair fields are fixed-length integer arrays edited one slot at a time.
	Pair
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case Pair:
		return "pair"
	default:
		return "raw"
	}
}

// Schema maps "section.NAME" paths to field kinds.
type Schema map[string]Kind

// DefaultSchema describes the fields the recognition service exposes.
func DefaultSchema() Schema {
	return Schema{
		"preprocess.GAUSSIAN_SMOOTH_FILTER_SIZE": Pair,
		"preprocess.ADAPTIVE_THRESH_BLOCK_SIZE":  Int,
		"preprocess.ADAPTIVE_THRESH_WEIGHT":      Float,
		"plate.RESIZED_IMAGE_WIDTH":              Int,
		"plate.RESIZED_IMAGE_HEIGHT":             Int,
		"plate.Min_char":                         Float,
		"plate.Max_char":                         Float,
		"knn.K":                                  Int,
	}
}

// Lookup returns the kind for path, Raw when the schema does not name it.
func (s Schema) Lookup(path string) Kind {
	if k, ok := s[path]; ok {
		return k
	}
	return Raw
}

func invalid(format string, args ...any) error {
	return &model.ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// parseField converts raw for the field at path whose current value is
// current. Array values only accept slot edits and scalars never do.
// Sections are not fields.
func parseField(path string, kind Kind, current any, raw string, index *int) (any, error) {
	if _, isSection := current.(map[string]any); isSection {
		return nil, invalid("%s is a section, not a field", path)
	}
	slots, isArray := current.([]any)
	if kind == Pair && !isArray {
		return nil, invalid("%s is not a pair in the current config", path)
	}
	if index != nil {
		if !isArray {
			return nil, invalid("%s is not a pair; no index expected", path)
		}
		if *index < 0 || *index >= len(slots) {
			return nil, invalid("%s has no slot %d", path, *index)
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, invalid("%s[%d] must be an integer: %q", path, *index, raw)
		}
		out := make([]any, len(slots))
		copy(out, slots)
		out[*index] = n
		return out, nil
	}
	if isArray {
		return nil, invalid("%s is a pair; an index is required", path)
	}

	text := strings.TrimSpace(raw)
	switch kind {
	case Int:
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, invalid("%s must be an integer: %q", path, raw)
		}
		return n, nil
	case Float:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, invalid("%s must be a number: %q", path, raw)
		}
		return f, nil
	default:
		if f, err := strconv.ParseFloat(text, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
		if n, err := strconv.ParseInt(text, 0, 64); err == nil {
			return n, nil
		}
		return raw, nil
	}
}
