package context

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Value is a context entry: a string, a list ([]any), a record (map[string]any),
// or a scalar (bool, float64, int). Values are normalized on commit so that
// lists and records only ever contain these shapes.
type Value = any

// Normalize converts v into the canonical shapes and deep-copies it.
// Typed slices and maps (e.g. []string, map[string]string) become []any and
// map[string]any. Anything else is round-tripped through JSON.
func Normalize(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, int, int64:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return out, nil
}

// clone deep-copies a normalized value.
func clone(v Value) Value {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clone(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = clone(e)
		}
		return out
	}
	return v
}

// Text renders a value for inclusion in a prompt. Strings are returned verbatim,
// lists of scalars become "- item" lines, and everything else is indented JSON.
// encoding/json sorts map keys, so the output is deterministic.
func Text(v Value) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		if lines, ok := scalarLines(t); ok {
			return strings.Join(lines, "\n")
		}
	case bool, float64, int, int64:
		return fmt.Sprint(t)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func scalarLines(list []any) ([]string, bool) {
	lines := make([]string, 0, len(list))
	for _, e := range list {
		switch e.(type) {
		case []any, map[string]any:
			return nil, false
		}
		lines = append(lines, "- "+Text(e))
	}
	return lines, true
}
