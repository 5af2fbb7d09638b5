package checks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validJSON is added ahead of the configured constraints for json-format stages.
type validJSON struct {
	base
}

func (c validJSON) Check(_ context.Context, s *Subject) (bool, string, error) {
	if _, err := s.JSON(); err != nil {
		return false, fmt.Sprintf("output is not valid JSON: %v", err), nil
	}
	return true, "", nil
}

// requiredSections checks for markdown headings (or bold-only lines) naming
// each section, case-insensitively.
type requiredSections struct {
	base
	sections []string
}

func (c requiredSections) Check(_ context.Context, s *Subject) (bool, string, error) {
	have := headings(s.Text)
	var missing []string
	for _, sec := range c.sections {
		if !have[normalizeHeading(sec)] {
			missing = append(missing, fmt.Sprintf("%q", sec))
		}
	}
	if len(missing) > 0 {
		return false, "missing required sections: " + strings.Join(missing, ", "), nil
	}
	return true, "", nil
}

func headings(text string) map[string]bool {
	out := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "#"):
			out[normalizeHeading(strings.TrimLeft(line, "#"))] = true
		case strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") && len(line) > 4:
			out[normalizeHeading(line[2:len(line)-2])] = true
		}
	}
	return out
}

func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimSuffix(h, ":")
	return strings.ToLower(strings.TrimSpace(h))
}

type requiredKeys struct {
	base
	keys []string
}

func (c requiredKeys) Check(_ context.Context, s *Subject) (bool, string, error) {
	obj, desc := s.object()
	if obj == nil {
		return false, desc, nil
	}
	var missing []string
	for _, k := range c.keys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, fmt.Sprintf("%q", k))
		}
	}
	if len(missing) > 0 {
		return false, "missing required keys: " + strings.Join(missing, ", "), nil
	}
	return true, "", nil
}

// listLength checks the number of items in the JSON array at a dotted key path.
type listLength struct {
	base
	key   string
	count int
	min   int
	max   int
}

func (c listLength) Check(_ context.Context, s *Subject) (bool, string, error) {
	v, desc := lookupPath(s, c.key)
	if desc != "" {
		return false, desc, nil
	}
	list, ok := v.([]any)
	if !ok {
		return false, fmt.Sprintf("%q is a JSON %s, not an array", c.key, jsonType(v)), nil
	}
	n := len(list)
	switch {
	case c.count > 0 && n != c.count:
		return false, fmt.Sprintf("%q has %d items, want exactly %d", c.key, n, c.count), nil
	case c.min > 0 && n < c.min:
		return false, fmt.Sprintf("%q has %d items, want at least %d", c.key, n, c.min), nil
	case c.max > 0 && n > c.max:
		return false, fmt.Sprintf("%q has %d items, want at most %d", c.key, n, c.max), nil
	}
	return true, "", nil
}

// lookupPath resolves a dotted key path ("worksheet.EN") in the subject's JSON
// object. On failure it returns a description instead of a value.
func lookupPath(s *Subject, path string) (any, string) {
	obj, desc := s.object()
	if obj == nil {
		return nil, desc
	}
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Sprintf("%q: cannot descend into a JSON %s", path, jsonType(cur))
		}
		cur, ok = m[part]
		if !ok {
			return nil, fmt.Sprintf("missing key %q", path)
		}
	}
	return cur, ""
}

type jsonSchema struct {
	base
	schema *jsonschema.Schema
}

func compileSchema(id, schema string) (*jsonschema.Schema, error) {
	return jsonschema.CompileString(id+".schema.json", schema)
}

func (c jsonSchema) Check(_ context.Context, s *Subject) (bool, string, error) {
	v, err := s.JSON()
	if err != nil {
		return false, fmt.Sprintf("output is not valid JSON: %v", err), nil
	}
	if err := c.schema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return false, "schema violations: " + strings.Join(schemaMessages(ve), "; "), nil
		}
		return false, err.Error(), nil
	}
	return true, "", nil
}

// schemaMessages flattens a validation error tree into its leaf messages,
// sorted so descriptions are stable across runs.
func schemaMessages(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("at %s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
