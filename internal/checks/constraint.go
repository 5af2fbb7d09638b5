// Package checks validates candidate outputs against a stage's constraint set.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind groups constraints by how they are evaluated.
type Kind string

const (
	// Structural constraints parse the output (sections, JSON shape).
	Structural Kind = "structural"
	// Lexical constraints measure the output directly (length, terms, patterns).
	Lexical Kind = "lexical"
	// Semantic constraints need a judgement about meaning, usually a secondary LLM call.
	Semantic Kind = "semantic"
)

// Violation is one failed constraint.
type Violation struct {
	ConstraintID string `json:"constraint_id"`
	Kind         Kind   `json:"kind"`
	Description  string `json:"description"`
}

// Constraint is a single checkable rule.
type Constraint interface {
	ID() string
	Kind() Kind
	// Check reports whether the subject satisfies the rule. The description
	// explains a failure. A non-nil error means the check itself could not run.
	Check(ctx context.Context, s *Subject) (ok bool, description string, err error)
}

// Subject is the candidate under validation plus what checks may need to
// evaluate it. The JSON form is parsed at most once.
type Subject struct {
	Text    string
	Stage   string
	Attempt int
	// Vars are the stage's template variables, available to semantic criteria.
	Vars map[string]string

	judge    Judge
	parsed   bool
	value    any
	parseErr error
}

// JSON returns the subject text decoded as JSON.
func (s *Subject) JSON() (any, error) {
	if !s.parsed {
		s.parsed = true
		s.parseErr = json.Unmarshal([]byte(s.Text), &s.value)
	}
	return s.value, s.parseErr
}

// object returns the subject as a JSON object, or a failure description.
func (s *Subject) object() (map[string]any, string) {
	v, err := s.JSON()
	if err != nil {
		return nil, fmt.Sprintf("output is not valid JSON: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Sprintf("output is a JSON %s, not an object", jsonType(v))
	}
	return obj, ""
}

func jsonType(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

// base carries the identity every constraint shares.
type base struct {
	id   string
	kind Kind
}

func (b base) ID() string { return b.id }
func (b base) Kind() Kind { return b.kind }
