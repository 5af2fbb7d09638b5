package checks

import (
	"fmt"
	"regexp"

	"github.com/lucasnoah/refinery/internal/config"
)

// DefaultCoverage is the keyword coverage percentage heuristic alignment
// requires when the constraint does not set min.
const DefaultCoverage = 50

// ValidJSONID is the ID of the implicit constraint added to json-format stages.
const ValidJSONID = "valid_json"

// Compile turns declarative constraints into checkable ones. Regular expressions
// and JSON schemas are compiled here, so a bad pattern fails at load time.
// json-format stages get an implicit valid_json constraint first.
func Compile(format string, cfgs []config.Constraint) ([]Constraint, error) {
	var out []Constraint
	if format == config.FormatJSON {
		out = append(out, validJSON{base{ValidJSONID, Structural}})
	}

	for _, c := range cfgs {
		var k Constraint
		switch c.Type {
		case "required_sections":
			k = requiredSections{base{c.ID, Structural}, c.Sections}
		case "required_keys":
			k = requiredKeys{base{c.ID, Structural}, c.Keys}
		case "list_length":
			k = listLength{base: base{c.ID, Structural}, key: c.Key, count: c.Count, min: c.Min, max: c.Max}
		case "json_schema":
			schema, err := compileSchema(c.ID, c.Schema)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: compile schema: %w", c.ID, err)
			}
			k = jsonSchema{base{c.ID, Structural}, schema}
		case "max_length":
			k = maxLength{base{c.ID, Lexical}, c.Max}
		case "min_length":
			k = minLength{base{c.ID, Lexical}, c.Min}
		case "max_words":
			k = maxWords{base{c.ID, Lexical}, c.Max, c.Key}
		case "forbidden_terms":
			k = forbiddenTerms{base{c.ID, Lexical}, c.Terms}
		case "must_match":
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("constraint %q: compile pattern: %w", c.ID, err)
			}
			k = mustMatch{base{c.ID, Lexical}, re}
		case "alignment":
			cover := c.Min
			if cover <= 0 {
				cover = DefaultCoverage
			}
			k = alignment{base: base{c.ID, Semantic}, criteria: c.Criteria, heuristic: c.Mode == "heuristic", minCover: cover}
		default:
			return nil, fmt.Errorf("constraint %q: unrecognized type %q", c.ID, c.Type)
		}
		out = append(out, k)
	}
	return out, nil
}

// NeedsJudge reports whether any constraint delegates to a Judge.
func NeedsJudge(set []Constraint) bool {
	for _, c := range set {
		if a, ok := c.(alignment); ok && !a.heuristic {
			return true
		}
	}
	return false
}
