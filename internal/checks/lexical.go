package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

type maxLength struct {
	base
	max int
}

func (c maxLength) Check(_ context.Context, s *Subject) (bool, string, error) {
	n := utf8.RuneCountInString(s.Text)
	if n > c.max {
		return false, fmt.Sprintf("length %d exceeds maximum %d characters", n, c.max), nil
	}
	return true, "", nil
}

type minLength struct {
	base
	min int
}

func (c minLength) Check(_ context.Context, s *Subject) (bool, string, error) {
	n := utf8.RuneCountInString(s.Text)
	if n < c.min {
		return false, fmt.Sprintf("length %d is below minimum %d characters", n, c.min), nil
	}
	return true, "", nil
}

// maxWords limits the word count of the whole output, or of one string field
// of a JSON output when key is set.
type maxWords struct {
	base
	max int
	key string
}

func (c maxWords) Check(_ context.Context, s *Subject) (bool, string, error) {
	text := s.Text
	where := ""
	if c.key != "" {
		v, desc := lookupPath(s, c.key)
		if desc != "" {
			// An absent optional field has no words to count.
			if v == nil && strings.HasPrefix(desc, "missing") {
				return true, "", nil
			}
			return false, desc, nil
		}
		str, ok := v.(string)
		if !ok {
			return false, fmt.Sprintf("%q is a JSON %s, not a string", c.key, jsonType(v)), nil
		}
		text = str
		where = fmt.Sprintf(" in %q", c.key)
	}
	n := len(strings.Fields(text))
	if n > c.max {
		return false, fmt.Sprintf("%d words%s exceeds maximum %d", n, where, c.max), nil
	}
	return true, "", nil
}

type forbiddenTerms struct {
	base
	terms []string
}

func (c forbiddenTerms) Check(_ context.Context, s *Subject) (bool, string, error) {
	lower := strings.ToLower(s.Text)
	var found []string
	for _, term := range c.terms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, fmt.Sprintf("%q", term))
		}
	}
	if len(found) > 0 {
		return false, "contains forbidden terms: " + strings.Join(found, ", "), nil
	}
	return true, "", nil
}

type mustMatch struct {
	base
	re *regexp.Regexp
}

func (c mustMatch) Check(_ context.Context, s *Subject) (bool, string, error) {
	if !c.re.MatchString(s.Text) {
		return false, fmt.Sprintf("does not match pattern %q", c.re.String()), nil
	}
	return true, "", nil
}
