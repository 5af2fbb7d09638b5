package checks

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/lucasnoah/refinery/internal/config"
)

func checkOne(t *testing.T, format string, c config.Constraint, text string) (bool, string) {
	t.Helper()
	set := mustCompile(t, format, c)
	k := set[len(set)-1]
	ok, desc, err := k.Check(context.Background(), &Subject{Text: text})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	return ok, desc
}

func TestLexicalConstraints(t *testing.T) {
	tests := []struct {
		name     string
		c        config.Constraint
		text     string
		wantOK   bool
		wantDesc string
	}{
		{"max_length at limit", config.Constraint{Type: "max_length", Max: 5}, "héllo", true, ""},
		{"max_length over", config.Constraint{Type: "max_length", Max: 200}, strings.Repeat("x", 250), false, "length 250 exceeds maximum 200 characters"},
		{"min_length under", config.Constraint{Type: "min_length", Min: 10}, "short", false, "length 5 is below minimum 10 characters"},
		{"min_length ok", config.Constraint{Type: "min_length", Min: 3}, "short", true, ""},
		{"max_words over", config.Constraint{Type: "max_words", Max: 3}, "one two  three\nfour", false, "4 words exceeds maximum 3"},
		{"max_words ok", config.Constraint{Type: "max_words", Max: 4}, "one two three four", true, ""},
		{"forbidden case-insensitive", config.Constraint{Type: "forbidden_terms", Terms: []string{"As an AI", "lorem"}}, "as an ai, I think", false, `contains forbidden terms: "As an AI"`},
		{"forbidden multiple", config.Constraint{Type: "forbidden_terms", Terms: []string{"a1", "b2"}}, "A1 and B2", false, `contains forbidden terms: "a1", "b2"`},
		{"forbidden clean", config.Constraint{Type: "forbidden_terms", Terms: []string{"lorem"}}, "clean text", true, ""},
		{"must_match ok", config.Constraint{Type: "must_match", Pattern: `(?m)^Exit Ticket:`}, "...\nExit Ticket: 3/4 > 1/2?", true, ""},
		{"must_match miss", config.Constraint{Type: "must_match", Pattern: `^\d+$`}, "abc", false, `does not match pattern "^\\d+$"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, desc := checkOne(t, config.FormatText, tt.c, tt.text)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if desc != tt.wantDesc {
				t.Errorf("desc = %q, want %q", desc, tt.wantDesc)
			}
		})
	}
}

func TestRequiredSections(t *testing.T) {
	c := config.Constraint{Type: "required_sections", Sections: []string{"Objective", "Success Criteria", "Exit Ticket"}}
	text := "# Lesson\n\n## Objective\nStudents will...\n\n**Success criteria:**\n- I can...\n\nExit Ticket\n"

	ok, desc := checkOne(t, config.FormatText, c, text)
	if ok {
		t.Error("a plain line is not a section heading")
	}
	if want := `missing required sections: "Exit Ticket"`; desc != want {
		t.Errorf("desc = %q, want %q", desc, want)
	}

	if ok, desc = checkOne(t, config.FormatText, c, text+"### exit ticket\n"); !ok {
		t.Errorf("heading match should be case-insensitive, got %q", desc)
	}
}

func TestRequiredKeys(t *testing.T) {
	c := config.Constraint{Type: "required_keys", Keys: []string{"Objective_EN", "Exit_Ticket", "Materials"}}

	tests := []struct {
		doc  string
		want string
	}{
		{`{"Objective_EN": "x", "Materials": []}`, `missing required keys: "Exit_Ticket"`},
		{`["not", "an", "object"]`, "output is a JSON array, not an object"},
	}
	for _, tt := range tests {
		ok, desc := checkOne(t, config.FormatJSON, c, tt.doc)
		if ok {
			t.Errorf("%s: expected violation", tt.doc)
		}
		if desc != tt.want {
			t.Errorf("%s: desc = %q, want %q", tt.doc, desc, tt.want)
		}
	}
}

func TestListLength(t *testing.T) {
	doc := `{"worksheet": {"EN": ["q1","q2","q3","q4","q5","q6","q7","q8"], "ES": ["p1"]}, "title": "x"}`
	tests := []struct {
		name     string
		c        config.Constraint
		wantOK   bool
		wantDesc string
	}{
		{"exact ok", config.Constraint{Type: "list_length", Key: "worksheet.EN", Count: 8}, true, ""},
		{"exact short", config.Constraint{Type: "list_length", Key: "worksheet.ES", Count: 8}, false, `"worksheet.ES" has 1 items, want exactly 8`},
		{"min", config.Constraint{Type: "list_length", Key: "worksheet.ES", Min: 2}, false, `"worksheet.ES" has 1 items, want at least 2`},
		{"max", config.Constraint{Type: "list_length", Key: "worksheet.EN", Max: 5}, false, `"worksheet.EN" has 8 items, want at most 5`},
		{"missing key", config.Constraint{Type: "list_length", Key: "worksheet.FR", Count: 8}, false, `missing key "worksheet.FR"`},
		{"not array", config.Constraint{Type: "list_length", Key: "title", Count: 1}, false, `"title" is a JSON string, not an array`},
		{"descend into string", config.Constraint{Type: "list_length", Key: "title.x", Count: 1}, false, `"title.x": cannot descend into a JSON string`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, desc := checkOne(t, config.FormatJSON, tt.c, doc)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if desc != tt.wantDesc {
				t.Errorf("desc = %q, want %q", desc, tt.wantDesc)
			}
		})
	}
}

func TestMaxWords_JSONKey(t *testing.T) {
	c := config.Constraint{Type: "max_words", Max: 300, Key: "Passage_EN"}

	if ok, desc := checkOne(t, config.FormatJSON, c, `{"Passage_EN": "A short story."}`); !ok {
		t.Errorf("short passage rejected: %s", desc)
	}
	// an absent optional passage has no words
	if ok, desc := checkOne(t, config.FormatJSON, c, `{"EN": []}`); !ok {
		t.Errorf("absent passage rejected: %s", desc)
	}

	long := strings.Repeat("word ", 301)
	ok, desc := checkOne(t, config.FormatJSON, c, `{"Passage_EN": "`+long+`"}`)
	if ok {
		t.Error("301-word passage should be rejected")
	}
	if want := `301 words in "Passage_EN" exceeds maximum 300`; desc != want {
		t.Errorf("desc = %q, want %q", desc, want)
	}
}

func TestJSONSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["EN", "ES"],
		"properties": {
			"EN": {"type": "array", "items": {"type": "string"}, "minItems": 8, "maxItems": 8},
			"ES": {"type": "array", "items": {"type": "string"}}
		}
	}`
	c := config.Constraint{ID: "shape", Type: "json_schema", Schema: schema}

	if ok, desc := checkOne(t, config.FormatJSON, c, `{"EN": ["1","2","3","4","5","6","7","8"], "ES": []}`); !ok {
		t.Errorf("valid document rejected: %s", desc)
	}

	ok, desc := checkOne(t, config.FormatJSON, c, `{"EN": ["1", 2]}`)
	if ok {
		t.Error("invalid document accepted")
	}
	if !strings.HasPrefix(desc, "schema violations: ") {
		t.Errorf("desc = %q, want schema violations prefix", desc)
	}
	for _, want := range []string{"ES", "/EN"} {
		if !strings.Contains(desc, want) {
			t.Errorf("desc = %q, want it to mention %q", desc, want)
		}
	}

	ok, desc = checkOne(t, config.FormatJSON, c, `{oops`)
	if ok || !strings.Contains(desc, "not valid JSON") {
		t.Errorf("malformed JSON: ok=%v desc=%q", ok, desc)
	}
}

func TestSubject_ParsesOnce(t *testing.T) {
	s := &Subject{Text: `{"a": 1}`}
	v1, err := s.JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}
	s.Text = "changed"
	v2, err := s.JSON()
	if err != nil {
		t.Fatalf("second JSON() error: %v", err)
	}
	if !reflect.DeepEqual(v1, v2) {
		t.Errorf("JSON() re-parsed: %v vs %v", v1, v2)
	}
}
