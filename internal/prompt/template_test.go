package prompt

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		vars Vars
		want string
	}{
		{
			name: "simple vars",
			tmpl: "Grade {{grade}} lesson on {{teks_code}}.",
			vars: Vars{"grade": "3", "teks_code": "3.4A"},
			want: "Grade 3 lesson on 3.4A.",
		},
		{
			name: "conditional present",
			tmpl: "Start.{{#if notes}}\nNotes: {{notes}}\n{{/if}}End.",
			vars: Vars{"notes": "use fraction strips"},
			want: "Start.\nNotes: use fraction strips\nEnd.",
		},
		{
			name: "conditional absent drops inner vars",
			tmpl: "Start.{{#if notes}}\nNotes: {{notes}}\n{{/if}}End.",
			vars: Vars{},
			want: "Start.End.",
		},
		{
			name: "conditional empty string",
			tmpl: "A{{#if x}}B{{/if}}C",
			vars: Vars{"x": ""},
			want: "AC",
		},
		{
			name: "nested both present",
			tmpl: "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}",
			vars: Vars{"a": "yes", "b": "yes"},
			want: "outer inner end",
		},
		{
			name: "nested outer absent",
			tmpl: "START{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}FINISH",
			vars: Vars{},
			want: "STARTFINISH",
		},
		{
			name: "trailing whitespace in tag",
			tmpl: "{{#if x }}content{{/if}}",
			vars: Vars{"x": "yes"},
			want: "content",
		},
		{
			name: "values are not re-expanded",
			tmpl: "{{a}} and {{b}}",
			vars: Vars{"a": "{{b}}", "b": "hello"},
			want: "{{b}} and hello",
		},
		{
			name: "value that looks like an end tag",
			tmpl: "{{#if note}}Note: {{note}}{{/if}} done",
			vars: Vars{"note": "use {{/if}} carefully"},
			want: "Note: use {{/if}} carefully done",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_MissingVars(t *testing.T) {
	_, err := Render("{{a}} and {{b}} and {{c}}", Vars{"b": "x"})
	if err == nil {
		t.Fatal("expected error for missing vars")
	}
	if !strings.Contains(err.Error(), "missing template variables: a, c") {
		t.Errorf("error = %q, want missing a, c", err)
	}
}

func TestRender_TemplateErrors(t *testing.T) {
	tests := []struct {
		tmpl string
		want string
	}{
		{"START{{#if x}}content", "unclosed"},
		{"content{{/if}}", "dangling"},
	}
	for _, tt := range tests {
		_, err := Render(tt.tmpl, Vars{"x": "yes"})
		if err == nil {
			t.Errorf("Render(%q): expected error", tt.tmpl)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Render(%q) error = %q, want it to contain %q", tt.tmpl, err, tt.want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{{#if a}}{{b}}{{/if}} {{c}} {{b}}")
	if want := []string{"b", "c"}; !slices.Equal(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}
}

func TestBuiltinTemplates_Render(t *testing.T) {
	vars := Vars{
		"grade":       "3",
		"subject":     "Math",
		"teks_code":   "3.3F",
		"lesson_plan": `{"Objective_EN": "Compare fractions"}`,
		"worksheet":   `{"EN": ["Q1"]}`,
	}
	for _, name := range []string{"lesson_plan.md", "worksheet.md", "answer_key.md"} {
		t.Run(name, func(t *testing.T) {
			tmpl, ok := Builtin(name)
			if !ok {
				t.Fatalf("Builtin(%q) not found", name)
			}
			out, err := Render(tmpl, vars)
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if !strings.Contains(out, "3.3F") {
				t.Error("rendered template should contain the TEKS code")
			}
			if strings.Contains(out, "{{") {
				t.Errorf("rendered template has unexpanded tags:\n%s", out)
			}
		})
	}
}

func TestBuiltinNames(t *testing.T) {
	want := []string{"answer_key.md", "lesson_plan.md", "refine.md", "semantic_judge.md", "worksheet.md"}
	if got := BuiltinNames(); !slices.Equal(got, want) {
		t.Errorf("BuiltinNames() = %v, want %v", got, want)
	}
}

func TestLoadLibrary_Builtins(t *testing.T) {
	lib, err := LoadLibrary("", []string{"lesson_plan.md"})
	if err != nil {
		t.Fatalf("LoadLibrary() error: %v", err)
	}

	if want := []string{"lesson_plan.md", "refine.md", "semantic_judge.md"}; !slices.Equal(lib.Names(), want) {
		t.Errorf("Names() = %v, want %v", lib.Names(), want)
	}
	if src := lib.Source("lesson_plan.md"); src != "builtin" {
		t.Errorf("Source() = %q, want builtin", src)
	}
	// templates not requested are not loaded
	if _, err := lib.Template("worksheet.md"); err == nil {
		t.Error("expected error for template that was not requested")
	}
}

func TestLoadLibrary_Override(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "intro.md"), "Intro about {{topic}}")
	writeFile(t, filepath.Join(dir, "refine.md"), "{{prompt}} / retry {{attempt}}: {{violations}} ({{previous_attempt}})")

	lib, err := LoadLibrary(dir, []string{"intro.md"})
	if err != nil {
		t.Fatalf("LoadLibrary() error: %v", err)
	}
	sources := map[string]string{
		"intro.md":          filepath.Join(dir, "intro.md"),
		"refine.md":         filepath.Join(dir, "refine.md"),
		"semantic_judge.md": "builtin",
	}
	for name, want := range sources {
		if got := lib.Source(name); got != want {
			t.Errorf("Source(%q) = %q, want %q", name, got, want)
		}
	}

	out, err := lib.Render("intro.md", Vars{"topic": "fractions"})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if out != "Intro about fractions" {
		t.Errorf("Render() = %q, want %q", out, "Intro about fractions")
	}
}

func TestLoadLibrary_NotFound(t *testing.T) {
	_, err := LoadLibrary(t.TempDir(), []string{"nonexistent.md"})
	if err == nil {
		t.Fatal("expected error for missing template")
	}
	if !strings.Contains(err.Error(), "nonexistent.md") {
		t.Errorf("error = %q, want it to name the template", err)
	}
}

func TestLoadLibrary_PathTraversal(t *testing.T) {
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "templates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tmp, "secret.txt"), "TOP SECRET")

	_, err := LoadLibrary(dir, []string{"../secret.txt"})
	if err == nil {
		t.Fatal("expected error for path traversal")
	}
	if !strings.Contains(err.Error(), "escapes template dir") {
		t.Errorf("error = %q, want escapes template dir", err)
	}
}

func TestInstallBuiltinTemplates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "worksheet.md"), "custom")

	written, err := InstallBuiltinTemplates(dir)
	if err != nil {
		t.Fatalf("InstallBuiltinTemplates() error: %v", err)
	}
	if slices.Contains(written, "worksheet.md") {
		t.Error("existing worksheet.md should not be reported as written")
	}
	if len(written) != len(BuiltinNames())-1 {
		t.Errorf("wrote %d templates, want %d", len(written), len(BuiltinNames())-1)
	}

	data, err := os.ReadFile(filepath.Join(dir, "worksheet.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "custom" {
		t.Errorf("worksheet.md = %q, existing templates must not be overwritten", data)
	}

	written, err = InstallBuiltinTemplates(dir)
	if err != nil {
		t.Fatalf("second InstallBuiltinTemplates() error: %v", err)
	}
	if len(written) != 0 {
		t.Errorf("second install wrote %v, want nothing", written)
	}
}

func TestInstallBuiltinTemplates_NoDir(t *testing.T) {
	if _, err := InstallBuiltinTemplates(""); err == nil {
		t.Error("expected error for empty dir")
	}
}

func TestRefineTemplate_ListsViolations(t *testing.T) {
	lib, err := LoadLibrary("", nil)
	if err != nil {
		t.Fatalf("LoadLibrary() error: %v", err)
	}
	r := NewResolver(lib, nil)

	out, err := r.Augment("Write an intro.", 2, []Feedback{
		{Constraint: "max_length", Description: "length 250 exceeds maximum 200"},
		{Constraint: "forbidden_terms", Description: `contains forbidden term "lorem"`},
	})
	if err != nil {
		t.Fatalf("Augment() error: %v", err)
	}
	if !strings.HasPrefix(out, "Write an intro.\n") {
		t.Errorf("augmented prompt should start with the base prompt:\n%s", out)
	}
	for _, want := range []string{
		"Attempt 1 did not satisfy every requirement. This is attempt 2.",
		"- [max_length] length 250 exceeds maximum 200\n- [forbidden_terms] contains forbidden term \"lorem\"",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("augmented prompt missing %q:\n%s", want, out)
		}
	}
}
