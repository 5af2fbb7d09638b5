package prompt

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/refinery/internal/config"
)

type mapLookup map[string]string

func (m mapLookup) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func newTestResolver(t *testing.T, pipelineVars map[string]string) *Resolver {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "intro.md"),
		"[{{stage_id}} -> {{output_key}}] {{title}}: {{topic}} in {{language}}{{#if tone}} ({{tone}}){{/if}}")
	lib, err := LoadLibrary(dir, []string{"intro.md"})
	if err != nil {
		t.Fatalf("LoadLibrary() error: %v", err)
	}
	return NewResolver(lib, pipelineVars)
}

func introStage() *config.Stage {
	return &config.Stage{
		ID:             "intro",
		Title:          "Intro",
		PromptTemplate: "intro.md",
		Inputs:         []string{"topic"},
	}
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t, map[string]string{"language": "English"})

	out, err := r.Resolve(introStage(), mapLookup{"topic": "fractions"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if want := "[intro -> intro] Intro: fractions in English"; out != want {
		t.Errorf("Resolve() = %q, want %q", out, want)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := newTestResolver(t, map[string]string{"language": "English", "tone": "playful"})
	snap := mapLookup{"topic": "fractions"}

	first, err := r.Resolve(introStage(), snap)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	second, err := r.Resolve(introStage(), snap)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if first != second {
		t.Errorf("Resolve() not idempotent: %q vs %q", first, second)
	}
}

func TestResolve_MissingContextKey(t *testing.T) {
	r := newTestResolver(t, map[string]string{"language": "English"})
	stage := introStage()
	stage.Inputs = []string{"topic", "grade"}

	_, err := r.Resolve(stage, mapLookup{})
	if !errors.Is(err, ErrMissingContextKey) {
		t.Fatalf("Resolve() error = %v, want ErrMissingContextKey", err)
	}
	if !strings.Contains(err.Error(), "topic, grade") {
		t.Errorf("error = %q, want it to list topic, grade", err)
	}
}

func TestVars_Precedence(t *testing.T) {
	r := newTestResolver(t, map[string]string{"language": "English", "topic": "pipeline", "tone": "calm"})
	stage := introStage()
	stage.Vars = map[string]string{"language": "Spanish", "topic": "stage"}
	stage.Output = "opening"

	vars, err := r.Vars(stage, mapLookup{"topic": "context", "unrelated": "x"})
	if err != nil {
		t.Fatalf("Vars() error: %v", err)
	}

	// stage vars override pipeline vars; context inputs override stage vars
	want := map[string]string{
		"language":   "Spanish",
		"topic":      "context",
		"tone":       "calm",
		"output_key": "opening",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("vars[%q] = %q, want %q", k, vars[k], v)
		}
	}
	if _, ok := vars["unrelated"]; ok {
		t.Error("only declared inputs should be exposed")
	}
}

func TestAugment_NoFeedback(t *testing.T) {
	r := newTestResolver(t, nil)
	out, err := r.Augment("base prompt", 1, nil)
	if err != nil {
		t.Fatalf("Augment() error: %v", err)
	}
	if out != "base prompt" {
		t.Errorf("Augment() = %q, want base prompt unchanged", out)
	}
}

func TestAugment_Deterministic(t *testing.T) {
	r := newTestResolver(t, nil)
	fb := []Feedback{{Constraint: "max_length", Description: "too long"}}

	a, err := r.Augment("base", 3, fb)
	if err != nil {
		t.Fatalf("Augment() error: %v", err)
	}
	b, err := r.Augment("base", 3, fb)
	if err != nil {
		t.Fatalf("Augment() error: %v", err)
	}
	if a != b {
		t.Errorf("Augment() not deterministic:\n%s\nvs\n%s", a, b)
	}
	if !strings.Contains(a, "Attempt 2 did not satisfy") {
		t.Errorf("Augment() = %q, want it to name the previous attempt", a)
	}
}

func TestSystem(t *testing.T) {
	r := newTestResolver(t, nil)
	if got := r.System(introStage()); got != DefaultSystem {
		t.Errorf("System() = %q, want default", got)
	}

	r = newTestResolver(t, map[string]string{"system": "pipeline system"})
	if got := r.System(introStage()); got != "pipeline system" {
		t.Errorf("System() = %q, want pipeline system", got)
	}

	stage := introStage()
	stage.Vars = map[string]string{"system": "stage system"}
	if got := r.System(stage); got != "stage system" {
		t.Errorf("System() = %q, want stage system", got)
	}
}
