package checks

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/gateway"
	"github.com/lucasnoah/refinery/internal/prompt"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply string
		want  Verdict
	}{
		{"PASS", Verdict{Pass: true}},
		{"\n  pass — looks aligned", Verdict{Pass: true}},
		{"**PASS**", Verdict{Pass: true}},
		{"FAIL: drifts into decimals", Verdict{Reason: "drifts into decimals"}},
		{"fail - off topic\nmore detail", Verdict{Reason: "off topic"}},
		{"FAIL", Verdict{Reason: "judge rejected the content"}},
	}
	for _, tt := range tests {
		got, err := ParseVerdict(tt.reply)
		if err != nil {
			t.Errorf("ParseVerdict(%q) error: %v", tt.reply, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVerdict(%q) = %+v, want %+v", tt.reply, got, tt.want)
		}
	}

	_, err := ParseVerdict("I think it is mostly fine")
	if kind, ok := gateway.KindOf(err); !ok || kind != gateway.KindInvalidResponse {
		t.Errorf("KindOf(err) = %q, %v; want InvalidResponse", kind, ok)
	}
}

func TestParseVerdict_UnrecognizedMultibyte(t *testing.T) {
	_, err := ParseVerdict(strings.Repeat("é", 100))
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *gateway.Error", err)
	}
	if !utf8.ValidString(ge.Message) {
		t.Errorf("message is not valid UTF-8: %q", ge.Message)
	}
	if want := strings.Repeat("é", 80) + `..."`; !strings.HasSuffix(ge.Message, want) {
		t.Errorf("message = %q, want it cut at 80 characters", ge.Message)
	}
}

func newJudge(t *testing.T, gw gateway.Gateway) *GatewayJudge {
	t.Helper()
	lib, err := prompt.LoadLibrary("", nil)
	if err != nil {
		t.Fatalf("LoadLibrary() error: %v", err)
	}
	return NewGatewayJudge(gw, lib, "judge-model", 0)
}

func TestGatewayJudge_CallsGatewayAndCaches(t *testing.T) {
	gw := gateway.NewScripted().Add("intro_judge", gateway.Text("FAIL: mentions decimals"))
	j := newJudge(t, gw)
	req := JudgeRequest{Stage: "intro", Attempt: 1, Criteria: "Only about fractions", Text: "Decimals are great"}
	want := Verdict{Reason: "mentions decimals"}

	for i := 0; i < 2; i++ {
		v, err := j.Judge(context.Background(), req)
		if err != nil {
			t.Fatalf("Judge() #%d error: %v", i+1, err)
		}
		if v != want {
			t.Errorf("Judge() #%d = %+v, want %+v", i+1, v, want)
		}
	}

	// second verdict comes from cache
	calls := gw.Calls()
	if len(calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(calls))
	}
	if calls[0].Model != "judge-model" {
		t.Errorf("Model = %q, want judge-model", calls[0].Model)
	}
	for _, s := range []string{"Only about fractions", "Decimals are great"} {
		if !strings.Contains(calls[0].Prompt, s) {
			t.Errorf("judge prompt missing %q", s)
		}
	}
	if n := j.CachedVerdicts(); n != 1 {
		t.Errorf("CachedVerdicts() = %d, want 1", n)
	}
}

func TestGatewayJudge_FailuresNotCached(t *testing.T) {
	gw := gateway.NewScripted().Add("intro_judge", gateway.Fail(gateway.KindRateLimited), gateway.Text("PASS"))
	j := newJudge(t, gw)
	req := JudgeRequest{Stage: "intro", Criteria: "c", Text: "t"}

	_, err := j.Judge(context.Background(), req)
	if kind, _ := gateway.KindOf(err); kind != gateway.KindRateLimited {
		t.Errorf("KindOf(err) = %q, want RateLimited", kind)
	}
	if n := j.CachedVerdicts(); n != 0 {
		t.Errorf("CachedVerdicts() = %d, want 0 after failure", n)
	}

	v, err := j.Judge(context.Background(), req)
	if err != nil {
		t.Fatalf("retry Judge() error: %v", err)
	}
	if !v.Pass {
		t.Errorf("retry verdict = %+v, want pass", v)
	}
}

func TestAlignment_Judge(t *testing.T) {
	judge := &stubJudge{verdict: Verdict{Reason: "off topic"}}
	set := mustCompile(t, config.FormatText, config.Constraint{ID: "aligned", Type: "alignment", Criteria: "Stays on TEKS {{teks_code}}"})

	gate, err := NewValidator(judge).Validate(context.Background(), "text", set, GateOpts{
		Stage: "lesson_plan", Attempt: 2, Vars: map[string]string{"teks_code": "3.3F"},
	})
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if len(gate.Violations) != 1 {
		t.Fatalf("len(Violations) = %d, want 1", len(gate.Violations))
	}
	if v := gate.Violations[0]; v.Kind != Semantic || v.Description != "judge: off topic" {
		t.Errorf("violation = %+v, want semantic judge: off topic", v)
	}

	if len(judge.calls) != 1 {
		t.Fatalf("judge calls = %d, want 1", len(judge.calls))
	}
	want := JudgeRequest{Stage: "lesson_plan", Attempt: 2, Criteria: "Stays on TEKS 3.3F", Text: "text"}
	if judge.calls[0] != want {
		t.Errorf("judge request = %+v, want %+v", judge.calls[0], want)
	}
}

func TestAlignment_Heuristic(t *testing.T) {
	c := config.Constraint{ID: "aligned", Type: "alignment", Mode: "heuristic", Criteria: "Compare fractions using numerators and denominators"}
	set := mustCompile(t, config.FormatText, c)
	if NeedsJudge(set) {
		t.Error("heuristic alignment should not need a judge")
	}

	// 3 of 5 keywords covered
	gate, err := NewValidator(nil).Validate(context.Background(), "We compare fractions by looking at numerators.", set, GateOpts{})
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !gate.Passed {
		t.Errorf("expected pass, got %v", gate.Violations)
	}

	gate, err = NewValidator(nil).Validate(context.Background(), "Today we paint pictures.", set, GateOpts{})
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if gate.Passed {
		t.Fatal("expected failure for off-topic text")
	}
	if !strings.HasPrefix(gate.Violations[0].Description, "covers 0% of criteria keywords (minimum 50%)") {
		t.Errorf("description = %q", gate.Violations[0].Description)
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("Compare fractions: numerators, and denominators, fractions with the topic.")
	if want := []string{"compare", "fractions", "numerators", "denominators"}; !slices.Equal(got, want) {
		t.Errorf("Keywords() = %v, want %v", got, want)
	}
	if got := Keywords("a an the of"); len(got) != 0 {
		t.Errorf("Keywords(stopwords) = %v, want none", got)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced with tag", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced without tag", "```\n{\"a\": 1}\n```\nThanks!", `{"a": 1}`},
		{"prose around", "Here you go:\n{\"a\": {\"b\": 2}}\nHope this helps.", `{"a": {"b": 2}}`},
		{"array", `  [1, 2]  `, `[1, 2]`},
		{"hopeless", "no json here", "no json here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  hello \n", config.FormatText); got != "hello" {
		t.Errorf("Normalize(text) = %q, want %q", got, "hello")
	}
	if got := Normalize("```json\n{\"a\":1}\n```", config.FormatJSON); got != `{"a":1}` {
		t.Errorf("Normalize(json) = %q, want %q", got, `{"a":1}`)
	}
}
