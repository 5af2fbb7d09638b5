package cli

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// maxAttachmentChars caps the attachment summary handed to prompts.
const maxAttachmentChars = 6000

// Context keys derived from run flags rather than --param.
const (
	keyGrade          = "grade"
	keySubject        = "subject"
	keyCode           = "teks_code"
	keyBilingual      = "bilingual"
	keyNotes          = "teacher_notes"
	keyAttachments    = "attachments_excerpt"
	keyRequirePassage = "require_passage"
)

// parseParams turns repeated key=value flags into a map. Later keys win.
func parseParams(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", p)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// normalizeGrade maps kindergarten spellings to "K" and strips ordinal
// suffixes ("3rd" → "3").
func normalizeGrade(g string) string {
	g = strings.TrimSpace(g)
	switch strings.ToLower(g) {
	case "k", "kinder", "kindergarten":
		return "K"
	}
	lower := strings.ToLower(g)
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		if n, ok := strings.CutSuffix(lower, suffix); ok && n != "" && isDigits(n) {
			return n
		}
	}
	return g
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// flagValue renders a boolean parameter the way templates test it: "yes"
// for true, "" for false so {{#if}} blocks drop out.
func flagValue(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return "yes"
	}
	return ""
}

// runInputs are the raw caller inputs for one run.
type runInputs struct {
	Params      map[string]string
	Notes       string
	Attachments []attachment
}

// buildInitial assembles the initial context for a pipeline declaring the
// given inputs. Derived keys are only added when the pipeline declares them.
func buildInitial(in runInputs, declared []string) map[string]any {
	want := make(map[string]bool, len(declared))
	for _, k := range declared {
		want[k] = true
	}

	initial := make(map[string]any, len(in.Params)+4)
	for k, v := range in.Params {
		switch k {
		case keyGrade:
			v = normalizeGrade(v)
		case keyBilingual, keyRequirePassage:
			v = flagValue(v)
		}
		initial[k] = v
	}

	if want[keyNotes] {
		if _, set := initial[keyNotes]; !set {
			initial[keyNotes] = in.Notes
		}
	}
	if want[keyAttachments] {
		if _, set := initial[keyAttachments]; !set {
			initial[keyAttachments] = truncateRunes(summarizeAttachments(in.Attachments), maxAttachmentChars)
		}
	}
	if want[keyBilingual] {
		if _, set := initial[keyBilingual]; !set {
			initial[keyBilingual] = ""
		}
	}
	if want[keyRequirePassage] {
		if _, set := initial[keyRequirePassage]; !set {
			initial[keyRequirePassage] = ""
			if wantsPassage(in.Notes, in.Params[keySubject]) {
				initial[keyRequirePassage] = "yes"
			}
		}
	}
	return initial
}

// wantsPassage reports whether the worksheet needs a reading passage: the
// notes ask for a story or the subject is reading.
func wantsPassage(notes, subject string) bool {
	return strings.Contains(strings.ToLower(notes), "story") ||
		strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "read")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// readFiles reads each path as text.
func readFiles(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

// outputBase names output files G<grade>-<code>_<yymmdd>. Without a grade
// and code it falls back to <pipeline>_<yymmdd>.
func outputBase(initial map[string]any, pipelineName string, now time.Time) string {
	grade, _ := initial[keyGrade].(string)
	code, _ := initial[keyCode].(string)
	date := now.Format("060102")
	if grade == "" || code == "" {
		return fmt.Sprintf("%s_%s", pipelineName, date)
	}
	code = strings.ReplaceAll(strings.ReplaceAll(code, "/", "-"), " ", "")
	return fmt.Sprintf("G%s-%s_%s", normalizeGrade(grade), code, date)
}
