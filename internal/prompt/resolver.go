package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/refinery/internal/config"
)

// ErrMissingContextKey is returned when a stage input is absent from the
// context snapshot it is resolved against.
var ErrMissingContextKey = errors.New("missing context key")

// Lookup is a read-only view of run context rendered as prompt text.
type Lookup interface {
	Lookup(key string) (string, bool)
}

// Feedback is one unresolved problem from a previous attempt, fed back into the
// next prompt.
type Feedback struct {
	Constraint  string
	Description string
}

// Resolver turns a stage definition plus a context snapshot into a prompt.
// It holds no mutable state: identical inputs always produce identical prompts.
type Resolver struct {
	lib          *Library
	pipelineVars map[string]string
}

// NewResolver creates a Resolver over a loaded template library.
func NewResolver(lib *Library, pipelineVars map[string]string) *Resolver {
	return &Resolver{lib: lib, pipelineVars: pipelineVars}
}

// Library returns the template library the resolver renders from.
func (r *Resolver) Library() *Library {
	return r.lib
}

// Vars assembles template variables for a stage. Pipeline vars are overridden
// by stage vars, which are overridden by the stage's context inputs.
func (r *Resolver) Vars(stage *config.Stage, snap Lookup) (Vars, error) {
	vars := Vars{
		"stage_id":   stage.ID,
		"output_key": stage.OutputKey(),
		"title":      stage.Title,
	}
	for k, v := range r.pipelineVars {
		vars[k] = v
	}
	for k, v := range stage.Vars {
		vars[k] = v
	}

	var missing []string
	for _, key := range stage.Inputs {
		text, ok := snap.Lookup(key)
		if !ok {
			missing = append(missing, key)
			continue
		}
		vars[key] = text
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: stage %q needs %s", ErrMissingContextKey, stage.ID, strings.Join(missing, ", "))
	}
	return vars, nil
}

// Resolve builds the base prompt for a stage from the context snapshot.
func (r *Resolver) Resolve(stage *config.Stage, snap Lookup) (string, error) {
	vars, err := r.Vars(stage, snap)
	if err != nil {
		return "", err
	}
	return r.lib.Render(stage.PromptTemplate, vars)
}

// Augment appends the previous attempt's violations to a base prompt so the
// next attempt is steered toward compliance. With no feedback it returns base.
func (r *Resolver) Augment(base string, attempt int, feedback []Feedback) (string, error) {
	if len(feedback) == 0 {
		return base, nil
	}
	var b strings.Builder
	for i, f := range feedback {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s] %s", f.Constraint, f.Description)
	}
	return r.lib.Render(RefineTemplate, Vars{
		"prompt":           base,
		"attempt":          strconv.Itoa(attempt),
		"previous_attempt": strconv.Itoa(attempt - 1),
		"violations":       b.String(),
	})
}

// System returns the system message for a stage.
func (r *Resolver) System(stage *config.Stage) string {
	if s, ok := stage.Vars["system"]; ok && s != "" {
		return s
	}
	if s, ok := r.pipelineVars["system"]; ok && s != "" {
		return s
	}
	return DefaultSystem
}
