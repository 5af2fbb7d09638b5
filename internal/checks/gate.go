package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GateCheckResult holds the result of a single constraint within a gate run.
type GateCheckResult struct {
	Constraint string        `json:"constraint"`
	Kind       Kind          `json:"kind"`
	Passed     bool          `json:"passed"`
	Summary    string        `json:"summary,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// GateResult is the structured output of validating one candidate.
type GateResult struct {
	Stage      string            `json:"stage"`
	Attempt    int               `json:"attempt"`
	Passed     bool              `json:"passed"`
	Checks     []GateCheckResult `json:"checks"`
	Violations []Violation       `json:"violations,omitempty"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GateOpts identifies the candidate being validated.
type GateOpts struct {
	Stage   string
	Attempt int
	Vars    map[string]string
}

// Validator evaluates constraint sets. It never touches run context.
type Validator struct {
	judge Judge
}

// NewValidator creates a Validator. judge may be nil when no constraint needs one.
func NewValidator(judge Judge) *Validator {
	return &Validator{judge: judge}
}

// Validate checks text against every constraint in set, in order, collecting
// all violations rather than stopping at the first. It returns an error only
// when a check could not run (for example a judge call failed); a gateway
// error from a semantic check is returned as-is so the caller can retry it.
func (v *Validator) Validate(ctx context.Context, text string, set []Constraint, opts GateOpts) (*GateResult, error) {
	gate := &GateResult{
		Stage:   opts.Stage,
		Attempt: opts.Attempt,
		Passed:  true,
	}
	subject := &Subject{
		Text:    text,
		Stage:   opts.Stage,
		Attempt: opts.Attempt,
		Vars:    opts.Vars,
		judge:   v.judge,
	}

	for _, c := range set {
		start := time.Now()
		ok, desc, err := c.Check(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.ID(), err)
		}

		gate.Checks = append(gate.Checks, GateCheckResult{
			Constraint: c.ID(),
			Kind:       c.Kind(),
			Passed:     ok,
			Summary:    desc,
			Duration:   time.Since(start),
		})
		if !ok {
			gate.Passed = false
			gate.Violations = append(gate.Violations, Violation{
				ConstraintID: c.ID(),
				Kind:         c.Kind(),
				Description:  desc,
			})
		}
	}
	return gate, nil
}
