package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedConstraints is the set of valid constraint types.
var recognizedConstraints = map[string]bool{
	"required_sections": true,
	"required_keys":     true,
	"list_length":       true,
	"json_schema":       true,
	"max_length":        true,
	"min_length":        true,
	"max_words":         true,
	"forbidden_terms":   true,
	"must_match":        true,
	"alignment":         true,
}

var recognizedFormats = map[string]bool{FormatText: true, FormatJSON: true}

var settingsValidator = validator.New()

// Validate checks a PipelineConfig for structural and semantic errors, including the
// stage dependency order. It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *PipelineConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	validateGateway(p.Gateway, &errs)

	inputs := make(map[string]bool)
	for _, k := range p.Inputs {
		if inputs[k] {
			errs = append(errs, ValidationError{Field: "pipeline.inputs", Message: fmt.Sprintf("duplicate input %q", k)})
		}
		inputs[k] = true
	}

	stageIDs := make(map[string]bool)
	producer := make(map[string]int) // output key -> stage index
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.ID == "" {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "is required"})
			continue
		}
		if stageIDs[s.ID] {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate stage ID %q", s.ID)})
		}
		stageIDs[s.ID] = true

		key := s.OutputKey()
		if j, ok := producer[key]; ok {
			errs = append(errs, ValidationError{
				Field:   prefix + ".output",
				Message: fmt.Sprintf("output key %q already written by stage %q", key, p.Stages[j].ID),
			})
		} else {
			producer[key] = i
		}
		if inputs[key] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".output",
				Message: fmt.Sprintf("output key %q collides with pipeline input", key),
			})
		}
	}

	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)

		if s.MaxAttempts < 1 {
			errs = append(errs, ValidationError{Field: prefix + ".max_attempts", Message: "must be at least 1"})
		}
		if !recognizedFormats[s.Format] {
			errs = append(errs, ValidationError{Field: prefix + ".format", Message: fmt.Sprintf("unrecognized format %q", s.Format)})
		}
		if s.PromptTemplate == "" {
			errs = append(errs, ValidationError{Field: prefix + ".prompt_template", Message: "is required"})
		}

		validateInputs(p.Stages, i, inputs, producer, &errs)

		ids := make(map[string]bool)
		for j, c := range s.Constraints {
			cprefix := fmt.Sprintf("%s.constraints[%d]", prefix, j)
			if ids[c.ID] {
				errs = append(errs, ValidationError{Field: cprefix + ".id", Message: fmt.Sprintf("duplicate constraint ID %q", c.ID)})
			}
			ids[c.ID] = true
			validateConstraint(c, cprefix, s.Format, &errs)
		}
	}

	if cycle := findCycle(p.Stages, producer); len(cycle) > 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.stages",
			Message: "dependency cycle: " + strings.Join(cycle, " -> "),
		})
	}

	for _, key := range p.Output.Sections {
		if _, ok := producer[key]; !ok {
			errs = append(errs, ValidationError{
				Field:   "pipeline.output.sections",
				Message: fmt.Sprintf("references key %q that no stage produces", key),
			})
		}
	}

	return errs
}

// validateInputs checks that every input of stage i is available before it runs:
// either a declared pipeline input or the output of an earlier stage.
func validateInputs(stages []Stage, i int, inputs map[string]bool, producer map[string]int, errs *[]ValidationError) {
	s := stages[i]
	for _, key := range s.Inputs {
		field := fmt.Sprintf("pipeline.stages[%d].inputs", i)
		if inputs[key] {
			continue
		}
		j, ok := producer[key]
		switch {
		case !ok:
			*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("references undefined context key %q", key)})
		case j == i:
			*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("stage %q depends on its own output %q", s.ID, key)})
		case j > i:
			*errs = append(*errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("depends on %q, produced by later stage %q", key, stages[j].ID),
			})
		}
	}
}

// findCycle returns one dependency cycle between stages as a list of stage IDs
// (first ID repeated at the end), or nil when the dependency graph is acyclic.
func findCycle(stages []Stage, producer map[string]int) []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(stages))
	var stack []int
	var cycle []string

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, key := range stages[u].Inputs {
			v, ok := producer[key]
			if !ok {
				continue
			}
			if color[v] == gray {
				start := 0
				for k, n := range stack {
					if n == v {
						start = k
						break
					}
				}
				for _, n := range stack[start:] {
					cycle = append(cycle, stages[n].ID)
				}
				cycle = append(cycle, stages[v].ID)
				return true
			}
			if color[v] == white && visit(v) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range stages {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}

// validateConstraint checks the parameters required by each constraint type.
func validateConstraint(c Constraint, prefix string, format string, errs *[]ValidationError) {
	add := func(field, msg string) {
		*errs = append(*errs, ValidationError{Field: prefix + field, Message: msg})
	}

	if !recognizedConstraints[c.Type] {
		add(".type", fmt.Sprintf("unrecognized constraint type %q", c.Type))
		return
	}

	switch c.Type {
	case "max_length", "max_words":
		if c.Max <= 0 {
			add(".max", "must be positive")
		}
	case "min_length":
		if c.Min <= 0 {
			add(".min", "must be positive")
		}
	case "required_sections":
		if len(c.Sections) == 0 {
			add(".sections", "at least one section is required")
		}
	case "required_keys":
		if len(c.Keys) == 0 {
			add(".keys", "at least one key is required")
		}
	case "list_length":
		if c.Key == "" {
			add(".key", "is required")
		}
		if c.Count <= 0 && c.Min <= 0 && c.Max <= 0 {
			add(".count", "one of count, min or max is required")
		}
	case "json_schema":
		if strings.TrimSpace(c.Schema) == "" {
			add(".schema", "is required")
		}
	case "forbidden_terms":
		if len(c.Terms) == 0 {
			add(".terms", "at least one term is required")
		}
	case "must_match":
		if c.Pattern == "" {
			add(".pattern", "is required")
		} else if _, err := regexp.Compile(c.Pattern); err != nil {
			add(".pattern", fmt.Sprintf("invalid regular expression: %v", err))
		}
	case "alignment":
		if c.Criteria == "" {
			add(".criteria", "is required")
		}
		if c.Mode != "" && c.Mode != "judge" && c.Mode != "heuristic" {
			add(".mode", fmt.Sprintf("unrecognized mode %q (want judge or heuristic)", c.Mode))
		}
	}

	switch c.Type {
	case "required_keys", "list_length", "json_schema":
		if format != FormatJSON {
			add(".type", fmt.Sprintf("%s requires the stage format to be json", c.Type))
		}
	}
}

// validateGateway checks gateway settings with struct tags plus duration parsing.
func validateGateway(g GatewaySettings, errs *[]ValidationError) {
	if err := settingsValidator.Struct(g); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				*errs = append(*errs, ValidationError{
					Field:   "pipeline.gateway." + strings.ToLower(fe.Field()),
					Message: fmt.Sprintf("failed %q rule (value %v)", fe.Tag(), fe.Value()),
				})
			}
		} else {
			*errs = append(*errs, ValidationError{Field: "pipeline.gateway", Message: err.Error()})
		}
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"timeout", g.Timeout},
		{"backoff_initial", g.BackoffInitial},
		{"backoff_max", g.BackoffMax},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			*errs = append(*errs, ValidationError{
				Field:   "pipeline.gateway." + d.field,
				Message: fmt.Sprintf("invalid duration %q", d.value),
			})
		}
	}
}
