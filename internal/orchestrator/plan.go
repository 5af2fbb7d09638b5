package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lucasnoah/refinery/internal/assemble"
	"github.com/lucasnoah/refinery/internal/checks"
	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/prompt"
	"github.com/lucasnoah/refinery/internal/stage"
)

// ErrInvalidPipelineConfiguration is returned by Load when the pipeline
// cannot run as declared. Nothing has called the gateway at that point.
var ErrInvalidPipelineConfiguration = errors.New("invalid pipeline configuration")

// ConfigError carries every problem found while loading a pipeline.
type ConfigError struct {
	Errors []config.ValidationError
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidPipelineConfiguration, strings.Join(msgs, "; "))
}

// Is matches ErrInvalidPipelineConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidPipelineConfiguration
}

// Plan is a validated pipeline ready to run: stage order, compiled
// constraints and loaded templates. It is immutable and may be shared.
type Plan struct {
	Config  *config.PipelineConfig
	Stages  []stage.Spec
	Library *prompt.Library
}

// Load validates cfg, compiles every constraint set and loads the templates.
func Load(cfg *config.PipelineConfig) (*Plan, error) {
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, &ConfigError{Errors: errs}
	}

	p := &Plan{Config: cfg}
	var errs []config.ValidationError
	var names []string
	for i := range cfg.Pipeline.Stages {
		st := &cfg.Pipeline.Stages[i]
		set, err := checks.Compile(st.Format, st.Constraints)
		if err != nil {
			errs = append(errs, config.ValidationError{
				Field:   fmt.Sprintf("pipeline.stages[%d].constraints", i),
				Message: err.Error(),
			})
			continue
		}
		p.Stages = append(p.Stages, stage.Spec{Stage: st, Constraints: set})
		names = append(names, st.PromptTemplate)
	}
	if len(errs) > 0 {
		return nil, &ConfigError{Errors: errs}
	}

	lib, err := prompt.LoadLibrary(cfg.Pipeline.TemplateDir, names)
	if err != nil {
		return nil, &ConfigError{Errors: []config.ValidationError{{
			Field:   "pipeline.template_dir",
			Message: err.Error(),
		}}}
	}
	p.Library = lib
	return p, nil
}

// Name returns the pipeline name.
func (p *Plan) Name() string {
	return p.Config.Pipeline.Name
}

// StageIDs returns stage IDs in execution order.
func (p *Plan) StageIDs() []string {
	ids := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		ids[i] = s.Stage.ID
	}
	return ids
}

// NeedsJudge reports whether any stage has a judge-mode semantic constraint.
func (p *Plan) NeedsJudge() bool {
	for _, s := range p.Stages {
		if checks.NeedsJudge(s.Constraints) {
			return true
		}
	}
	return false
}

// Layout returns the artifact layout: the configured sections, or every stage
// output in stage order.
func (p *Plan) Layout() assemble.Layout {
	out := p.Config.Pipeline.Output
	layout := assemble.Layout{Title: out.Title}
	if layout.Title == "" {
		layout.Title = p.Name()
	}

	byKey := make(map[string]*config.Stage, len(p.Stages))
	for _, s := range p.Stages {
		byKey[s.Stage.OutputKey()] = s.Stage
	}
	keys := out.Sections
	if len(keys) == 0 {
		for _, s := range p.Stages {
			keys = append(keys, s.Stage.OutputKey())
		}
	}
	for _, k := range keys {
		st := byKey[k]
		layout.Sections = append(layout.Sections, assemble.Section{Key: k, Title: st.Title, Format: st.Format})
	}
	return layout
}
