package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default values applied by Load.
const (
	DefaultMaxAttempts    = 3
	DefaultMaxCalls       = 3
	DefaultConcurrency    = 4
	DefaultTimeout        = "60s"
	DefaultBackoffInitial = "500ms"
	DefaultBackoffMax     = "8s"
	DefaultProvider       = "openai"
)

// Load reads and parses a pipeline configuration from the given file path.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// ${VAR} references are expanded from the environment before parsing,
// and defaults are applied to stages that don't specify their own values.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes pipeline configuration bytes. ext selects the decoder (".toml" or YAML otherwise).
func Parse(data []byte, ext string) (*PipelineConfig, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg PipelineConfig
	if strings.EqualFold(ext, ".toml") {
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline config in standard locations and loads the
// first one found. Search order: ./refinery.yaml, ./refinery.toml, ~/.refinery/config.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := DefaultPaths()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, fmt.Errorf("no pipeline config found (searched: %v)", candidates)
}

// DefaultPaths lists the locations LoadDefault checks, in order.
func DefaultPaths() []string {
	candidates := []string{"refinery.yaml", "refinery.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".refinery", "config.yaml"))
	}
	return candidates
}

// applyDefaults merges pipeline-level defaults into stages that don't set their own values.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Defaults.MaxAttempts <= 0 {
		p.Defaults.MaxAttempts = DefaultMaxAttempts
	}

	g := &p.Gateway
	if g.Provider == "" {
		g.Provider = DefaultProvider
	}
	if g.Model == "" {
		g.Model = p.Defaults.Model
	}
	if g.JudgeModel == "" {
		g.JudgeModel = g.Model
	}
	if g.Timeout == "" {
		g.Timeout = DefaultTimeout
	}
	if g.MaxCalls == 0 {
		g.MaxCalls = DefaultMaxCalls
	}
	if g.BackoffInitial == "" {
		g.BackoffInitial = DefaultBackoffInitial
	}
	if g.BackoffMax == "" {
		g.BackoffMax = DefaultBackoffMax
	}
	if g.Concurrency == 0 {
		g.Concurrency = DefaultConcurrency
	}

	for i := range p.Stages {
		s := &p.Stages[i]

		if s.MaxAttempts == 0 {
			s.MaxAttempts = p.Defaults.MaxAttempts
		}
		if s.Model == "" {
			s.Model = p.Defaults.Model
		}
		if s.Temperature == 0 {
			s.Temperature = p.Defaults.Temperature
		}
		if s.MaxTokens == 0 {
			s.MaxTokens = p.Defaults.MaxTokens
		}
		if s.Format == "" {
			s.Format = FormatText
		}
		if s.PromptTemplate == "" && s.ID != "" {
			s.PromptTemplate = s.ID + ".md"
		}
		if s.Title == "" {
			s.Title = humanize(s.ID)
		}

		// Unnamed constraints take their type as ID; taken IDs get a numeric suffix.
		taken := make(map[string]bool)
		for _, c := range s.Constraints {
			if c.ID != "" {
				taken[c.ID] = true
			}
		}
		for j := range s.Constraints {
			c := &s.Constraints[j]
			if c.ID != "" {
				continue
			}
			id := c.Type
			for n := 2; taken[id]; n++ {
				id = fmt.Sprintf("%s_%d", c.Type, n)
			}
			c.ID = id
			taken[id] = true
		}
	}
}

// humanize turns "answer_key" into "Answer Key".
func humanize(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
