package config

// PipelineConfig is the top-level configuration structure parsed from a pipeline file.
type PipelineConfig struct {
	Pipeline Pipeline `yaml:"pipeline" toml:"pipeline"`
}

// Pipeline defines the full pipeline: metadata, defaults, gateway settings, output layout and stages.
type Pipeline struct {
	Name        string            `yaml:"name" toml:"name"`
	Description string            `yaml:"description,omitempty" toml:"description"`
	TemplateDir string            `yaml:"template_dir,omitempty" toml:"template_dir"`
	Inputs      []string          `yaml:"inputs" toml:"inputs"`
	Vars        map[string]string `yaml:"vars,omitempty" toml:"vars"`
	Defaults    StageDefaults     `yaml:"defaults" toml:"defaults"`
	Gateway     GatewaySettings   `yaml:"gateway" toml:"gateway"`
	Output      OutputLayout      `yaml:"output" toml:"output"`
	Stages      []Stage           `yaml:"stages" toml:"stages"`
}

// StageDefaults holds default values applied to stages that don't specify their own.
type StageDefaults struct {
	MaxAttempts int     `yaml:"max_attempts" toml:"max_attempts"`
	Model       string  `yaml:"model" toml:"model"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
}

// GatewaySettings configures the LLM gateway and its retry sub-budget.
type GatewaySettings struct {
	Provider       string  `yaml:"provider" toml:"provider" validate:"required,oneof=openai gemini scripted"`
	Model          string  `yaml:"model,omitempty" toml:"model"`
	JudgeModel     string  `yaml:"judge_model,omitempty" toml:"judge_model"`
	APIKey         string  `yaml:"api_key,omitempty" toml:"api_key"`
	BaseURL        string  `yaml:"base_url,omitempty" toml:"base_url" validate:"omitempty,url"`
	Organization   string  `yaml:"organization,omitempty" toml:"organization"`
	Fixtures       string  `yaml:"fixtures,omitempty" toml:"fixtures" validate:"required_if=Provider scripted"`
	Timeout        string  `yaml:"timeout" toml:"timeout"`
	MaxCalls       int     `yaml:"max_calls" toml:"max_calls" validate:"gte=1,lte=10"`
	BackoffInitial string  `yaml:"backoff_initial" toml:"backoff_initial"`
	BackoffMax     string  `yaml:"backoff_max" toml:"backoff_max"`
	Concurrency    int     `yaml:"concurrency" toml:"concurrency" validate:"gte=1"`
	RatePerSecond  float64 `yaml:"rate_per_second,omitempty" toml:"rate_per_second" validate:"gte=0"`
}

// OutputLayout controls how stage outputs are merged into the final artifact.
// An empty Sections list means every stage output, in stage order.
type OutputLayout struct {
	Title    string   `yaml:"title" toml:"title"`
	Sections []string `yaml:"sections,omitempty" toml:"sections"`
}

// Stage defines a single pipeline stage: one prompt, one output key, one constraint set.
type Stage struct {
	ID             string            `yaml:"id" toml:"id"`
	Title          string            `yaml:"title,omitempty" toml:"title"`
	PromptTemplate string            `yaml:"prompt_template" toml:"prompt_template"`
	Inputs         []string          `yaml:"inputs,omitempty" toml:"inputs"`
	Output         string            `yaml:"output,omitempty" toml:"output"`
	Format         string            `yaml:"format,omitempty" toml:"format"`
	Model          string            `yaml:"model,omitempty" toml:"model"`
	Temperature    float64           `yaml:"temperature,omitempty" toml:"temperature"`
	MaxTokens      int               `yaml:"max_tokens,omitempty" toml:"max_tokens"`
	MaxAttempts    int               `yaml:"max_attempts,omitempty" toml:"max_attempts"`
	Vars           map[string]string `yaml:"vars,omitempty" toml:"vars"`
	Constraints    []Constraint      `yaml:"constraints,omitempty" toml:"constraints"`
}

// OutputKey returns the context key the stage commits to.
func (s Stage) OutputKey() string {
	if s.Output != "" {
		return s.Output
	}
	return s.ID
}

// Constraint is the declarative form of a single output rule.
// Which fields apply depends on Type.
type Constraint struct {
	ID       string   `yaml:"id,omitempty" toml:"id"`
	Type     string   `yaml:"type" toml:"type"`
	Max      int      `yaml:"max,omitempty" toml:"max"`
	Min      int      `yaml:"min,omitempty" toml:"min"`
	Count    int      `yaml:"count,omitempty" toml:"count"`
	Key      string   `yaml:"key,omitempty" toml:"key"`
	Keys     []string `yaml:"keys,omitempty" toml:"keys"`
	Sections []string `yaml:"sections,omitempty" toml:"sections"`
	Terms    []string `yaml:"terms,omitempty" toml:"terms"`
	Pattern  string   `yaml:"pattern,omitempty" toml:"pattern"`
	Schema   string   `yaml:"schema,omitempty" toml:"schema"`
	Criteria string   `yaml:"criteria,omitempty" toml:"criteria"`
	Mode     string   `yaml:"mode,omitempty" toml:"mode"`
}

// Stage formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)
