package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/orchestrator"
)

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect pipeline configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the pipeline configuration file",
	Long: `Check the pipeline for structural problems: unknown or forward input references,
dependency cycles, malformed constraints, and prompt templates that cannot be found.
No gateway calls are made.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		plan, err := orchestrator.Load(cfg)
		if err == nil {
			cmd.Printf("Configuration is valid: %d stage(s): %v\n", len(plan.Stages), plan.StageIDs())
			return nil
		}

		var ce *orchestrator.ConfigError
		if !errors.As(err, &ce) {
			return err
		}
		cmd.Println("Validation errors:")
		for _, e := range ce.Errors {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(ce.Errors))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

func loadConfig() (*config.PipelineConfig, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// configPath returns the file loadConfig reads, for watching.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	for _, p := range config.DefaultPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no pipeline config found (searched: %v)", config.DefaultPaths())
}

// loadPlan loads and compiles the pipeline, printing every configuration
// problem before returning.
func loadPlan(cmd *cobra.Command) (*orchestrator.Plan, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	plan, err := orchestrator.Load(cfg)
	var ce *orchestrator.ConfigError
	if errors.As(err, &ce) {
		for _, e := range ce.Errors {
			cmd.PrintErrf("  - %s\n", e)
		}
	}
	return plan, err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "file", "f", "", "path to pipeline config file")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
