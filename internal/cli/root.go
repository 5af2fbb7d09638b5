package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/logger"
	"github.com/lucasnoah/refinery/internal/tracer"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	logLevel string
	logFile  string
	logJSON  bool

	appLog        = zap.NewNop()
	traceShutdown tracer.Shutdown
)

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "refinery: multi-stage LLM content pipelines with validation and refinement",
	Long: `refinery runs a configured sequence of LLM generation stages. Each stage renders
a prompt from earlier outputs, validates the reply against declarative constraints
and re-prompts with the violations until it passes or its attempts run out.

Pipelines are described in refinery.yaml (or .toml). Secrets such as OPENAI_API_KEY
may be placed in a .env file in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		l, err := logger.New(logger.Config{Level: logLevel, File: logFile, JSON: logJSON, Console: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}
		appLog = l

		shutdown, err := tracer.Init(cmd.Context(), "refinery")
		if err != nil {
			appLog.Warn("tracing disabled", zap.Error(err))
		}
		traceShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if traceShutdown != nil {
			if err := traceShutdown(cmd.Context()); err != nil {
				appLog.Warn("tracer shutdown", zap.Error(err))
			}
		}
		_ = appLog.Sync()
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log to the console as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(standardsCmd)
}
