package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refinery/internal/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "LLM gateway diagnostics",
}

var gatewayPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send a trivial prompt through the configured gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		settings := cfg.Pipeline.Gateway
		gw, err := gateway.New(cmd.Context(), settings, appLog)
		if err != nil {
			return err
		}

		model, _ := cmd.Flags().GetString("model")
		if model == "" {
			model = settings.Model
		}
		reply, elapsed, err := gateway.Ping(cmd.Context(), gw, model)
		if err != nil {
			failColor.Fprintf(cmd.OutOrStdout(), "%s unreachable after %s: %v\n", settings.Provider, elapsed.Round(time.Millisecond), err)
			return fmt.Errorf("gateway ping failed")
		}
		okColor.Fprintf(cmd.OutOrStdout(), "%s ok in %s: %q\n", settings.Provider, elapsed.Round(time.Millisecond), reply)
		return nil
	},
}

func init() {
	gatewayPingCmd.Flags().String("model", "", "model to ping (defaults to gateway.model)")
	gatewayCmd.AddCommand(gatewayPingCmd)
}
