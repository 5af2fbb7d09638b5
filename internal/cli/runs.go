package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/refinery/internal/analytics"
	"github.com/lucasnoah/refinery/internal/db"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded run history (requires a database)",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent finished runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := database.RecentRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPIPELINE\tOUTCOME\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.Pipeline, r.Outcome, r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the recorded events of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := database.RunEvents(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("no events for run %s", args[0])
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(events, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tEVENT\tSTAGE\tOUTCOME\tDETAIL")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.At.Format("15:04:05.000"), e.Kind, e.Stage, e.Outcome, e.Detail)
		}
		return w.Flush()
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise stage refinement and run outcomes",
	Long: `Per stage: how often the first attempt passed, how often it ended with
warnings or failed, average attempts and duration percentiles. Per pipeline:
run outcome counts and average run time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := analytics.ParseSince(sinceFlag, time.Now())
		if err != nil {
			return err
		}

		database, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		sum, err := analytics.Query(cmd.Context(), database, since)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(sum, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printStats(cmd, sum)
		return nil
	},
}

func printStats(cmd *cobra.Command, sum *analytics.Summary) {
	if len(sum.Pipelines) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PIPELINE\tRUNS\tSUCCESS\tWARNINGS\tABORTED\tCANCELLED\tAVG")
	for _, p := range sum.Pipelines {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%.1fs\n", p.Pipeline, p.Runs, p.Success, p.Warnings, p.Aborted, p.Cancelled, p.AvgSecs)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PIPELINE\tSTAGE\tCOUNT\tFIRST PASS\tWARNINGS\tFAILED\tAVG ATT\tP50\tP95")
	for _, s := range sum.Stages {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.1f\t%.1fs\t%.1fs\n",
			s.Pipeline, s.Stage, s.Count, s.FirstPass, s.Warnings, s.Failed, s.AvgAttempts, s.P50, s.P95)
	}
	w.Flush()
}

func openHistory(cmd *cobra.Command) (*db.DB, error) {
	url := databaseURL
	if url == "" {
		url = os.Getenv(databaseURLEnv)
	}
	if url == "" {
		return nil, fmt.Errorf("no database configured: pass --database-url or set %s", databaseURLEnv)
	}
	database, err := db.Open(cmd.Context(), url)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return database, nil
}

func init() {
	runsCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default $"+databaseURLEnv+")")
	runsListCmd.Flags().Int("limit", 20, "number of runs to show")
	runsShowCmd.Flags().String("format", "text", "Output format: text or json")
	runsStatsCmd.Flags().String("since", "7d", "lookback window, e.g. 7d, 36h; empty for all time")
	runsStatsCmd.Flags().String("format", "text", "Output format: text or json")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
}
