package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/assemble"
	"github.com/lucasnoah/refinery/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print or save the assembled artifact",
	Long: `Run every stage of the configured pipeline in order and assemble the accepted
outputs into one document.

Initial context comes from --param key=value pairs. For pipelines that declare
them, teacher_notes is read from --notes-file and attachments_excerpt is a
summary of the --attach files (1200 characters per file, 6000 in total).
description_en and description_es are looked up from teks_code in the
--standards CSV, falling back to a few built-in standards. A grade of
k/kinder/kindergarten is normalised to K.

With --out, the artifact and run report are written as G<grade>-<code>_<yymmdd>.*
files in that directory. Otherwise the artifact goes to stdout.`,
	Example: `  refinery run -f refinery.yaml -p grade=3 -p subject=Math -p teks_code=3.4A \
    --standards teks.csv --notes-file notes.txt --attach sample.csv --out outputs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		paramPairs, _ := cmd.Flags().GetStringArray("param")
		notesFile, _ := cmd.Flags().GetString("notes-file")
		attach, _ := cmd.Flags().GetStringArray("attach")
		standardsFile, _ := cmd.Flags().GetString("standards")
		outDir, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		if format != "md" && format != "json" {
			return fmt.Errorf("invalid --format %q: expected md or json", format)
		}

		params, err := parseParams(paramPairs)
		if err != nil {
			return err
		}
		in := runInputs{Params: params}
		if notesFile != "" {
			notes, err := readFiles([]string{notesFile})
			if err != nil {
				return err
			}
			in.Notes = notes[0]
		}
		if in.Attachments, err = readAttachments(attach); err != nil {
			return err
		}
		var cat *catalog
		if standardsFile != "" {
			if cat, err = loadCatalog(standardsFile); err != nil {
				return err
			}
			appLog.Debug("standards loaded", zap.String("file", standardsFile), zap.Int("rows", cat.Len()))
		}

		plan, err := loadPlan(cmd)
		if err != nil {
			return err
		}
		rec, closeRec, err := openRecorder(ctx)
		if err != nil {
			return err
		}
		defer closeRec()
		orch, err := newOrchestrator(ctx, plan, rec)
		if err != nil {
			return err
		}

		initial := buildInitial(in, plan.Config.Pipeline.Inputs)
		if warning := fillDescriptions(initial, plan.Config.Pipeline.Inputs, cat); warning != "" {
			appLog.Warn("standard description missing", zap.Any("teks_code", initial[keyCode]))
			fmt.Fprintln(cmd.ErrOrStderr(), warnColor.Sprint("warning: ")+warning)
		}
		run, err := orch.Run(ctx, initial)
		if run == nil {
			return err
		}
		printReport(cmd.ErrOrStderr(), run.Report())
		if !run.Status.Succeeded() {
			return fmt.Errorf("run %s", run.Status)
		}

		art, err := assemble.Assemble(run, plan.Layout())
		if err != nil {
			return err
		}
		if outDir == "" {
			return writeArtifact(cmd, art, format)
		}

		base := filepath.Join(outDir, outputBase(initial, plan.Name(), time.Now()))
		if err := pipeline.WriteAtomic(base+".md", []byte(art.Markdown())); err != nil {
			return err
		}
		if err := pipeline.WriteJSON(base+".json", art); err != nil {
			return err
		}
		if err := pipeline.WriteJSON(base+"_report.json", run.Report()); err != nil {
			return err
		}
		appLog.Info("artifact written", zap.String("base", base), zap.String("run_id", run.ID.String()))
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s.md, %s.json and %s_report.json\n", base, base, base)
		return nil
	},
}

func writeArtifact(cmd *cobra.Command, art *assemble.Artifact, format string) error {
	if format == "json" {
		data, err := art.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), art.Markdown())
	return nil
}

func init() {
	runCmd.Flags().StringArrayP("param", "p", nil, "initial context value as key=value (repeatable)")
	runCmd.Flags().String("notes-file", "", "file with teacher notes")
	runCmd.Flags().StringArray("attach", nil, "file to summarize into the prompt: txt, md, csv, pdf or image (repeatable)")
	runCmd.Flags().String("standards", "", "standards CSV with code and description_en/description_es columns")
	runCmd.Flags().String("out", "", "directory to write the artifact and report into")
	runCmd.Flags().String("format", "md", "stdout format: md or json")
	runCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres URL for run events (default $"+databaseURLEnv+")")
}
