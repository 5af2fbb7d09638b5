package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/lucasnoah/refinery/internal/pipeline"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// printReport writes a human-readable run report.
func printReport(w io.Writer, rep pipeline.Report) {
	statusColor(rep.Status).Fprintf(w, "%s %s\n", strings.ToUpper(string(rep.Status)), rep.Pipeline)
	dimColor.Fprintf(w, "run %s in %s\n", rep.RunID, rep.Duration)

	for _, s := range rep.Stages {
		c := okColor
		switch s.Outcome {
		case pipeline.AcceptedWithWarnings:
			c = warnColor
		case pipeline.Failed:
			c = failColor
		}
		c.Fprintf(w, "  %-22s %s", s.Stage, s.Outcome)
		fmt.Fprintf(w, "  attempts=%d calls=%d %s\n", s.Attempts, s.GatewayCalls, s.Duration)
		for _, v := range s.Unresolved {
			warnColor.Fprintf(w, "    - [%s] %s\n", v.ConstraintID, v.Description)
		}
	}

	if rep.FailedStage != "" {
		failColor.Fprintf(w, "failed at %s", rep.FailedStage)
		if rep.Reason != "" {
			fmt.Fprintf(w, ": %s", rep.Reason)
		}
		fmt.Fprintln(w)
	}
	if rep.Error != "" {
		failColor.Fprintf(w, "error: %s\n", rep.Error)
	}
}

func statusColor(s pipeline.Status) *color.Color {
	switch s {
	case pipeline.StatusSuccess:
		return okColor
	case pipeline.StatusSuccessWithWarnings:
		return warnColor
	}
	return failColor
}
