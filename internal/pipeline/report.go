package pipeline

import (
	"fmt"
	"time"

	"github.com/lucasnoah/refinery/internal/checks"
)

// Report is the caller-facing summary of a run.
type Report struct {
	RunID       string        `json:"run_id"`
	Pipeline    string        `json:"pipeline"`
	Status      Status        `json:"status"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    string        `json:"duration"`
	Stages      []StageReport `json:"stages"`
}

// StageReport summarizes one stage for the run report.
type StageReport struct {
	Stage        string             `json:"stage"`
	Outcome      Outcome            `json:"outcome"`
	Reason       Reason             `json:"reason,omitempty"`
	GatewayError string             `json:"gateway_error,omitempty"`
	Attempts     int                `json:"attempts"`
	GatewayCalls int                `json:"gateway_calls"`
	ChosenFrom   int                `json:"chosen_attempt,omitempty"`
	Unresolved   []checks.Violation `json:"unresolved,omitempty"`
	Duration     string             `json:"duration"`
}

// Report builds the run report. Stages that never ran are omitted.
func (r *Run) Report() Report {
	rep := Report{
		RunID:       r.ID.String(),
		Pipeline:    r.Pipeline,
		Status:      r.Status,
		FailedStage: r.FailedStage,
		Error:       r.Error,
		Stages:      make([]StageReport, 0, len(r.Results)),
	}
	if !r.FinishedAt.IsZero() {
		rep.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
	}

	for _, res := range r.Results {
		sr := StageReport{
			Stage:        res.Stage,
			Outcome:      res.Outcome,
			Reason:       res.Reason,
			GatewayError: res.GatewayError,
			Attempts:     res.Attempts,
			GatewayCalls: res.GatewayCalls,
			Unresolved:   res.Unresolved,
			Duration:     res.Duration.Round(time.Millisecond).String(),
		}
		if res.Chosen != nil {
			sr.ChosenFrom = res.Chosen.Attempt
		}
		rep.Stages = append(rep.Stages, sr)

		if res.Stage == r.FailedStage && res.Reason != "" {
			rep.Reason = string(res.Reason)
			if res.GatewayError != "" {
				rep.Reason = fmt.Sprintf("%s (%s)", res.Reason, res.GatewayError)
			}
		}
	}
	return rep
}

// Warnings lists every violation left unresolved by a stage accepted with warnings.
func (r *Run) Warnings() []string {
	var out []string
	for _, res := range r.Results {
		if res.Outcome != AcceptedWithWarnings {
			continue
		}
		for _, v := range res.Unresolved {
			out = append(out, fmt.Sprintf("%s: [%s] %s", res.Stage, v.ConstraintID, v.Description))
		}
	}
	return out
}
