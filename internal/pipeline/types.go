// Package pipeline holds the run data model shared by the refinement loop,
// the orchestrator and the assembler.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/refinery/internal/checks"
	appctx "github.com/lucasnoah/refinery/internal/context"
)

// Outcome is the final disposition of one stage.
type Outcome string

const (
	Accepted             Outcome = "accepted"
	AcceptedWithWarnings Outcome = "accepted_with_warnings"
	Failed               Outcome = "failed"
)

// Committed reports whether the stage produced output that was written to context.
func (o Outcome) Committed() bool {
	return o == Accepted || o == AcceptedWithWarnings
}

// Reason explains a failed outcome.
type Reason string

const (
	// ReasonGatewayUnavailable means the gateway sub-budget ran out.
	ReasonGatewayUnavailable Reason = "GatewayUnavailable"
	// ReasonNoCandidates means the stage ended without a single candidate.
	ReasonNoCandidates Reason = "NoCandidates"
)

// Status is the state of a whole run.
type Status string

const (
	StatusPending             Status = "pending"
	StatusRunning             Status = "running"
	StatusSuccess             Status = "success"
	StatusSuccessWithWarnings Status = "success_with_warnings"
	StatusAborted             Status = "aborted"
	StatusCancelled           Status = "cancelled"
)

// Succeeded reports whether the run finished with every stage committed.
func (s Status) Succeeded() bool {
	return s == StatusSuccess || s == StatusSuccessWithWarnings
}

// Candidate is one generated output and its validation result.
type Candidate struct {
	Attempt    int                `json:"attempt"`
	Text       string             `json:"text"`
	Passed     bool               `json:"passed"`
	Violations []checks.Violation `json:"violations,omitempty"`
	PromptHash string             `json:"prompt_hash"`
	Duration   time.Duration      `json:"duration_ns"`
}

// StageResult is the outcome of running one stage through the refinement loop.
type StageResult struct {
	Stage        string             `json:"stage"`
	OutputKey    string             `json:"output_key"`
	Outcome      Outcome            `json:"outcome"`
	Reason       Reason             `json:"reason,omitempty"`
	GatewayError string             `json:"gateway_error,omitempty"`
	Chosen       *Candidate         `json:"chosen,omitempty"`
	Candidates   []Candidate        `json:"candidates,omitempty"`
	Attempts     int                `json:"attempts"`
	GatewayCalls int                `json:"gateway_calls"`
	Unresolved   []checks.Violation `json:"unresolved,omitempty"`
	Duration     time.Duration      `json:"duration_ns"`
}

// Run is one execution of a pipeline. It owns its context store.
type Run struct {
	ID          uuid.UUID     `json:"id"`
	Pipeline    string        `json:"pipeline"`
	Stages      []string      `json:"stages"`
	Status      Status        `json:"status"`
	Results     []StageResult `json:"results"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	Context     *appctx.Store `json:"-"`
}

// NewRun creates a pending run over the given stage IDs.
func NewRun(pipelineName string, stages []string, store *appctx.Store) *Run {
	return &Run{
		ID:       uuid.New(),
		Pipeline: pipelineName,
		Stages:   stages,
		Status:   StatusPending,
		Context:  store,
	}
}

// Result returns the result for a stage ID, if the stage ran.
func (r *Run) Result(stage string) (*StageResult, bool) {
	for i := range r.Results {
		if r.Results[i].Stage == stage {
			return &r.Results[i], true
		}
	}
	return nil, false
}

// Finish sets the terminal status from the collected stage results. A run is
// successful only if every declared stage committed output.
func (r *Run) Finish(now time.Time) {
	r.FinishedAt = now
	if r.Status == StatusAborted || r.Status == StatusCancelled {
		return
	}
	if len(r.Results) != len(r.Stages) {
		r.Status = StatusAborted
		return
	}
	r.Status = StatusSuccess
	for _, res := range r.Results {
		switch res.Outcome {
		case AcceptedWithWarnings:
			r.Status = StatusSuccessWithWarnings
		case Accepted:
		default:
			r.Status = StatusAborted
			r.FailedStage = res.Stage
			return
		}
	}
}
