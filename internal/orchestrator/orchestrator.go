// Package orchestrator drives a validated pipeline plan: stages run strictly in
// declared order, each through the refinement loop, committing one context key
// per stage.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/checks"
	"github.com/lucasnoah/refinery/internal/config"
	appctx "github.com/lucasnoah/refinery/internal/context"
	"github.com/lucasnoah/refinery/internal/db"
	"github.com/lucasnoah/refinery/internal/gateway"
	"github.com/lucasnoah/refinery/internal/pipeline"
	"github.com/lucasnoah/refinery/internal/prompt"
	"github.com/lucasnoah/refinery/internal/stage"
)

// ErrInvalidInput is returned by Run when the initial context does not match
// the pipeline's declared inputs.
var ErrInvalidInput = errors.New("invalid initial context")

// Options configures an Orchestrator.
type Options struct {
	Logger   *zap.Logger
	Recorder db.Recorder
	// Stage tunes the refinement loop. Unset gateway budget fields are taken
	// from the pipeline's gateway settings.
	Stage stage.Options
	// JudgeTTL is how long semantic verdicts are cached.
	JudgeTTL time.Duration
}

// Orchestrator runs a Plan. It holds no per-run state and may run many
// pipelines concurrently.
type Orchestrator struct {
	plan   *Plan
	engine *stage.Engine
	rec    db.Recorder
	log    *zap.Logger
	tracer trace.Tracer
}

// New creates an Orchestrator for plan, generating through gw.
func New(plan *Plan, gw gateway.Gateway, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rec := opts.Recorder
	if rec == nil {
		rec = db.Nop{}
	}

	g := plan.Config.Pipeline.Gateway
	so := opts.Stage
	if so.MaxCalls == 0 {
		so.MaxCalls = g.MaxCalls
	}
	if so.BackoffInitial == 0 {
		so.BackoffInitial = parseDuration(g.BackoffInitial)
	}
	if so.BackoffMax == 0 {
		so.BackoffMax = parseDuration(g.BackoffMax)
	}
	if so.Logger == nil {
		so.Logger = log
	}

	judge := checks.NewGatewayJudge(gw, plan.Library, g.JudgeModel, opts.JudgeTTL)
	resolver := prompt.NewResolver(plan.Library, plan.Config.Pipeline.Vars)

	return &Orchestrator{
		plan:   plan,
		engine: stage.NewEngine(gw, resolver, checks.NewValidator(judge), so),
		rec:    rec,
		log:    log.With(zap.String("pipeline", plan.Name())),
		tracer: otel.Tracer("github.com/lucasnoah/refinery/internal/orchestrator"),
	}
}

// Plan returns the plan being run.
func (o *Orchestrator) Plan() *Plan {
	return o.plan
}

// CheckInputs verifies that initial supplies every declared pipeline input and
// does not pre-empt any stage output.
func (o *Orchestrator) CheckInputs(initial map[string]any) error {
	var problems []string
	var missing []string
	for _, k := range o.plan.Config.Pipeline.Inputs {
		if _, ok := initial[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}

	var taken []string
	for _, s := range o.plan.Stages {
		if _, ok := initial[s.Stage.OutputKey()]; ok {
			taken = append(taken, s.Stage.OutputKey())
		}
	}
	if len(taken) > 0 {
		sort.Strings(taken)
		problems = append(problems, "collides with stage outputs "+strings.Join(taken, ", "))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Run executes every stage in order against a fresh context store seeded with
// initial.
//
// The returned run always reflects how far execution got. A failed stage
// aborts the run with a nil error; the run status and report carry the
// failure. A non-nil error means the inputs were rejected (nil run), the run
// was cancelled (status cancelled), or a stage could not execute (status
// aborted).
func (o *Orchestrator) Run(ctx context.Context, initial map[string]any) (*pipeline.Run, error) {
	if err := o.CheckInputs(initial); err != nil {
		return nil, err
	}
	store, err := appctx.NewStore(initial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	run := pipeline.NewRun(o.plan.Name(), o.plan.StageIDs(), store)
	run.Status = pipeline.StatusRunning
	run.StartedAt = time.Now()
	log := o.log.With(zap.String("run_id", run.ID.String()))

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.name", run.Pipeline),
		attribute.String("run.id", run.ID.String()),
	))
	defer span.End()

	o.record(ctx, log, run, db.Event{Kind: db.RunStarted})
	log.Info("run started", zap.Strings("stages", run.Stages))

	runErr := o.runStages(ctx, log, run)

	run.Finish(time.Now())
	span.SetAttributes(attribute.String("run.status", string(run.Status)))
	// Record the end of the run even if the caller's context is gone.
	o.record(context.WithoutCancel(ctx), log, run, db.Event{
		Kind:    db.RunFinished,
		Outcome: string(run.Status),
		Stage:   run.FailedStage,
		Detail:  run.Error,
	})
	log.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.String("failed_stage", run.FailedStage),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run, runErr
}

func (o *Orchestrator) runStages(ctx context.Context, log *zap.Logger, run *pipeline.Run) error {
	for _, spec := range o.plan.Stages {
		st := spec.Stage
		if err := ctx.Err(); err != nil {
			run.Status = pipeline.StatusCancelled
			run.Error = err.Error()
			log.Warn("run cancelled before stage", zap.String("stage", st.ID))
			return err
		}

		o.record(ctx, log, run, db.Event{Kind: db.StageStarted, Stage: st.ID})
		res, err := o.engine.Run(ctx, spec, run.Context.Snapshot())
		if res != nil && res.Outcome != "" {
			run.Results = append(run.Results, *res)
		}
		if err != nil {
			if ctx.Err() != nil {
				run.Status = pipeline.StatusCancelled
				run.Error = ctx.Err().Error()
				return ctx.Err()
			}
			run.Status = pipeline.StatusAborted
			run.FailedStage = st.ID
			run.Error = err.Error()
			return err
		}

		o.record(ctx, log, run, db.Event{
			Kind:    db.StageFinished,
			Stage:   st.ID,
			Attempt: res.Attempts,
			Outcome: string(res.Outcome),
			Detail:  finishDetail(res),
		})

		if !res.Outcome.Committed() {
			run.Status = pipeline.StatusAborted
			run.FailedStage = st.ID
			log.Error("stage failed, aborting run",
				zap.String("stage", st.ID),
				zap.String("reason", string(res.Reason)),
				zap.String("gateway_error", res.GatewayError),
			)
			return nil
		}

		if err := run.Context.Commit(st.OutputKey(), outputValue(st, res.Chosen.Text)); err != nil {
			run.Status = pipeline.StatusAborted
			run.FailedStage = st.ID
			run.Error = err.Error()
			return fmt.Errorf("commit %q: %w", st.OutputKey(), err)
		}
	}
	return nil
}

// outputValue is what a stage commits: text as-is, json-format output decoded.
func outputValue(st *config.Stage, text string) any {
	if st.Format != config.FormatJSON {
		return text
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		// Accepted with warnings despite invalid JSON: keep the raw text.
		return text
	}
	return v
}

func finishDetail(res *pipeline.StageResult) string {
	switch {
	case res.Outcome == pipeline.Failed:
		if res.GatewayError != "" {
			return fmt.Sprintf("%s (%s)", res.Reason, res.GatewayError)
		}
		return string(res.Reason)
	case len(res.Unresolved) > 0:
		return fmt.Sprintf("%d unresolved violations", len(res.Unresolved))
	}
	return ""
}

func (o *Orchestrator) record(ctx context.Context, log *zap.Logger, run *pipeline.Run, e db.Event) {
	e.RunID = run.ID.String()
	e.Pipeline = run.Pipeline
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := o.rec.Record(ctx, e); err != nil {
		log.Warn("record event failed", zap.String("event", e.Kind), zap.Error(err))
	}
}

func parseDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
