// Package stage runs a single pipeline stage through the refinement loop:
// generate a candidate, validate it, and retry with violation feedback until
// a candidate passes or the attempt budget is spent.
package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/checks"
	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/gateway"
	"github.com/lucasnoah/refinery/internal/pipeline"
	"github.com/lucasnoah/refinery/internal/prompt"
)

// State is a refinement loop state.
type State string

const (
	Pending    State = "pending"
	Generating State = "generating"
	Validating State = "validating"
	Accepted   State = "accepted"
	Retrying   State = "retrying"
	Exhausted  State = "exhausted"
)

// Transition is one state change of a stage.
type Transition struct {
	Stage   string
	Attempt int
	From    State
	To      State
	Detail  string
}

// Observer receives every state transition. It is called synchronously.
type Observer func(Transition)

// Options tunes the engine. Zero values fall back to config defaults.
type Options struct {
	// MaxCalls is the gateway sub-budget: calls allowed per generation or
	// validation step before the stage gives up on the gateway.
	MaxCalls       int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Logger         *zap.Logger
	Observer       Observer
}

// Spec is a stage definition with its compiled constraint set.
type Spec struct {
	Stage       *config.Stage
	Constraints []checks.Constraint
}

// Engine executes the refinement loop for one stage at a time. It keeps no
// per-run state, so one Engine can serve concurrent runs.
type Engine struct {
	gw        gateway.Gateway
	resolver  *prompt.Resolver
	validator *checks.Validator
	opts      Options
	log       *zap.Logger
	tracer    trace.Tracer
}

// NewEngine creates a stage engine.
func NewEngine(gw gateway.Gateway, resolver *prompt.Resolver, validator *checks.Validator, opts Options) *Engine {
	if opts.MaxCalls <= 0 {
		opts.MaxCalls = config.DefaultMaxCalls
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = opts.BackoffInitial
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		gw:        gw,
		resolver:  resolver,
		validator: validator,
		opts:      opts,
		log:       log,
		tracer:    otel.Tracer("github.com/lucasnoah/refinery/internal/stage"),
	}
}

// run carries the mutable state of one stage execution.
type run struct {
	spec   Spec
	result *pipeline.StageResult
	state  State
	log    *zap.Logger
}

func (e *Engine) transition(r *run, attempt int, to State, detail string) {
	from := r.state
	r.state = to
	r.log.Debug("stage transition",
		zap.Int("attempt", attempt),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("detail", detail),
	)
	if e.opts.Observer != nil {
		e.opts.Observer(Transition{Stage: r.spec.Stage.ID, Attempt: attempt, From: from, To: to, Detail: detail})
	}
}

// Run executes the refinement loop for spec against a context snapshot.
//
// A failed stage (gateway sub-budget spent with no candidate) is reported
// through the result's Outcome with a nil error. A non-nil error means the
// stage could not run at all: the context was cancelled, the prompt could not
// be resolved, or a check failed to execute. The partial result is returned
// alongside a cancellation error.
func (e *Engine) Run(ctx context.Context, spec Spec, snap prompt.Lookup) (*pipeline.StageResult, error) {
	st := spec.Stage
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "stage.run", trace.WithAttributes(
		attribute.String("stage.id", st.ID),
		attribute.Int("stage.max_attempts", st.MaxAttempts),
	))
	defer span.End()

	r := &run{
		spec: spec,
		result: &pipeline.StageResult{
			Stage:     st.ID,
			OutputKey: st.OutputKey(),
		},
		state: Pending,
		log:   e.log.With(zap.String("stage", st.ID)),
	}
	finish := func(res *pipeline.StageResult, err error) (*pipeline.StageResult, error) {
		res.Duration = time.Since(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("stage.outcome", string(res.Outcome)))
		}
		return res, err
	}

	vars, err := e.resolver.Vars(st, snap)
	if err != nil {
		return finish(r.result, fmt.Errorf("stage %q: %w", st.ID, err))
	}
	base, err := e.resolver.Library().Render(st.PromptTemplate, vars)
	if err != nil {
		return finish(r.result, fmt.Errorf("stage %q: render %s: %w", st.ID, st.PromptTemplate, err))
	}
	system := e.resolver.System(st)

	maxAttempts := st.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxAttempts
	}

	current := base
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.result.Attempts = attempt
		e.transition(r, attempt, Generating, "")
		genStart := time.Now()

		raw, calls, err := e.generate(ctx, r, current, system, attempt)
		r.result.GatewayCalls += calls
		if err != nil {
			return finish(e.gatewayFailure(ctx, r, attempt, err))
		}
		text := checks.Normalize(raw, st.Format)

		e.transition(r, attempt, Validating, "")
		gate, err := e.validate(ctx, r, text, attempt, vars)
		if err != nil {
			return finish(e.gatewayFailure(ctx, r, attempt, err))
		}

		cand := pipeline.Candidate{
			Attempt:    attempt,
			Text:       text,
			Passed:     gate.Passed,
			Violations: gate.Violations,
			PromptHash: hashPrompt(current),
			Duration:   time.Since(genStart),
		}
		r.result.Candidates = append(r.result.Candidates, cand)

		if gate.Passed {
			e.transition(r, attempt, Accepted, "")
			r.result.Outcome = pipeline.Accepted
			r.result.Chosen = &r.result.Candidates[len(r.result.Candidates)-1]
			r.log.Info("stage accepted", zap.Int("attempt", attempt))
			return finish(r.result, nil)
		}

		r.log.Info("candidate rejected",
			zap.Int("attempt", attempt),
			zap.Int("violations", len(gate.Violations)),
		)
		if attempt == maxAttempts {
			break
		}

		e.transition(r, attempt, Retrying, fmt.Sprintf("%d violations", len(gate.Violations)))
		current, err = e.resolver.Augment(base, attempt+1, feedback(gate.Violations))
		if err != nil {
			return finish(r.result, fmt.Errorf("stage %q: refine prompt: %w", st.ID, err))
		}
	}

	e.exhaust(r, maxAttempts, "attempt budget spent")
	return finish(r.result, nil)
}

// generate calls the gateway with exponential backoff, up to MaxCalls times.
// It returns the number of calls made.
func (e *Engine) generate(ctx context.Context, r *run, text, system string, attempt int) (string, int, error) {
	st := r.spec.Stage
	opts := gateway.Options{
		Model:       st.Model,
		System:      system,
		Temperature: st.Temperature,
		MaxTokens:   st.MaxTokens,
		Stage:       st.ID,
		Attempt:     attempt,
	}

	var reply string
	calls := 0
	op := func() error {
		calls++
		out, err := e.gw.Generate(ctx, text, opts)
		if err != nil {
			return retryable(ctx, err)
		}
		reply = out
		return nil
	}
	err := backoff.RetryNotify(op, e.backoff(ctx), e.notify(r, attempt, "generate"))
	return reply, calls, err
}

// validate runs the validator, retrying gateway failures from semantic checks
// under the same sub-budget discipline as generation.
func (e *Engine) validate(ctx context.Context, r *run, text string, attempt int, vars prompt.Vars) (*checks.GateResult, error) {
	opts := checks.GateOpts{Stage: r.spec.Stage.ID, Attempt: attempt, Vars: vars}

	var gate *checks.GateResult
	op := func() error {
		g, err := e.validator.Validate(ctx, text, r.spec.Constraints, opts)
		if err != nil {
			return retryable(ctx, err)
		}
		gate = g
		return nil
	}
	if err := backoff.RetryNotify(op, e.backoff(ctx), e.notify(r, attempt, "validate")); err != nil {
		return nil, err
	}
	return gate, nil
}

func (e *Engine) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.BackoffInitial
	b.MaxInterval = e.opts.BackoffMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxCalls-1)), ctx)
}

func (e *Engine) notify(r *run, attempt int, step string) backoff.Notify {
	return func(err error, wait time.Duration) {
		r.log.Warn("gateway call failed, backing off",
			zap.String("step", step),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}

// retryable marks everything except classified gateway errors as permanent.
func retryable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if _, ok := gateway.KindOf(err); !ok {
		return backoff.Permanent(err)
	}
	return err
}

// gatewayFailure ends the stage after a generation or validation step gave up.
// Cancellation and non-gateway errors are returned to the caller; a spent
// gateway sub-budget exhausts the stage.
func (e *Engine) gatewayFailure(ctx context.Context, r *run, attempt int, err error) (*pipeline.StageResult, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return r.result, err
	}
	kind, ok := gateway.KindOf(err)
	if !ok {
		return r.result, fmt.Errorf("stage %q: %w", r.spec.Stage.ID, err)
	}

	r.result.GatewayError = string(kind)
	r.log.Error("gateway sub-budget exhausted",
		zap.Int("attempt", attempt),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	e.exhaust(r, attempt, "gateway unavailable: "+string(kind))
	return r.result, nil
}

// exhaust picks the least-violating candidate, or fails the stage when there
// is none.
func (e *Engine) exhaust(r *run, attempt int, detail string) {
	e.transition(r, attempt, Exhausted, detail)

	best := LeastViolating(r.result.Candidates)
	if best < 0 {
		r.result.Outcome = pipeline.Failed
		r.result.Reason = pipeline.ReasonNoCandidates
		if r.result.GatewayError != "" {
			r.result.Reason = pipeline.ReasonGatewayUnavailable
		}
		r.log.Error("stage failed", zap.String("reason", string(r.result.Reason)))
		return
	}

	chosen := &r.result.Candidates[best]
	r.result.Outcome = pipeline.AcceptedWithWarnings
	r.result.Chosen = chosen
	r.result.Unresolved = chosen.Violations
	r.log.Warn("stage accepted with warnings",
		zap.Int("chosen_attempt", chosen.Attempt),
		zap.Int("violations", len(chosen.Violations)),
	)
}

// LeastViolating returns the index of the candidate with the fewest
// violations, ties going to the earliest. It returns -1 for no candidates.
func LeastViolating(cands []pipeline.Candidate) int {
	best := -1
	for i, c := range cands {
		if best < 0 || len(c.Violations) < len(cands[best].Violations) {
			best = i
		}
	}
	return best
}

func feedback(vs []checks.Violation) []prompt.Feedback {
	out := make([]prompt.Feedback, len(vs))
	for i, v := range vs {
		out[i] = prompt.Feedback{Constraint: v.ConstraintID, Description: v.Description}
	}
	return out
}

func hashPrompt(p string) string {
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:8])
}
