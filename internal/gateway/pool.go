package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Pooled bounds concurrent calls to a shared gateway and optionally rate-limits
// them. Concurrent pipeline runs share one Pooled gateway.
type Pooled struct {
	next     Gateway
	provider string
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	log      *zap.Logger

	calls    atomic.Int64
	failures atomic.Int64
}

// Stats are cumulative counters for a Pooled gateway.
type Stats struct {
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures"`
}

// NewPooled wraps next. concurrency < 1 is treated as 1; ratePerSecond <= 0
// disables rate limiting.
func NewPooled(next Gateway, provider string, concurrency int, ratePerSecond float64, log *zap.Logger) *Pooled {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pooled{
		next:     next,
		provider: provider,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		log:      log,
	}
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return p
}

// Generate waits for a free slot (and rate-limit token), then calls the wrapped gateway.
func (p *Pooled) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, span := otel.Tracer("refinery/gateway").Start(ctx, "gateway.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.provider", p.provider),
		attribute.String("gateway.model", opts.Model),
		attribute.String("stage.id", opts.Stage),
		attribute.Int("stage.attempt", opts.Attempt),
	)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer p.sem.Release(1)

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", &Error{Kind: KindRateLimited, Provider: p.provider, Message: "rate limiter", Err: err}
		}
	}

	start := time.Now()
	p.calls.Add(1)
	text, err := p.next.Generate(ctx, prompt, opts)
	elapsed := time.Since(start)
	if err != nil {
		err = Classify(p.provider, err)
		p.failures.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kind, _ := KindOf(err)
		p.log.Warn("gateway call failed",
			zap.String("provider", p.provider),
			zap.String("stage", opts.Stage),
			zap.Int("attempt", opts.Attempt),
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return "", err
	}

	span.SetAttributes(attribute.Int("gateway.response_chars", len(text)))
	p.log.Debug("gateway call",
		zap.String("provider", p.provider),
		zap.String("stage", opts.Stage),
		zap.Int("attempt", opts.Attempt),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(text)),
		zap.Duration("elapsed", elapsed),
	)
	return text, nil
}

// Stats returns cumulative call counters.
func (p *Pooled) Stats() Stats {
	return Stats{Calls: p.calls.Load(), Failures: p.failures.Load()}
}
