// Package gateway is the boundary to LLM text-generation backends. Every
// provider returns plain text or a classified *Error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind classifies gateway failures. Retry logic treats all kinds alike; the
// kind is surfaced in run reports.
type Kind string

const (
	KindTimeout         Kind = "Timeout"
	KindRateLimited     Kind = "RateLimited"
	KindTransport       Kind = "Transport"
	KindInvalidResponse Kind = "InvalidResponse"
)

// Options controls a single generation call.
type Options struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int

	// Stage and Attempt identify the caller for logging, tracing and scripted replies.
	Stage   string
	Attempt int
}

// Gateway generates text from a prompt.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Error is a classified gateway failure.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a gateway error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return "", false
}

// Classify wraps a raw provider error in an *Error. Already-classified errors
// are returned unchanged, and so is context cancellation, which is the
// caller's decision rather than a gateway failure.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Provider: provider, Message: "deadline exceeded", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Provider: provider, Message: "request timed out", Err: err}
	}
	return &Error{Kind: KindTransport, Provider: provider, Message: "request failed", Err: err}
}

// kindForStatus maps an HTTP status code to a failure kind.
func kindForStatus(code int) Kind {
	switch {
	case code == 429:
		return KindRateLimited
	case code == 408 || code == 504:
		return KindTimeout
	case code >= 500:
		return KindTransport
	default:
		return KindInvalidResponse
	}
}

// Ping sends a trivial prompt and expects a non-empty reply. It is the
// connectivity diagnostic behind "refinery gateway ping".
func Ping(ctx context.Context, gw Gateway, model string) (string, time.Duration, error) {
	start := time.Now()
	reply, err := gw.Generate(ctx, "Say READY.", Options{
		Model:     model,
		MaxTokens: 5,
		Stage:     "ping",
	})
	elapsed := time.Since(start)
	if err != nil {
		return "", elapsed, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", elapsed, &Error{Kind: KindInvalidResponse, Provider: "ping", Message: "empty reply"}
	}
	return reply, elapsed, nil
}
