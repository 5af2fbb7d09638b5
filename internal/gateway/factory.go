package gateway

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/config"
)

// New builds the configured provider wrapped in a Pooled gateway. API keys
// fall back to OPENAI_API_KEY / GEMINI_API_KEY when not set in config.
func New(ctx context.Context, s config.GatewaySettings, log *zap.Logger) (*Pooled, error) {
	timeout, err := time.ParseDuration(s.Timeout)
	if err != nil && s.Timeout != "" {
		return nil, fmt.Errorf("gateway timeout: %w", err)
	}

	var provider Gateway
	switch s.Provider {
	case "openai":
		key := firstNonEmpty(s.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("openai provider: OPENAI_API_KEY is missing; set it in your environment or .env file")
		}
		provider = NewOpenAI(key,
			firstNonEmpty(s.BaseURL, os.Getenv("OPENAI_BASE_URL")),
			firstNonEmpty(s.Organization, os.Getenv("OPENAI_ORG")),
			timeout)
	case "gemini":
		key := firstNonEmpty(s.APIKey, os.Getenv("GEMINI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("gemini provider: GEMINI_API_KEY is missing")
		}
		g, err := NewGemini(ctx, key)
		if err != nil {
			return nil, err
		}
		provider = g
	case "scripted":
		sc, err := LoadFixtures(s.Fixtures)
		if err != nil {
			return nil, err
		}
		provider = sc
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", s.Provider)
	}

	return NewPooled(provider, s.Provider, s.Concurrency, s.RatePerSecond, log), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
