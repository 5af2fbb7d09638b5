package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client}, nil
}

// Name returns the provider name.
func (p *Gemini) Name() string {
	return "gemini"
}

// Generate generates text from a prompt.
func (p *Gemini) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.System != "" {
		config.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}

	result, err := p.client.Models.GenerateContent(ctx, opts.Model, genai.Text(prompt), config)
	if err != nil {
		return "", p.classify(err)
	}

	if result == nil || len(result.Candidates) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Provider: p.Name(), Message: "empty response from API"}
	}

	// Extract text from response parts
	var text strings.Builder
	if result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		return "", &Error{Kind: KindInvalidResponse, Provider: p.Name(), Message: "no text in response"}
	}
	return strings.TrimSpace(text.String()), nil
}

func (p *Gemini) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindForStatus(apiErr.Code), Provider: p.Name(), Message: apiErr.Message, Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &Error{Kind: kindForStatus(apiErrPtr.Code), Provider: p.Name(), Message: apiErrPtr.Message, Err: err}
	}
	return Classify(p.Name(), err)
}
