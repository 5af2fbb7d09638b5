package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey       string
	baseURL      string
	organization string
	httpClient   *http.Client
}

// NewOpenAI creates an OpenAI provider. An empty baseURL uses the public API.
func NewOpenAI(apiKey, baseURL, organization string, timeout time.Duration) *OpenAI {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		organization: organization,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (p *OpenAI) Name() string {
	return "openai"
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate sends a single-turn chat completion request.
func (p *OpenAI) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	req := openAIRequest{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, openAIMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", Classify(p.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Classify(p.Name(), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", p.parseError(resp.StatusCode, respBody)
	}

	var out openAIResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &Error{Kind: KindInvalidResponse, Provider: p.Name(), Message: "malformed response body", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindInvalidResponse, Provider: p.Name(), Message: "no choices in response"}
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (p *OpenAI) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.organization != "" {
		req.Header.Set("OpenAI-Organization", p.organization)
	}
}

func (p *OpenAI) parseError(status int, body []byte) error {
	msg := http.StatusText(status)
	var apiErr openAIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	return &Error{
		Kind:     kindForStatus(status),
		Provider: p.Name(),
		Message:  fmt.Sprintf("HTTP %d: %s", status, msg),
	}
}
