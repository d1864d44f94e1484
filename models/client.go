package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"llm-trading-arena/internal/config"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLIENT - Provider HTTP clients (OpenAI-compatible + Anthropic)
// ═══════════════════════════════════════════════════════════════════════════════

// Client speaks one provider's chat completion API. DeepSeek, OpenAI and
// Groq share the OpenAI wire format and differ only in base URL; Anthropic
// has its own shape.
type Client struct {
	cfg        config.ModelConfig
	httpClient *http.Client
}

// NewClient creates a provider client
func NewClient(cfg config.ModelConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIRequest represents an OpenAI-compatible chat request
type OpenAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// OpenAIResponse represents an OpenAI-compatible chat response
type OpenAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// AnthropicRequest represents an Anthropic messages request
type AnthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

// AnthropicResponse represents an Anthropic messages response
type AnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one completion request and returns the raw text reply.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	switch c.cfg.Provider {
	case "anthropic":
		return c.completeAnthropic(ctx, systemPrompt, userPrompt)
	case "deepseek", "openai", "groq":
		return c.completeOpenAI(ctx, systemPrompt, userPrompt)
	default:
		return "", fmt.Errorf("unsupported provider: %s", c.cfg.Provider)
	}
}

func (c *Client) completeOpenAI(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := OpenAIRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}
	body, err := c.post(ctx, c.cfg.BaseURL, req, headers)
	if err != nil {
		return "", err
	}

	var resp OpenAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &AdapterError{Kind: KindBadResponse, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Error != nil {
		return "", &AdapterError{Kind: KindBadResponse, Err: fmt.Errorf("api error: %s - %s", resp.Error.Type, resp.Error.Message)}
	}
	if len(resp.Choices) == 0 {
		return "", &AdapterError{Kind: KindBadResponse, Err: errors.New("empty choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) completeAnthropic(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := AnthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      systemPrompt,
		Messages: []Message{
			{Role: "user", Content: userPrompt},
		},
	}

	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}
	body, err := c.post(ctx, c.cfg.BaseURL, req, headers)
	if err != nil {
		return "", err
	}

	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &AdapterError{Kind: KindBadResponse, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Error != nil {
		return "", &AdapterError{Kind: KindBadResponse, Err: fmt.Errorf("api error: %s - %s", resp.Error.Type, resp.Error.Message)}
	}
	if len(resp.Content) == 0 {
		return "", &AdapterError{Kind: KindBadResponse, Err: errors.New("empty content")}
	}
	return resp.Content[0].Text, nil
}

// post sends a JSON body and classifies HTTP-level failures.
func (c *Client) post(ctx context.Context, url string, payload any, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &AdapterError{Kind: KindTimeout, Err: err}
		}
		// http.Client timeouts surface as url.Error with Timeout()=true
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &AdapterError{Kind: KindTimeout, Err: err}
		}
		return nil, &AdapterError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AdapterError{Kind: KindTransport, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &AdapterError{Kind: KindRateLimited, Err: fmt.Errorf("http 429: %s", snip(respBody))}
	case resp.StatusCode >= 500:
		return nil, &AdapterError{Kind: KindTransport, Err: fmt.Errorf("http %d: %s", resp.StatusCode, snip(respBody))}
	default:
		return nil, &AdapterError{Kind: KindBadResponse, Err: fmt.Errorf("http %d: %s", resp.StatusCode, snip(respBody))}
	}
}

func snip(b []byte) string {
	const n = 200
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
