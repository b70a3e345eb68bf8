// Package llm is the narrow contract the writing stages use to reach a
// chat-completion endpoint (OpenRouter-compatible). Stages treat a nil client
// as "no model available" and fall back to their heuristics.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"social-post-orchestrator/internal/retry"
)

// Client completes a prompt into text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// HTTPClient talks to a chat-completions API with a bearer token.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPClient builds a client for the given endpoint. Callers decide
// whether a model is configured at all; a disabled model is expressed as a
// nil Client interface value, never a nil *HTTPClient.
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Model() string { return c.model }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one user message and returns the first choice's content.
// Transport failures and 5xx responses are marked transient for the caller's
// retry policy; 4xx responses are terminal.
func (c *HTTPClient) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return "", retry.Transient(fmt.Errorf("chat status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chat status %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
