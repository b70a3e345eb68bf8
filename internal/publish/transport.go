package publish

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

// Transport posts a single tweet and returns the platform tweet id.
// inReplyTo is empty for the first tweet of a chain.
type Transport interface {
	PostTweet(ctx context.Context, text, inReplyTo string) (string, error)
}

// DryRunTransport fabricates deterministic ids without touching the network.
// Ids embed the draft id prefix and position so reruns are recognizable.
type DryRunTransport struct {
	DraftID string
	next    int
}

func (d *DryRunTransport) PostTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	d.next++
	prefix := d.DraftID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("dry_%s_%d", prefix, d.next), nil
}

// SetPosition aligns the fabricated id counter when earlier positions were
// already published.
func (d *DryRunTransport) SetPosition(pos int) { d.next = pos }

// XTransport posts through the X v2 create-tweet endpoint with a bearer
// token. Transport errors and 5xx / 429 responses are marked transient so
// the retry policy re-attempts them; other 4xx are terminal.
type XTransport struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewXTransport builds a transport against baseURL (empty means the public
// API host).
func NewXTransport(baseURL, token string) *XTransport {
	if baseURL == "" {
		baseURL = "https://api.x.com"
	}
	return &XTransport{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type createTweetRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

type createTweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (x *XTransport) PostTweet(ctx context.Context, text, inReplyTo string) (string, error) {
	body := createTweetRequest{Text: text}
	if inReplyTo != "" {
		body.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: inReplyTo}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.BaseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.Token)

	resp, err := x.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("post tweet: %w", err)
		}
		return "", retry.Transient(fmt.Errorf("post tweet: %w", err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", retry.Transient(fmt.Errorf("post tweet: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("post tweet: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out createTweetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode tweet response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("tweet response has no id")
	}
	return out.Data.ID, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
