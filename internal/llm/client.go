package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querytalk/querytalk/internal/observability"
)

// ErrAuthFailed marks credential or quota rejections from the
// completion service. These are never retried.
var ErrAuthFailed = errors.New("completion service rejected credentials")

// transientError wraps failures worth retrying: network errors,
// timeouts, rate limiting and server-side errors.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

type Request struct {
	System    string
	User      string
	MaxTokens int
	Stop      []string
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// OpenAIClient talks to any OpenAI-compatible chat completions
// endpoint. Transient failures are retried with exponential backoff up
// to MaxAttempts before the last error is surfaced.
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	model        string
	temperature  float64
	maxAttempts  int
	retryBackoff time.Duration
	client       *http.Client
	sleep        func(context.Context, time.Duration) error
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &OpenAIClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		model:        model,
		temperature:  cfg.Temperature,
		maxAttempts:  maxAttempts,
		retryBackoff: backoff,
		client:       &http.Client{Timeout: timeout},
		sleep:        sleepContext,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	backoff := c.retryBackoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			observability.ObserveLLMRetry()
			if err := c.sleep(ctx, backoff); err != nil {
				return "", err
			}
			backoff *= 2
		}

		start := time.Now()
		content, err := c.completeOnce(ctx, req)
		if err == nil {
			observability.ObserveLLMRequest("ok", time.Since(start))
			return content, nil
		}
		observability.ObserveLLMRequest("error", time.Since(start))

		if !IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *OpenAIClient) completeOnce(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"temperature": c.temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &transientError{err: fmt.Errorf("request chat completion: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("read chat response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: status=%d body=%s", ErrAuthFailed, resp.StatusCode, string(rawRespBody))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &transientError{err: fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))}
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
