// Package llm is the gateway to an OpenAI-compatible chat completion
// backend. It owns request shaping, timeout handling, response
// classification and the retry loop. One request is in flight at a time
// across the whole process.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4-turbo"
	defaultMaxTokens   = 4000
	defaultTemperature = 0.2
	defaultTimeout     = 60 * time.Second
)

// Classification buckets one backend outcome for the retry loop.
type Classification int

const (
	ClassSuccess Classification = iota
	ClassTransient
	ClassPermanent
)

// FailureKind distinguishes the two terminal gateway failures.
type FailureKind string

const (
	// FailureExhausted means every transient retry was spent without a
	// usable completion.
	FailureExhausted FailureKind = "exhausted_retries"
	// FailureRejected means the backend refused the request outright, so
	// retrying would not help.
	FailureRejected FailureKind = "rejected_request"
)

// Failure is the terminal error returned when the gateway gives up on a
// request. Attempts counts calls actually made.
type Failure struct {
	Kind     FailureKind
	Attempts int
	Status   int
	Err      error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case FailureRejected:
		return fmt.Sprintf("backend rejected request (status %d): %v", f.Status, f.Err)
	default:
		return fmt.Sprintf("retries exhausted after %d attempts (last status %d): %v", f.Attempts, f.Status, f.Err)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// Response is a usable completion from the backend.
type Response struct {
	Text     string
	Status   int
	Attempts int
	Latency  time.Duration
}

// Config holds the backend connection settings. Zero values fall back to
// the pipeline defaults.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// Client talks to one chat completion endpoint. The mutex serializes
// invocations, including their backoff sleeps, so the backend never sees
// concurrent requests from this process.
type Client struct {
	cfg        Config
	httpClient *http.Client
	mu         sync.Mutex
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke sends the prompt pair to the backend and retries transient
// failures under the configured policy. It returns either a usable
// completion or a *Failure naming why the gateway gave up.
func (c *Client) Invoke(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	var lastStatus int
	attempts := 0

	for retry := 0; retry <= c.cfg.Retry.MaxRetries; retry++ {
		if retry > 0 {
			delay := c.cfg.Retry.delay(retry)
			c.logger().Warn("transient backend failure, backing off",
				"retry", retry, "delay", delay, "err", lastErr)
			c.cfg.Retry.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempts++
		start := time.Now()
		text, status, err := c.call(ctx, systemPrompt, userPrompt)
		switch classify(status, err) {
		case ClassSuccess:
			return &Response{
				Text:     text,
				Status:   status,
				Attempts: attempts,
				Latency:  time.Since(start),
			}, nil
		case ClassPermanent:
			return nil, &Failure{Kind: FailureRejected, Attempts: attempts, Status: status, Err: err}
		default:
			lastErr, lastStatus = err, status
		}
	}

	return nil, &Failure{Kind: FailureExhausted, Attempts: attempts, Status: lastStatus, Err: lastErr}
}

func (c *Client) call(ctx context.Context, systemPrompt, userPrompt string) (string, int, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal request: %w", err)
	}

	callCtx := ctx
	if _, ok := ctx.Deadline(); !ok && c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, fmt.Errorf("backend status %d: %s", resp.StatusCode, snippet(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", resp.StatusCode, fmt.Errorf("backend returned no completion")
	}
	return parsed.Choices[0].Message.Content, resp.StatusCode, nil
}

// classify decides how the retry loop treats one call outcome. Transport
// errors, rate limits, server errors and malformed success bodies are
// worth retrying. Any other refusal is permanent.
func classify(status int, err error) Classification {
	if err == nil {
		return ClassSuccess
	}
	switch {
	case status == 0:
		return ClassTransient
	case status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status >= 200 && status < 300:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

func (c *Client) endpoint() string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
}

func (c *Client) logger() *slog.Logger {
	if c.cfg.Logger != nil {
		return c.cfg.Logger
	}
	return slog.Default()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
