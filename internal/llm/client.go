// Package llm provides the chat-completions client shared by all analysis
// modules. One client instance serves the whole process; a weighted
// semaphore bounds in-flight calls across concurrent jobs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// Config controls the model endpoint and client-side throttling.
type Config struct {
	APIKey            string
	Model             string
	BaseURL           string
	Temperature       float64
	MaxTokens         int
	CallTimeout       time.Duration
	GlobalConcurrency int64
	MaxRetries        int
	HTTPClient        *http.Client
}

// Client is the shared model client.
type Client struct {
	cfg    Config
	client *http.Client
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// Completion is the outcome of one successful model call.
type Completion struct {
	Content    string
	TokensUsed int
	Elapsed    time.Duration
}

// RetryAfterError carries a server-requested wait on top of a transient
// failure.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.After)
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// New builds the shared client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, audit.Errorf(audit.CodeConfigMissing, "model api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 32
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.CallTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		cfg:    cfg,
		client: client,
		sem:    semaphore.NewWeighted(cfg.GlobalConcurrency),
		logger: logger,
	}, nil
}

// MaxRetries reports the configured attempt ceiling for callers that own
// the retry loop.
func (c *Client) MaxRetries() int {
	return c.cfg.MaxRetries
}

// Complete performs one model call. Transient failures (timeouts, 429, 5xx)
// come back coded LLMTransient; auth and request errors are LLMPermanent.
func (c *Client) Complete(ctx context.Context, system, user string) (Completion, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Completion{}, audit.Wrap(audit.CodeCancelled, "acquire model slot", err)
	}
	defer c.sem.Release(1)

	payload := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &chatFormat{
			Type: "json_object",
		},
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return Completion{}, audit.Wrap(audit.CodeLLMPermanent, "encode request", err)
	}

	endpoint := fmt.Sprintf("%s/chat/completions", c.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return Completion{}, audit.Wrap(audit.CodeLLMPermanent, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Completion{}, audit.Wrap(audit.CodeCancelled, "model call", ctx.Err())
		}
		return Completion{}, audit.Wrap(audit.CodeLLMTransient, "model call", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Completion{}, c.statusError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, audit.Wrap(audit.CodeLLMTransient, "decode response", err)
	}
	if len(out.Choices) == 0 {
		return Completion{}, audit.Errorf(audit.CodeLLMTransient, "response has no choices")
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return Completion{}, audit.Errorf(audit.CodeLLMTransient, "response content is empty")
	}
	return Completion{
		Content:    content,
		TokensUsed: out.Usage.TotalTokens,
		Elapsed:    time.Since(start),
	}, nil
}

func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		err := audit.Wrap(audit.CodeLLMTransient,
			fmt.Sprintf("rate limited: %s", strings.TrimSpace(string(body))),
			&RetryAfterError{After: parseRetryAfter(resp.Header.Get("Retry-After"))},
		)
		return err
	case resp.StatusCode >= 500:
		return audit.Errorf(audit.CodeLLMTransient, "model endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return audit.Errorf(audit.CodeLLMPermanent, "model endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Backoff computes the wait before retry attempt n (1-based): exponential
// from a 1s base, factor 2, jittered by ±20%. A server-provided Retry-After
// on err takes precedence when longer.
func Backoff(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Second * time.Duration(1<<(attempt-1))
	jitter := 0.8 + 0.4*rand.Float64()
	wait := time.Duration(float64(base) * jitter)

	var ra *RetryAfterError
	if errors.As(err, &ra) && ra.After > wait {
		wait = ra.After
	}
	return wait
}

// Retryable reports whether the failure is worth another attempt.
func Retryable(err error) bool {
	switch audit.CodeOf(err) {
	case audit.CodeLLMTransient, audit.CodeParseFailed:
		return true
	default:
		return false
	}
}
