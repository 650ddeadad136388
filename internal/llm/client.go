// Package llm sends de-identified payloads to an OpenAI-compatible
// chat-completions endpoint.
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

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/domain"
)

const maxResponseBytes = 4 << 20

// Client is the analysis invoker. It accepts only *deid.SafePayload, so
// identity-bearing types cannot reach the provider.
type Client struct {
	config     domain.LLMConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient creates an analysis client, filling unset limits with defaults.
func NewClient(config domain.LLMConfig, logger *logrus.Logger) *Client {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		breaker: newBreaker("analysis-provider", logger),
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke sends payload and returns the provider's analysis. A 2xx answer that
// does not hold the structured object is returned as raw text, not an error.
func (c *Client) Invoke(ctx context.Context, payload *deid.SafePayload) (*domain.AnalysisResult, error) {
	if payload == nil {
		return nil, errors.New("payload is required")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: string(payloadJSON)},
		},
		Temperature:    c.config.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.invokeWithRetry(ctx, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &InvokerError{Kind: KindUnavailable, Err: err}
		}
		return nil, err
	}
	return out.(*domain.AnalysisResult), nil
}

func (c *Client) invokeWithRetry(ctx context.Context, body []byte) (*domain.AnalysisResult, error) {
	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, &InvokerError{Kind: KindCanceled, Attempts: attempt - 1, Err: err}
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &InvokerError{Kind: KindCanceled, Attempts: attempt - 1, Err: err}
		}

		start := time.Now()
		status, respBody, err := c.post(ctx, body)
		fields := logrus.Fields{
			"attempt":     attempt,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		}

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, &InvokerError{Kind: KindCanceled, Attempts: attempt, Err: ctx.Err()}
			}
			c.logger.WithFields(fields).WithError(err).Warn("Analysis request failed")
			lastErr, lastStatus = err, 0
		case status >= 200 && status < 300:
			c.logger.WithFields(fields).Debug("Analysis request succeeded")
			return parseResponse(respBody), nil
		case Retryable(status):
			c.logger.WithFields(fields).Warn("Analysis provider returned retryable status")
			lastErr, lastStatus = fmt.Errorf("provider returned status %d", status), status
		default:
			c.logger.WithFields(fields).Error("Analysis provider rejected request")
			return nil, &InvokerError{Kind: KindStatus, StatusCode: status, Attempts: attempt}
		}
	}
	return nil, &InvokerError{Kind: KindTransport, StatusCode: lastStatus, Attempts: c.config.MaxAttempts, Err: lastErr}
}

func (c *Client) post(ctx context.Context, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// backoff returns the delay before retry n (n >= 1).
func (c *Client) backoff(n int) time.Duration {
	d := c.config.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.config.BackoffMax {
			return c.config.BackoffMax
		}
	}
	if d > c.config.BackoffMax {
		return c.config.BackoffMax
	}
	return d
}

func parseResponse(body []byte) *domain.AnalysisResult {
	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil || len(chat.Choices) == 0 {
		return &domain.AnalysisResult{RawText: string(body), Format: domain.FormatText}
	}

	content := chat.Choices[0].Message.Content
	result := &domain.AnalysisResult{RawText: content, Format: domain.FormatText, Model: chat.Model}
	if structured, ok := parseStructured(content); ok {
		result.Structured = structured
		result.Format = domain.FormatJSON
	}
	return result
}

var structuredKeys = []string{"flags", "insights", "supplements", "lifestyle", "follow_up_labs"}

func parseStructured(content string) (*domain.StructuredAnalysis, bool) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &keys); err != nil {
		return nil, false
	}
	found := false
	for _, k := range structuredKeys {
		if _, ok := keys[k]; ok {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	var structured domain.StructuredAnalysis
	if err := json.Unmarshal([]byte(trimmed), &structured); err != nil {
		return nil, false
	}
	return &structured, true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
