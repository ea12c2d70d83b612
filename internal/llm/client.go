// Package llm talks to the Anthropic Messages API.
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
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pharmatrack/internal/config"
	"pharmatrack/internal/logger"
)

const apiVersion = "2023-06-01"

var ErrMisconfigured = errors.New("llm client misconfigured")

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	maxAttempts int

	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	rps := cfg.LLMRateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	attempts := cfg.LLMMaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		apiKey:      strings.TrimSpace(cfg.LLMAPIKey),
		baseURL:     strings.TrimRight(cfg.LLMBaseURL, "/"),
		model:       cfg.LLMModel,
		maxTokens:   cfg.LLMMaxTokens,
		maxAttempts: attempts,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.LLMTimeoutMs) * time.Millisecond},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		log:         logger.OrNop(log),
	}
}

// Complete sends one user prompt at temperature 0 and returns the
// concatenated text blocks of the answer.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: missing LLM_API_KEY", ErrMisconfigured)
	}
	if c.model == "" {
		return "", fmt.Errorf("%w: missing LLM_MODEL", ErrMisconfigured)
	}

	payload, err := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: 0,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	body, err := c.post(ctx, c.baseURL+"/messages", payload)
	if err != nil {
		return "", err
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("llm error %s: %s", resp.Error.Type, resp.Error.Message)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("llm response has no text content")
	}
	return sb.String(), nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", apiVersion)
		req.Header.Set("content-type", "application/json")
		req.Header.Set("accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.log.Warn("llm request failed", zap.Int("attempt", attempt), zap.Error(err))
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < c.maxAttempts {
				lastErr = fmt.Errorf("llm status %d", resp.StatusCode)
				c.log.Warn("llm retryable status", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("llm api error: status=%d body=%s", resp.StatusCode, truncateBody(body))
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("llm request failed")
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
