// Package provider implements an OpenAI-compatible chat completions client.
// All network traffic goes through internal/httpclient so calls pick up
// retry on transient statuses and cooperative cancellation.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"sidekick/internal/httpclient"
	"sidekick/internal/llm"
	"sidekick/internal/logging"
)

const providerName = "openai-compatible"

// Client talks to any /chat/completions endpoint that speaks the OpenAI
// schema. It satisfies llm.Client.
type Client struct {
	http   *httpclient.Client
	policy httpclient.RetryPolicy
	logger *logging.StructuredLogger
}

// NewClient wires together the dependencies for API access.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	endpoint := strings.TrimRight(baseURL, "/") + "/chat/completions"
	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + apiKey,
	}
	return &Client{
		http:   httpclient.NewClient(endpoint, headers, timeout, logger),
		policy: httpclient.DefaultRetryPolicy(),
		logger: logging.NewStructuredLogger(logger, "provider", false),
	}
}

// SetRetryPolicy replaces the default backoff schedule.
func (c *Client) SetRetryPolicy(p httpclient.RetryPolicy) {
	c.policy = p
}

// Chat executes a single completion request without a cancellation monitor.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	return c.ChatWithMonitor(ctx, req, nil)
}

// ChatWithMonitor executes a completion request that the user can cancel.
// A cancelled call returns llm.ErrInterrupted; non-2xx statuses that
// survive the retry policy come back as *llm.ProviderError.
func (c *Client) ChatWithMonitor(ctx context.Context, req llm.ChatRequest, monitor httpclient.Monitor) (llm.ChatResponse, error) {
	var respPayload llm.ChatResponse

	c.logger.Debug("sending chat completion", map[string]interface{}{
		"model":    req.Model,
		"messages": len(req.Messages),
	})

	result := c.http.PostWithRetry(ctx, req, c.policy, monitor)
	switch {
	case result.Interrupted:
		c.logger.Info("request interrupted by user", nil)
		return respPayload, llm.ErrInterrupted
	case result.Err != nil:
		return respPayload, fmt.Errorf("request failed: %w", result.Err)
	}

	resp := result.Response
	if resp.StatusCode >= 300 {
		msg := errorMessage(resp.Body)
		c.logger.Error("provider API error", map[string]interface{}{
			"status":  resp.StatusCode,
			"message": msg,
		})
		return respPayload, llm.NewProviderError(providerName, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(resp.Body, &respPayload); err != nil {
		c.logger.Error("response parse error", map[string]interface{}{"error": err.Error()})
		return respPayload, fmt.Errorf("parse response: %w", err)
	}
	c.logger.Debug("received completion", map[string]interface{}{"choices": len(respPayload.Choices)})
	return respPayload, nil
}

// errorMessage extracts the message field from an OpenAI-style error body,
// falling back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(body))
}
