// Package mockclient provides an offline llm.Client. Tests script it with
// canned completions; SIDEKICK_MOCK_LLM=1 runs the agent against its echo
// fallback without a provider.
package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"sidekick/internal/llm"
)

// Client pops one scripted completion per Chat call and echoes the last
// user message once the script runs out.
type Client struct {
	mu       sync.Mutex
	scripted []llm.ChatResponse
	calls    int
}

// New returns a client with no script; every call echoes.
func New() *Client {
	return &Client{}
}

// NewScripted returns a client that replays responses in order.
func NewScripted(responses ...llm.ChatResponse) *Client {
	return &Client{scripted: responses}
}

// Calls reports how many completions have been requested.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Chat satisfies the llm.Client interface.
func (c *Client) Chat(_ context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.scripted) > 0 {
		resp := c.scripted[0]
		c.scripted = c.scripted[1:]
		return resp, nil
	}
	return echo(req), nil
}

func echo(req llm.ChatRequest) llm.ChatResponse {
	content := "MOCK RESPONSE"
	if n := len(req.Messages); n > 0 {
		if last := strings.TrimSpace(req.Messages[n-1].Content); last != "" {
			content = fmt.Sprintf("MOCK RESPONSE: %s", last)
		}
	}
	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				Message:      llm.Message{Role: "assistant", Content: content},
				FinishReason: "stop",
			},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}
}

// TextResponse builds a plain assistant completion for scripting.
func TextResponse(content string) llm.ChatResponse {
	return llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: "assistant", Content: content}, FinishReason: "stop"}},
		Usage:   &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// ToolCallResponse builds a completion requesting a single tool call.
func ToolCallResponse(id, name, arguments string) llm.ChatResponse {
	return llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{
		Role: "assistant",
		ToolCalls: []llm.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: llm.FunctionCall{Name: name, Arguments: arguments},
		}},
	}}}}
}
