package mockclient

import (
	"context"
	"testing"

	"sidekick/internal/llm"
)

func TestScriptedResponsesReplayInOrder(t *testing.T) {
	c := NewScripted(
		ToolCallResponse("call-1", "shell", `{"command":"ls"}`),
		TextResponse("all done"),
	)

	first, err := c.Chat(context.Background(), llm.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	calls := first.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "shell" {
		t.Fatalf("first response = %+v, want shell tool call", first)
	}

	second, _ := c.Chat(context.Background(), llm.ChatRequest{})
	if second.Choices[0].Message.Content != "all done" {
		t.Fatalf("second response = %+v", second)
	}
	if c.Calls() != 2 {
		t.Fatalf("Calls = %d, want 2", c.Calls())
	}
}

func TestExhaustedScriptFallsBackToEcho(t *testing.T) {
	c := NewScripted(TextResponse("scripted"))
	c.Chat(context.Background(), llm.ChatRequest{})

	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: "hello there"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "MOCK RESPONSE: hello there" {
		t.Fatalf("echo = %q", got)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish reason = %q", resp.Choices[0].FinishReason)
	}
}

func TestEchoWithoutMessages(t *testing.T) {
	resp, err := New().Chat(context.Background(), llm.ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "MOCK RESPONSE" {
		t.Fatalf("echo = %q", got)
	}
}
