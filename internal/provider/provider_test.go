package provider

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sidekick/internal/httpclient"
	"sidekick/internal/llm"
)

func discardLogger() *log.Logger {
	return log.New(nullWriter{}, "", 0)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func fastPolicy() httpclient.RetryPolicy {
	p := httpclient.DefaultRetryPolicy()
	p.RetryDelays = []time.Duration{time.Millisecond}
	return p
}

func chatRequest() llm.ChatRequest {
	return llm.ChatRequest{
		Model:    "test-model",
		Messages: []llm.Message{{Role: "user", Content: "hello"}},
	}
}

func TestChatParsesCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", 5*time.Second, discardLogger())
	resp, err := c.Chat(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestChatRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", 5*time.Second, discardLogger())
	c.SetRetryPolicy(fastPolicy())
	resp, err := c.Chat(context.Background(), chatRequest())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if resp.Choices[0].Message.Content != "ok" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestChatClassifiesTerminalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-wrong", 5*time.Second, discardLogger())
	_, err := c.Chat(context.Background(), chatRequest())
	pe, ok := llm.IsProviderError(err)
	if !ok {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.Type != llm.ErrorTypeAuth || pe.Status != 401 {
		t.Errorf("classified as %s/%d, want auth/401", pe.Type, pe.Status)
	}
	if pe.Message != "bad key" {
		t.Errorf("message = %q, want extracted error body", pe.Message)
	}
}

func TestChatExhaustedRetriesSurfaceLastStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", 5*time.Second, discardLogger())
	c.SetRetryPolicy(fastPolicy())
	_, err := c.Chat(context.Background(), chatRequest())
	pe, ok := llm.IsProviderError(err)
	if !ok {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if pe.Status != 503 || !pe.Retryable {
		t.Errorf("got %d retryable=%v, want retryable 503", pe.Status, pe.Retryable)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want initial attempt plus 3 retries", calls.Load())
	}
}

type trippedMonitor struct{}

func (trippedMonitor) ShouldInterrupt() bool { return true }

func TestChatWithTrippedMonitorReturnsInterrupted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", 5*time.Second, discardLogger())
	_, err := c.ChatWithMonitor(context.Background(), chatRequest(), trippedMonitor{})
	if !errors.Is(err, llm.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if calls.Load() != 0 {
		t.Errorf("issued %d requests after interruption", calls.Load())
	}
}
