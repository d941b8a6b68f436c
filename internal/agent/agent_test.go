package agent

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/interrupt"
	"sidekick/internal/llm"
	"sidekick/internal/llm/mockclient"
	"sidekick/internal/session"
	"sidekick/internal/termui"
	"sidekick/internal/tooling"
)

// recordingTool notes whether it ran and echoes a fixed payload.
type recordingTool struct {
	name string
	mu   sync.Mutex
	ran  bool
}

func (t *recordingTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{
		Type:     "function",
		Function: tooling.ToolFunction{Name: t.name, Description: "test tool"},
	}
}

func (t *recordingTool) Call(_ context.Context, _ map[string]any) (string, error) {
	t.mu.Lock()
	t.ran = true
	t.mu.Unlock()
	return "tool output", nil
}

func (t *recordingTool) didRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ran
}

func newTestAgent(t *testing.T, client llm.Client, tools ...tooling.Tool) *Agent {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("SIDEKICK_CONFIG_PATH", filepath.Join(dir, "config.yaml"))

	cfg := config.Config{
		Model:       "test-model",
		SessionDir:  filepath.Join(dir, "sessions"),
		HistoryPath: filepath.Join(dir, ".history"),
	}
	logger := log.New(io.Discard, "", 0)
	mgr, err := session.NewManager("you are a test assistant", cfg.SessionDir, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return New(client, cfg, mgr, tools, logger, Options{})
}

func TestRespondAppendsUserAndAssistantMessages(t *testing.T) {
	a := newTestAgent(t, mockclient.New())

	response, finish, err := a.respond(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.Contains(response, "hello world") {
		t.Fatalf("expected echo of input, got %q", response)
	}
	if finish != "stop" {
		t.Fatalf("finish reason = %q, want stop", finish)
	}

	msgs := a.sessions.Current().Messages()
	// system + user + assistant
	if len(msgs) != 3 {
		t.Fatalf("session has %d messages, want 3", len(msgs))
	}
	if msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Fatalf("unexpected roles %q, %q", msgs[1].Role, msgs[2].Role)
	}
}

func TestRespondLoopExecutesToolRound(t *testing.T) {
	tool := &recordingTool{name: "lookup"}
	client := mockclient.NewScripted(
		mockclient.ToolCallResponse("call-1", "lookup", "{}"),
		mockclient.TextResponse("all finished"),
	)
	a := newTestAgent(t, client, tool)

	response, _, err := a.respond(context.Background(), "run the lookup")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if response != "all finished" {
		t.Fatalf("response = %q", response)
	}
	if !tool.didRun() {
		t.Fatal("tool never executed")
	}
	if client.Calls() != 2 {
		t.Fatalf("provider called %d times, want 2", client.Calls())
	}

	msgs := a.sessions.Current().Messages()
	var toolMsg *llm.Message
	for i := range msgs {
		if msgs[i].Role == "tool" {
			toolMsg = &msgs[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message recorded")
	}
	if toolMsg.ToolCallID != "call-1" || toolMsg.Content != "tool output" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if a.getTotalTokens() != 15 {
		t.Fatalf("total tokens = %d, want 15", a.getTotalTokens())
	}
}

func TestDeniedToolNeverExecutes(t *testing.T) {
	tool := &recordingTool{name: "shell"}
	client := mockclient.NewScripted(
		mockclient.ToolCallResponse("call-1", "shell", `{"command":"rm -rf /"}`),
		mockclient.TextResponse("understood"),
	)
	a := newTestAgent(t, client, tool)
	a.approval = &approvalController{newLinePrompt(strings.NewReader("n\n"), io.Discard)}

	if _, _, err := a.respond(context.Background(), "wipe everything"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if tool.didRun() {
		t.Fatal("denied tool was executed")
	}

	msgs := a.sessions.Current().Messages()
	found := false
	for _, msg := range msgs {
		if msg.Role == "tool" && strings.Contains(msg.Content, "denied") {
			found = true
		}
	}
	if !found {
		t.Fatal("denial was not reported back to the model")
	}
}

func TestApprovedToolExecutes(t *testing.T) {
	tool := &recordingTool{name: "shell"}
	client := mockclient.NewScripted(
		mockclient.ToolCallResponse("call-1", "shell", `{"command":"ls"}`),
		mockclient.TextResponse("listing done"),
	)
	a := newTestAgent(t, client, tool)
	a.approval = &approvalController{newLinePrompt(strings.NewReader("y\n"), io.Discard)}

	if _, _, err := a.respond(context.Background(), "list files"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !tool.didRun() {
		t.Fatal("approved tool did not execute")
	}
}

// funnelTool simulates the user pressing Ctrl+C while the tool is running.
type funnelTool struct {
	a *Agent
}

func (t *funnelTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{
		Type:     "function",
		Function: tooling.ToolFunction{Name: "long_task", Description: "blocks until cancelled"},
	}
}

func (t *funnelTool) Call(ctx context.Context, _ map[string]any) (string, error) {
	t.a.routeKey(termui.KeyCtrlC)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "never cancelled", nil
	}
}

func TestInterruptDuringToolAbortsTurn(t *testing.T) {
	tool := &funnelTool{}
	client := mockclient.NewScripted(
		mockclient.ToolCallResponse("call-1", "long_task", "{}"),
		mockclient.TextResponse("should not be requested"),
	)
	a := newTestAgent(t, client, tool)
	tool.a = a

	response, _, err := a.respond(context.Background(), "start the long task")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if response != "" {
		t.Fatalf("aborted turn returned %q", response)
	}
	if client.Calls() != 1 {
		t.Fatalf("provider called %d times after abort, want 1", client.Calls())
	}

	msgs := a.sessions.Current().Messages()
	last := msgs[len(msgs)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "interrupted") {
		t.Fatalf("last message = %+v, want interrupted tool result", last)
	}
}

func TestRouteKeyWhileIdleDoesNothing(t *testing.T) {
	a := newTestAgent(t, mockclient.New())

	a.routeKey(termui.KeyCtrlC)
	if a.abort.Tripped() {
		t.Fatal("idle key-press tripped the abort monitor")
	}
}

func TestRouteKeyClearsExitConfirmation(t *testing.T) {
	a := newTestAgent(t, mockclient.New())
	a.stack.EnterState(interrupt.ExitConfirmation)

	a.routeKey(termui.KeyEscape)
	if a.abort.Tripped() {
		t.Fatal("clearing exit confirmation tripped the abort monitor")
	}
	if got := a.stack.CurrentState(); got != interrupt.Idle {
		t.Fatalf("state after clear = %v, want idle", got)
	}
}

func TestAskUserToolRelaysAnswer(t *testing.T) {
	a := newTestAgent(t, mockclient.New())
	a.askUser = &askUserController{newLinePrompt(strings.NewReader("blue\n"), io.Discard)}

	tool := &AskUserTool{agent: a}
	result, err := tool.Call(context.Background(), map[string]any{"question": "favourite colour?"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !strings.Contains(result, `"answer":"blue"`) {
		t.Fatalf("result = %q", result)
	}
}

func TestHandleCommandSessionLifecycle(t *testing.T) {
	a := newTestAgent(t, mockclient.New())

	if exit := a.handleCommand(":new research"); exit {
		t.Fatal(":new requested exit")
	}
	if a.sessions.CurrentName() != "research" {
		t.Fatalf("current session = %q, want research", a.sessions.CurrentName())
	}
	if exit := a.handleCommand(":use nope-not-here"); exit {
		t.Fatal(":use of unknown session requested exit")
	}
	if a.sessions.CurrentName() != "research" {
		t.Fatal("failed :use switched sessions anyway")
	}
	if exit := a.handleCommand(":quit"); !exit {
		t.Fatal(":quit did not request exit")
	}
}

func TestInterruptTrackerWindow(t *testing.T) {
	tracker := newInterruptTracker(50 * time.Millisecond)
	if tracker.secondPress() {
		t.Fatal("first press counted as second")
	}
	if !tracker.secondPress() {
		t.Fatal("rapid second press not detected")
	}
	// Window consumed; the next press starts over.
	if tracker.secondPress() {
		t.Fatal("third press should start a fresh window")
	}
	time.Sleep(60 * time.Millisecond)
	if tracker.secondPress() {
		t.Fatal("press after window expiry counted as second")
	}
}

func TestSummarizeArgs(t *testing.T) {
	if got := summarizeArgs(`{"command":"ls -la"}`); got != "ls -la" {
		t.Fatalf("summarizeArgs = %q", got)
	}
	if got := summarizeArgs(`{"path":"notes.txt","content":"hi"}`); got != "notes.txt" {
		t.Fatalf("summarizeArgs = %q", got)
	}
	if got := summarizeArgs("not json"); got != "" {
		t.Fatalf("summarizeArgs on bad input = %q", got)
	}
}
