package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"sidekick/internal/interrupt"
	"sidekick/internal/llm"
	"sidekick/internal/logging"
	"sidekick/internal/progress"
	"sidekick/internal/session"
)

// toolNeedsApproval lists tools that mutate the workspace or run arbitrary
// commands and so require an explicit yes before executing.
var toolNeedsApproval = map[string]bool{
	"shell":      true,
	"write_file": true,
}

// maxToolResultSize caps what one tool result may contribute to context.
const maxToolResultSize = 50000

// runToolCalls executes one round of tool calls and appends their results
// to the session. A single call runs inline; several run concurrently, each
// with its own spinner. The bool reports whether the round was aborted by
// the user.
func (a *Agent) runToolCalls(ctx context.Context, sess *session.Session, calls []llm.ToolCall) (bool, error) {
	a.abort.Reset()

	// Approvals happen up front, before raw mode, so the terminal still
	// line-buffers the answer.
	denied := make(map[string]bool)
	for _, call := range calls {
		if !toolNeedsApproval[call.Function.Name] {
			continue
		}
		if !a.approval.Approve(a.stack, call.Function.Name, summarizeArgs(call.Function.Arguments)) {
			denied[call.ID] = true
		}
	}

	state := interrupt.ProcessingTool
	if len(calls) > 1 {
		state = interrupt.ProcessingParallelTools
	}
	names := make([]string, len(calls))
	for i, call := range calls {
		names[i] = call.Function.Name
	}
	a.stack.EnterState(state, interrupt.WithToolNames(names...))
	defer a.stack.ExitState()

	a.startKeyWatch()
	defer a.stopKeyWatch()

	toolCtx, cancel := context.WithCancel(ctx)
	a.setInFlightCancel(cancel)
	defer func() {
		a.clearInFlightCancel()
		cancel()
	}()

	results := make([]llm.Message, len(calls))
	if len(calls) == 1 {
		results[0] = a.execToolCall(toolCtx, calls[0], denied[calls[0].ID])
	} else {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call llm.ToolCall) {
				defer wg.Done()
				results[i] = a.execToolCall(toolCtx, call, denied[call.ID])
			}(i, call)
		}
		wg.Wait()
	}

	for _, msg := range results {
		sess.Append(msg)
	}
	if err := a.sessions.Save(sess); err != nil {
		return false, fmt.Errorf("save tool results: %w", err)
	}
	return a.abort.Tripped(), nil
}

func (a *Agent) execToolCall(ctx context.Context, call llm.ToolCall, denied bool) llm.Message {
	name := call.Function.Name
	msg := llm.Message{Role: "tool", Name: name, ToolCallID: call.ID}

	if denied {
		msg.Content = fmt.Sprintf("user denied execution of %s", name)
		logging.UserLog("denied tool: %s", name)
		return msg
	}

	tool, ok := a.tools.Lookup(name)
	if !ok {
		msg.Content = fmt.Sprintf("tool %s not registered", name)
		logging.ErrorLog(msg.Content)
		return msg
	}
	args := map[string]any{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			msg.Content = fmt.Sprintf("invalid args for %s: %v", name, err)
			logging.ErrorLog(msg.Content)
			return msg
		}
	}

	spin, live := a.startSpinner(name, progress.Tool, 0)
	start := time.Now()
	result, err := tool.Call(ctx, args)
	dur := time.Since(start).Round(time.Millisecond)

	switch {
	case ctx.Err() != nil || a.abort.Tripped():
		if live {
			a.spinners.Interrupt(spin)
			a.stack.RemoveSpinnerID(spin)
		}
		msg.Content = fmt.Sprintf("%s was interrupted by the user before completing", name)
		logging.UserLog("tool %s interrupted after %s", name, dur)
	case err != nil:
		if live {
			a.spinners.Stop(spin, false, trimError(err))
			a.stack.RemoveSpinnerID(spin)
		}
		msg.Content = fmt.Sprintf("tool error: %v", err)
		logging.ErrorLog("tool %s failed after %s: %v", name, dur, err)
	default:
		if len(result) > maxToolResultSize {
			result = result[:maxToolResultSize] + fmt.Sprintf("\n\n[TRUNCATED: result too large, showing first %d chars]", maxToolResultSize)
		}
		if live {
			a.spinners.Stop(spin, true, fmt.Sprintf("%d bytes in %s", len(result), dur))
			a.stack.RemoveSpinnerID(spin)
		}
		msg.Content = result
		logging.DevLog("tool %s completed: %d bytes in %s", name, len(result), dur)
	}
	return msg
}

// summarizeArgs renders tool arguments compactly for the approval prompt.
func summarizeArgs(raw string) string {
	if raw == "" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return ""
	}
	for _, key := range []string{"command", "path"} {
		if val, ok := args[key]; ok {
			summary := fmt.Sprintf("%v", val)
			if len(summary) > 80 {
				summary = summary[:80] + "..."
			}
			return summary
		}
	}
	return ""
}
