package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"sidekick/internal/interrupt"
	"sidekick/internal/tooling"
)

var errPromptCancelled = errors.New("prompt cancelled")

// linePrompt asks a one-line question on the terminal and blocks until an
// answer or a cancel arrives. It implements interrupt.Controller, so a
// cancel key-press routed through the stack unblocks Ask immediately.
//
// One reader goroutine serves every Ask, so input the reader buffered past
// the current line stays available for the next question instead of being
// dropped with a throwaway reader.
type linePrompt struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	active  bool
	cancel  chan struct{}
	gen     int
	reads   chan readResult
	started bool
}

type readResult struct {
	line string
	err  error
	gen  int
}

func newLinePrompt(in io.Reader, out io.Writer) *linePrompt {
	return &linePrompt{in: in, out: out}
}

func (p *linePrompt) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *linePrompt) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	close(p.cancel)
}

// Ask prints question and waits for a line of input. A cancel returns
// errPromptCancelled without unblocking the pending read; a line typed
// anyway after the cancel belongs to the dismissed question and is not
// allowed to answer the next one.
func (p *linePrompt) Ask(question string) (string, error) {
	p.mu.Lock()
	p.active = true
	p.cancel = make(chan struct{})
	cancelled := p.cancel
	gen := p.gen
	p.startReaderLocked()
	p.mu.Unlock()

	fmt.Fprint(p.out, question)

	for {
		select {
		case res := <-p.reads:
			if res.gen < gen {
				continue
			}
			p.deactivate()
			if res.err != nil && res.line == "" {
				return "", res.err
			}
			return strings.TrimSpace(res.line), nil
		case <-cancelled:
			fmt.Fprintln(p.out)
			p.mu.Lock()
			p.gen++
			p.mu.Unlock()
			return "", errPromptCancelled
		}
	}
}

// startReaderLocked launches the shared reader goroutine on first use.
// Each read is stamped with the generation current when it began, so a
// read that was already in flight when a cancel bumped the generation is
// recognizably stale.
func (p *linePrompt) startReaderLocked() {
	if p.started {
		return
	}
	p.started = true
	p.reads = make(chan readResult, 1)
	r := bufio.NewReader(p.in)
	go func() {
		for {
			p.mu.Lock()
			gen := p.gen
			p.mu.Unlock()
			line, err := r.ReadString('\n')
			// Keep serving after an error; an exhausted input keeps
			// reporting it to later Asks. The send blocks until someone
			// listens, so a dead input does not spin.
			p.reads <- readResult{line: line, err: err, gen: gen}
		}
	}()
}

func (p *linePrompt) deactivate() {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
}

// approvalController gates destructive tool calls behind an explicit yes.
type approvalController struct {
	*linePrompt
}

// Approve asks the user to allow one tool call. Anything other than an
// explicit yes, including a cancel key-press, counts as a denial.
func (c *approvalController) Approve(stack *interrupt.Stack, toolName, detail string) bool {
	stack.EnterState(interrupt.ApprovalPrompt, interrupt.WithController(c))
	defer stack.ExitState()

	question := fmt.Sprintf("Allow %s?", toolName)
	if detail != "" {
		question += " " + detail
	}
	answer, err := c.Ask(question + " [y/N] ")
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

// askUserController relays a clarifying question from the model to the user.
type askUserController struct {
	*linePrompt
}

func (c *askUserController) Question(stack *interrupt.Stack, question string) (string, error) {
	stack.EnterState(interrupt.AskUserPrompt, interrupt.WithController(c))
	defer stack.ExitState()
	return c.Ask(question + "\n> ")
}

// modelPickerController presents a numbered model list.
type modelPickerController struct {
	*linePrompt
}

// Pick shows the choices and returns the selected model. The answer may be
// an index into the list or a literal model name.
func (c *modelPickerController) Pick(stack *interrupt.Stack, models []string, current string) (string, error) {
	stack.EnterState(interrupt.ModelPicker, interrupt.WithController(c))
	defer stack.ExitState()

	fmt.Fprintln(c.out, "Available models:")
	for i, model := range models {
		marker := " "
		if model == current {
			marker = "*"
		}
		fmt.Fprintf(c.out, " %s %d) %s\n", marker, i+1, model)
	}

	answer, err := c.Ask("model> ")
	if err != nil {
		return "", err
	}
	if answer == "" {
		return "", errPromptCancelled
	}
	if idx, err := strconv.Atoi(answer); err == nil {
		if idx < 1 || idx > len(models) {
			return "", fmt.Errorf("choice %d out of range", idx)
		}
		return models[idx-1], nil
	}
	return answer, nil
}

// AskUserTool lets the model pause a turn and put a question to the user.
type AskUserTool struct {
	agent *Agent
}

func (t *AskUserTool) Definition() tooling.ToolDefinition {
	return tooling.ToolDefinition{
		Type: "function",
		Function: tooling.ToolFunction{
			Name:        "ask_user",
			Description: "Ask the user a clarifying question and wait for their answer. Use sparingly, only when the request cannot be completed without more information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to put to the user",
					},
				},
				"required": []string{"question"},
			},
		},
	}
}

func (t *AskUserTool) Call(ctx context.Context, args map[string]any) (string, error) {
	raw, ok := args["question"]
	if !ok {
		return "", fmt.Errorf("question is required")
	}
	question, ok := raw.(string)
	if !ok || strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("question must be a non-empty string")
	}

	answer, err := t.agent.askUser.Question(t.agent.stack, strings.TrimSpace(question))
	if err != nil {
		if errors.Is(err, errPromptCancelled) {
			return "(the user dismissed the question without answering)", nil
		}
		return "", err
	}
	if answer == "" {
		return "(the user gave no answer)", nil
	}
	payload, err := json.Marshal(map[string]string{"answer": answer})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
