package agent

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"sidekick/internal/interrupt"
)

// blockingReader never delivers data until closed.
type blockingReader struct {
	unblock chan struct{}
}

func newBlockingReader() *blockingReader {
	return &blockingReader{unblock: make(chan struct{})}
}

func (r *blockingReader) Read(_ []byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestLinePromptReturnsAnswer(t *testing.T) {
	p := newLinePrompt(strings.NewReader("  sure thing  \n"), io.Discard)
	answer, err := p.Ask("ok? ")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "sure thing" {
		t.Fatalf("answer = %q", answer)
	}
	if p.Active() {
		t.Fatal("prompt still active after answer")
	}
}

func TestLinePromptCancelUnblocksAsk(t *testing.T) {
	reader := newBlockingReader()
	defer close(reader.unblock)
	p := newLinePrompt(reader, io.Discard)

	done := make(chan error, 1)
	go func() {
		_, err := p.Ask("waiting? ")
		done <- err
	}()

	waitActive(t, p)
	p.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, errPromptCancelled) {
			t.Fatalf("Ask returned %v, want errPromptCancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Ask did not unblock after Cancel")
	}
	if p.Active() {
		t.Fatal("prompt still active after cancel")
	}
}

func TestLinePromptKeepsBufferedInputAcrossAsks(t *testing.T) {
	// Both lines land in the reader's buffer on the first read; the second
	// must still be there for the second question.
	p := newLinePrompt(strings.NewReader("first answer\nsecond answer\n"), io.Discard)

	if answer, err := p.Ask("one? "); err != nil || answer != "first answer" {
		t.Fatalf("first Ask = %q, %v", answer, err)
	}
	if answer, err := p.Ask("two? "); err != nil || answer != "second answer" {
		t.Fatalf("second Ask = %q, %v", answer, err)
	}
}

func TestLinePromptLineTypedAfterCancelDoesNotAnswerNextAsk(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := newLinePrompt(r, io.Discard)

	done := make(chan error, 1)
	go func() {
		_, err := p.Ask("waiting? ")
		done <- err
	}()
	waitActive(t, p)
	p.Cancel()
	if err := <-done; !errors.Is(err, errPromptCancelled) {
		t.Fatalf("Ask returned %v, want errPromptCancelled", err)
	}

	// The user finishes typing anyway; that line answered a question that
	// no longer exists.
	if _, err := w.Write([]byte("stale\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	answers := make(chan string, 1)
	go func() {
		answer, err := p.Ask("next? ")
		if err != nil {
			t.Errorf("Ask: %v", err)
		}
		answers <- answer
	}()
	waitActive(t, p)
	if _, err := w.Write([]byte("fresh\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case answer := <-answers:
		if answer != "fresh" {
			t.Fatalf("answer = %q, want the post-cancel line discarded", answer)
		}
	case <-time.After(time.Second):
		t.Fatal("second Ask never answered")
	}
}

func TestApprovalRequiresExplicitYes(t *testing.T) {
	stack := interrupt.NewStack(nil)
	cases := map[string]bool{
		"y\n":     true,
		"yes\n":   true,
		"Y\n":     true,
		"\n":      false,
		"n\n":     false,
		"maybe\n": false,
	}
	for input, want := range cases {
		c := &approvalController{newLinePrompt(strings.NewReader(input), io.Discard)}
		if got := c.Approve(stack, "shell", "ls"); got != want {
			t.Fatalf("Approve with input %q = %v, want %v", input, got, want)
		}
	}
}

func TestApprovalStateVisibleWhilePending(t *testing.T) {
	stack := interrupt.NewStack(nil)
	reader := newBlockingReader()
	defer close(reader.unblock)
	c := &approvalController{newLinePrompt(reader, io.Discard)}
	stack.RegisterController(c)

	done := make(chan bool, 1)
	go func() { done <- c.Approve(stack, "write_file", "notes.txt") }()

	waitActive(t, c.linePrompt)
	if got := stack.CurrentState(); got != interrupt.ApprovalPrompt {
		t.Fatalf("state while pending = %v, want approval_prompt", got)
	}

	// A cancel key-press reaches the controller through the stack and
	// counts as a denial.
	if !stack.HandleInterrupt() {
		t.Fatal("pending approval did not consume the key-press")
	}
	if approved := <-done; approved {
		t.Fatal("cancelled approval reported as approved")
	}
	if got := stack.CurrentState(); got != interrupt.Idle {
		t.Fatalf("state after cancel = %v, want idle", got)
	}
}

func TestModelPickerSelection(t *testing.T) {
	stack := interrupt.NewStack(nil)
	models := []string{"alpha", "beta", "gamma"}

	pick := func(input string) (string, error) {
		c := &modelPickerController{newLinePrompt(strings.NewReader(input), io.Discard)}
		return c.Pick(stack, models, "beta")
	}

	if got, err := pick("2\n"); err != nil || got != "beta" {
		t.Fatalf("pick by index = %q, %v", got, err)
	}
	if got, err := pick("gamma\n"); err != nil || got != "gamma" {
		t.Fatalf("pick by name = %q, %v", got, err)
	}
	if _, err := pick("7\n"); err == nil {
		t.Fatal("out-of-range index accepted")
	}
	if _, err := pick("\n"); !errors.Is(err, errPromptCancelled) {
		t.Fatalf("empty answer = %v, want errPromptCancelled", err)
	}
}

func waitActive(t *testing.T, p *linePrompt) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Active() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("prompt never became active")
}
