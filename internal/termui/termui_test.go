package termui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer for cross-goroutine assertions.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInsertLineWritesContent(t *testing.T) {
	buf := &syncBuffer{}
	term := New(buf)
	defer term.Close()

	var line *Line
	term.RunOnUI(func() {
		line = term.InsertLine("hello")
	}, true)

	if line == nil {
		t.Fatal("InsertLine returned nil handle")
	}
	if got := buf.String(); got != "hello\n" {
		t.Fatalf("output = %q, want %q", got, "hello\n")
	}
}

func TestRunOnUIBlockingCompletesBeforeReturn(t *testing.T) {
	term := New(&syncBuffer{})
	defer term.Close()

	ran := false
	term.RunOnUI(func() { ran = true }, true)
	if !ran {
		t.Fatal("blocking RunOnUI returned before fn executed")
	}
}

func TestRunOnUIFromUIThreadRunsInPlace(t *testing.T) {
	term := New(&syncBuffer{})
	defer term.Close()

	var nested bool
	term.RunOnUI(func() {
		// Re-entering with blocking=true from the UI goroutine must not
		// deadlock.
		term.RunOnUI(func() { nested = true }, true)
	}, true)
	if !nested {
		t.Fatal("nested RunOnUI did not execute")
	}
}

func TestRunOnUINonBlockingEventuallyRuns(t *testing.T) {
	term := New(&syncBuffer{})

	done := make(chan struct{})
	term.RunOnUI(func() { close(done) }, false)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("non-blocking task never ran")
	}
	term.Close()
}

func TestReplaceLineRepaintsTarget(t *testing.T) {
	buf := &syncBuffer{}
	term := New(buf)
	defer term.Close()

	var first *Line
	term.RunOnUI(func() {
		first = term.InsertLine("spinner")
		term.InsertLine("below")
		term.ReplaceLine(first, "done")
	}, true)

	out := buf.String()
	// Two lines up (the "below" line sits beneath the spinner line).
	if !strings.Contains(out, "\x1b[2A") {
		t.Errorf("expected cursor-up escape for depth 2 in %q", out)
	}
	if !strings.Contains(out, "done") {
		t.Errorf("replacement content missing from %q", out)
	}
}

func TestReplaceLineBeyondWindowDropped(t *testing.T) {
	buf := &syncBuffer{}
	term := New(buf)
	defer term.Close()

	var first *Line
	term.RunOnUI(func() {
		first = term.InsertLine("old")
		for i := 0; i < maxRepaintDepth+5; i++ {
			term.InsertLine("filler")
		}
	}, true)

	before := buf.String()
	term.RunOnUI(func() {
		term.ReplaceLine(first, "should not render")
	}, true)

	if got := buf.String(); got != before {
		t.Errorf("replacement beyond repaint window still wrote output")
	}
}

func TestPanicInTaskDoesNotKillLoop(t *testing.T) {
	buf := &syncBuffer{}
	term := New(buf)
	defer term.Close()

	term.RunOnUI(func() { panic("sink unavailable") }, true)

	// The loop must still be alive and serving tasks.
	term.RunOnUI(func() { term.Print("still alive") }, true)
	if !strings.Contains(buf.String(), "still alive") {
		t.Fatal("UI loop died after panicking task")
	}
}

func TestConcurrentWritersDoNotInterleave(t *testing.T) {
	buf := &syncBuffer{}
	term := New(buf)
	defer term.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				term.RunOnUI(func() { term.Print("aaaaaaaaaa") }, true)
			}
		}()
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line != "aaaaaaaaaa" {
			t.Fatalf("interleaved line %q", line)
		}
	}
}
