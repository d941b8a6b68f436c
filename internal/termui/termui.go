// Package termui owns terminal output. A single goroutine performs every
// write; other goroutines marshal their output through RunOnUI, which keeps
// concurrently animated lines from interleaving mid-escape-sequence.
package termui

import (
	"bytes"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Line is a handle to one rendered output line. It stays valid after the
// line scrolls into history; replacements past the repaint window are
// silently dropped.
type Line struct {
	index int // sequence number of the line within the terminal's output
}

// maxRepaintDepth bounds how far above the cursor a line is still repainted.
// Lines further up are assumed scrolled away or off-screen.
const maxRepaintDepth = 32

type uiTask struct {
	fn   func()
	done chan struct{} // non-nil for blocking hand-offs
}

// Terminal serializes writes onto one UI-owning goroutine.
type Terminal struct {
	mu        sync.Mutex
	w         io.Writer
	lineCount int // lines emitted so far; line handles index into this

	tasks  chan uiTask
	closed chan struct{}
	uiGID  atomic.Uint64
}

// New starts the UI goroutine writing to w.
func New(w io.Writer) *Terminal {
	t := &Terminal{
		w:      w,
		tasks:  make(chan uiTask, 64),
		closed: make(chan struct{}),
	}
	ready := make(chan struct{})
	go t.loop(ready)
	<-ready
	return t
}

func (t *Terminal) loop(ready chan struct{}) {
	t.uiGID.Store(goid())
	close(ready)
	for task := range t.tasks {
		t.runTask(task)
	}
	close(t.closed)
}

func (t *Terminal) runTask(task uiTask) {
	defer func() {
		// A panicking write must not take down the session; the terminal
		// may have been resized or closed underneath us.
		recover()
		if task.done != nil {
			close(task.done)
		}
	}()
	task.fn()
}

// Close drains pending output and stops the UI goroutine.
func (t *Terminal) Close() {
	close(t.tasks)
	<-t.closed
}

// OnUIThread reports whether the caller is the UI-owning goroutine.
func (t *Terminal) OnUIThread() bool {
	return goid() == t.uiGID.Load()
}

// RunOnUI executes fn on the UI goroutine. When the caller already is the UI
// goroutine, fn runs in place. With blocking set, the caller waits until fn
// has completed; otherwise the work is scheduled and RunOnUI returns at once.
func (t *Terminal) RunOnUI(fn func(), blocking bool) {
	if t.OnUIThread() {
		fn()
		return
	}
	task := uiTask{fn: fn}
	if blocking {
		task.done = make(chan struct{})
	}
	select {
	case t.tasks <- task:
	case <-t.closed:
		return
	}
	if task.done != nil {
		select {
		case <-task.done:
		case <-t.closed:
		}
	}
}

// InsertLine appends a line of content and returns its handle. Must be
// called on the UI goroutine (use RunOnUI).
func (t *Terminal) InsertLine(content string) *Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, content)
	t.lineCount += countLines(content)
	return &Line{index: t.lineCount - 1}
}

// ReplaceLine repaints the given line in place. Must be called on the UI
// goroutine. Replacements targeting lines beyond the repaint window are
// dropped rather than risking a garbled scrollback.
func (t *Terminal) ReplaceLine(line *Line, content string) {
	if line == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	up := t.lineCount - line.index
	if up <= 0 || up > maxRepaintDepth {
		return
	}
	var b bytes.Buffer
	b.WriteString("\x1b[" + strconv.Itoa(up) + "A") // cursor up
	b.WriteString("\r\x1b[2K")                      // clear target line
	b.WriteString(content)
	b.WriteString("\x1b[" + strconv.Itoa(up) + "B\r") // back down
	t.w.Write(b.Bytes())
}

// Print writes content into the scrollback without returning a handle.
// Must be called on the UI goroutine.
func (t *Terminal) Print(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, content)
	t.lineCount += countLines(content)
}

func countLines(content string) int {
	return 1 + strings.Count(content, "\n")
}

// goid extracts the current goroutine id from the runtime stack header
// ("goroutine N [running]:"). It is only used to detect re-entry onto the
// UI goroutine so a blocking hand-off cannot deadlock against itself.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
