package termui

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/term"
)

// Key identifies an interrupt-relevant key press seen by the watcher.
type Key int

const (
	KeyEscape Key = iota
	KeyCtrlC
)

// WatchKeys puts the terminal attached to fd into raw mode and forwards
// ESC and Ctrl+C presses to handler until the returned stop function is
// called. The handler runs on the watcher goroutine, so it must be safe to
// call concurrently with whatever work is in flight; that is the point.
//
// While go-prompt owns the terminal during input, the agent is idle; the
// watcher runs only while a prompt is being processed and input would
// otherwise be ignored.
func WatchKeys(fd int, handler func(Key)) (stop func(), err error) {
	prev, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	stopRead, err := watchFD(fd, handler)
	if err != nil {
		_ = term.Restore(fd, prev)
		return nil, err
	}
	return func() {
		stopRead()
		_ = term.Restore(fd, prev)
	}, nil
}

// watchFD runs the reader on a duplicate of fd placed in non-blocking mode
// and registered with the runtime poller, so stop can expire a read deadline
// to force a pending Read to return and then wait for the goroutine to exit.
// Without that exit path a stopped watcher would stay blocked on the
// descriptor and swallow the next keypress meant for its successor.
//
// The duplicate shares its file description with fd, so stop restores
// blocking mode on fd before handing the descriptor back to line input.
func watchFD(fd int, handler func(Key)) (stop func(), err error) {
	dup, err := syscall.Dup(fd)
	if err != nil {
		return nil, err
	}
	if err := syscall.SetNonblock(dup, true); err != nil {
		_ = syscall.Close(dup)
		return nil, err
	}
	f := os.NewFile(uintptr(dup), "terminal")

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 8)
		for {
			n, err := f.Read(buf)
			if err != nil {
				return
			}
			for i := 0; i < n; i++ {
				switch buf[i] {
				case 0x03:
					handler(KeyCtrlC)
				case 0x1b:
					// A bare ESC; swallow the rest of a CSI sequence so
					// arrow keys do not fire the interrupt funnel.
					if i+1 < n && (buf[i+1] == '[' || buf[i+1] == 'O') {
						i = n
						continue
					}
					handler(KeyEscape)
				}
			}
		}
	}()

	return func() {
		_ = f.SetReadDeadline(time.Now())
		<-done
		_ = f.Close()
		_ = syscall.SetNonblock(fd, false)
	}, nil
}
