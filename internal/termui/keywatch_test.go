package termui

import (
	"os"
	"runtime"
	"testing"
	"time"
)

func startWatch(t *testing.T) (*os.File, *os.File, chan Key, func()) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	keys := make(chan Key, 8)
	stop, err := watchFD(int(r.Fd()), func(k Key) { keys <- k })
	if err != nil {
		t.Fatalf("watchFD: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return r, w, keys, stop
}

func expectKey(t *testing.T, keys chan Key, want Key) {
	t.Helper()
	select {
	case got := <-keys:
		if got != want {
			t.Fatalf("key = %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("key %v never delivered", want)
	}
}

func TestWatchFDForwardsKeys(t *testing.T) {
	_, w, keys, stop := startWatch(t)
	defer stop()

	w.Write([]byte{0x03})
	expectKey(t, keys, KeyCtrlC)

	w.Write([]byte{0x1b})
	expectKey(t, keys, KeyEscape)

	// An arrow key arrives as a CSI sequence and must not fire.
	w.Write([]byte{0x1b, '[', 'A'})
	select {
	case got := <-keys:
		t.Fatalf("CSI sequence delivered %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchFDStopUnblocksIdleReader(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		stop, err := watchFD(int(r.Fd()), func(Key) {})
		if err != nil {
			t.Fatalf("watchFD: %v", err)
		}
		// No bytes were written, so the reader is parked in Read.
		stop()
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if after := runtime.NumGoroutine(); after > before {
		t.Fatalf("goroutines after 10 watch cycles = %d, started with %d", after, before)
	}
}

func TestWatchFDStoppedWatcherDoesNotStealInput(t *testing.T) {
	r, w, keys, stop := startWatch(t)
	stop()

	w.Write([]byte{0x03})
	select {
	case got := <-keys:
		t.Fatalf("stopped watcher delivered %v", got)
	case <-time.After(50 * time.Millisecond):
	}

	// The byte must still be on the descriptor for the next reader.
	buf := make([]byte, 1)
	n, err := r.Read(buf)
	if err != nil || n != 1 || buf[0] != 0x03 {
		t.Fatalf("Read after stop = %d bytes, err %v", n, err)
	}
}
